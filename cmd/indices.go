package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"inquest/mapping"
)

// newIndicesCmd inspects the backing indices per data type: existence, field
// mappings and document counts.
func newIndicesCmd() *cobra.Command {
	var showMapping bool
	cmd := &cobra.Command{
		Use:   "indices [data-type]",
		Short: "Inspect backend indices for the known data types",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.logger.Sync()

			ctx, cancel := context.WithTimeout(cmd.Context(), cliTimeout)
			defer cancel()

			types := mapping.DataTypes()
			if len(args) == 1 {
				dt := mapping.NormalizeDataType(args[0])
				types = types[:0]
				types = append(types, dt)
			}

			matchAll := map[string]any{"query": map[string]any{"match_all": map[string]any{}}}

			headerColor.Println("Indices")
			for _, dt := range types {
				pattern := mapping.IndexPattern(dt)

				exists, err := rt.backend.IndexExists(ctx, pattern)
				if err != nil {
					return err
				}
				if !exists {
					fmt.Printf("  %-18s %-40s %s\n", dt, pattern, dimColor.Sprint("absent"))
					continue
				}

				count, err := rt.backend.Count(ctx, pattern, matchAll)
				if err != nil {
					return err
				}
				fmt.Printf("  %-18s %-40s %d docs\n", dt, pattern, count)

				if showMapping {
					m, err := rt.backend.GetMapping(ctx, pattern)
					if err != nil {
						return err
					}
					for name := range m {
						infoColor.Printf("    %s\n", name)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showMapping, "mappings", false, "Also list the concrete indices behind each pattern")
	return cmd
}
