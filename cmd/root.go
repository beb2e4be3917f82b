// Package cmd provides the command-line interface: the API server and
// one-shot query, parse, and investigate commands.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"inquest/api"
	"inquest/backend"
	"inquest/config"
	"inquest/executor"
	"inquest/llm"
	"inquest/parser"
)

var (
	configFile string
	outputJSON bool
	noColor    bool
)

// Default context timeout for one-shot CLI commands.
const cliTimeout = 2 * time.Minute

// NewRootCmd builds the CLI tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "inquest",
		Short: "Natural-language query engine for security event data",
		Long: `Inquest translates natural-language questions into structured search
queries, executes them against the event store, and runs multi-stage
incident investigations.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newQueryCmd())
	rootCmd.AddCommand(newParseCmd())
	rootCmd.AddCommand(newInvestigateCmd())
	rootCmd.AddCommand(newIndicesCmd())

	return rootCmd
}

// runtime holds the wired components shared by every command.
type runtime struct {
	cfg      *config.Config
	logger   *zap.SugaredLogger
	backend  *backend.Client
	parser   *parser.Parser
	executor *executor.Executor
}

func setup() (*runtime, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	var completer llm.Completer
	if cfg.LLM.Enabled {
		completer = llm.New(&llm.Config{
			APIKey:            cfg.LLM.APIKey,
			BaseURL:           cfg.LLM.BaseURL,
			Model:             cfg.LLM.Model,
			Temperature:       cfg.LLM.Temperature,
			RequestsPerSecond: cfg.LLM.RequestsPerSecond,
			Logger:            logger,
		})
	}

	be, err := backend.New(&backend.Config{
		Addresses:       cfg.Backend.Addresses,
		Username:        cfg.Backend.Username,
		Password:        cfg.Backend.Password,
		InsecureSkipTLS: cfg.Backend.InsecureSkipTLS,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("backend client: %w", err)
	}

	exec := executor.New(be, &executor.Config{
		CacheSize: cfg.Investigation.CacheSize,
		CacheTTL:  cfg.Investigation.CacheTTL,
		Logger:    logger,
	})

	return &runtime{
		cfg:      cfg,
		logger:   logger,
		backend:  be,
		parser:   parser.New(completer, logger),
		executor: exec,
	}, nil
}

func newLogger(level string) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.logger.Sync()

			server := api.NewServer(rt.parser, rt.executor, rt.backend, rt.logger)
			addr := net.JoinHostPort(rt.cfg.API.Host, strconv.Itoa(rt.cfg.API.Port))
			httpServer := &http.Server{
				Addr:         addr,
				Handler:      server.Handler(),
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 5 * time.Minute,
			}

			errCh := make(chan error, 1)
			go func() {
				rt.logger.Infow("api server listening", "addr", addr)
				errCh <- httpServer.ListenAndServe()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case sig := <-sigCh:
				rt.logger.Infow("shutting down", "signal", sig.String())
				ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				if err := httpServer.Shutdown(ctx); err != nil {
					return fmt.Errorf("shutdown: %w", err)
				}
			}
			return nil
		},
	}
}

func newQueryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query <question>",
		Short: "Parse a natural-language question and execute it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.logger.Sync()

			ctx, cancel := context.WithTimeout(cmd.Context(), cliTimeout)
			defer cancel()

			spec, err := rt.parser.Parse(ctx, args[0])
			if err != nil {
				return err
			}

			sp := startSpinner("Executing query...")
			result, err := rt.executor.Execute(ctx, spec)
			stopSpinner(sp)
			if err != nil {
				return err
			}

			if outputJSON {
				return printJSON(map[string]any{"spec": spec, "result": result})
			}
			printSpec(spec)
			printResult(result)
			return nil
		},
	}
}

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <question>",
		Short: "Parse a natural-language question without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.logger.Sync()

			ctx, cancel := context.WithTimeout(cmd.Context(), cliTimeout)
			defer cancel()

			spec, err := rt.parser.Parse(ctx, args[0])
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(spec)
			}
			printSpec(spec)
			return nil
		},
	}
}

func newInvestigateCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "investigate <incident-id>",
		Short: "Run the full investigation workflow for an incident",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup()
			if err != nil {
				return err
			}
			defer rt.logger.Sync()

			ctx, cancel := context.WithTimeout(cmd.Context(), cliTimeout)
			defer cancel()

			sp := startSpinner(fmt.Sprintf("Investigating incident %s...", args[0]))
			bundle, err := rt.executor.ExecuteInvestigation(ctx, args[0], force)
			stopSpinner(sp)
			if err != nil {
				return err
			}

			if outputJSON {
				return printJSON(bundle)
			}
			printBundle(bundle)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Bypass the investigation cache")
	return cmd
}

func startSpinner(message string) *spinner.Spinner {
	if outputJSON {
		return nil
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	s.Start()
	return s
}

func stopSpinner(s *spinner.Spinner) {
	if s != nil {
		s.Stop()
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
