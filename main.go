// Package main is the entry point for the inquest query engine.
package main

import (
	"fmt"
	"os"

	"inquest/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
