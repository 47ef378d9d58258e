// Package main is the offline simulator: it plays seeded tables with heuristic
// agents and re-verifies persisted games.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "simulator",
	Short:         "Run and verify autonomous mafia tables",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
