// Package cmd defines the CLI commands for the kibblewatch executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kibblewatch",
		Short: "A polite, resumable crawler for retail dog food catalogs.",
		Long: `kibblewatch walks a retail site's dog food search results, scrapes each
product page for its ingredient list and classifies the food against a
set of ingredient rules. Results land in Postgres exactly once per
product; repeat runs only pick up what is new.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./kibblewatch.yaml)")
	cmd.AddCommand(newCrawlCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
