package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kibblewatch/crawler/internal/app"
	"github.com/kibblewatch/crawler/internal/config"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs one full crawl
// of the configured site and exits.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl of the configured catalog",
		Long: `Fetches the first page of search results to size the run, seeds one
listing job per results page and drains the queue through the worker
pool. The run is skipped when the catalog has not grown since the last
recorded run unless --force is given.`,
		RunE: runCrawlCommand,
	}
	cmd.Flags().Bool("force", false, "crawl even if the catalog has not grown")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if force, _ := cmd.Flags().GetBool("force"); force {
		cfg.Crawler.Force = true
	}

	a, err := app.Build(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer a.Close()

	if err := a.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawl: %w", err)
	}
	return nil
}
