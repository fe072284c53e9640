// Package cmd defines the carcrawler CLI commands.
package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/car-listing-crawler/internal/app"
	"github.com/JakeFAU/car-listing-crawler/internal/crawler"
)

type crawlOptions struct {
	maxPages      int
	filtersFile   string
	followDetails bool
}

func newCrawlCmd() *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl [target]",
		Short: "Crawl a listing target",
		Long: fmt.Sprintf(`Walks the listing pages of a target (default %q; known: %s),
storing every complete record in the configured sink. Interrupting the crawl
stops it between pages and still prints the run summary.`, app.DefaultTarget, strings.Join(app.Targets(), ", ")),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := app.DefaultTarget
			if len(args) == 1 {
				target = args[0]
			}
			return runCrawl(cmd, target, opts)
		},
	}
	cmd.Flags().IntVar(&opts.maxPages, "max-pages", 0, "maximum listing pages to visit (0 defers to the filters file, then config)")
	cmd.Flags().StringVar(&opts.filtersFile, "filters", "", "filters JSON file (default from config crawl.filters_file)")
	cmd.Flags().BoolVar(&opts.followDetails, "follow-details", false, "fetch detail pages for cards missing price or mileage")
	return cmd
}

func runCrawl(cmd *cobra.Command, target string, opts *crawlOptions) error {
	if opts.maxPages < 0 {
		return fmt.Errorf("--max-pages must be >= 0")
	}
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer appInstance.Close(context.WithoutCancel(cmd.Context()))

	summary, err := appInstance.Run(cmd.Context(), app.RunOptions{
		Target:        target,
		MaxPages:      opts.maxPages,
		FiltersFile:   opts.filtersFile,
		FollowDetails: opts.followDetails,
	})
	if err != nil {
		return fmt.Errorf("crawl %s: %w", target, err)
	}
	if summary.Status == crawler.StatusAborted {
		appInstance.Logger().Warn("Crawl stopped early after repeated page failures", zap.String("run_id", summary.RunID))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "run %s %s: %d pages, %d items stored, %d dropped (%.1f%% success)\n",
		summary.RunID, summary.Status, summary.PagesProcessed, summary.ItemsProcessed, summary.ItemsDropped, summary.SuccessRate)
	return nil
}
