package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/archive-indexer/internal/app"
)

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl <listing-url>",
		Short: "Crawls a work listing and indexes every new story",
		Long: `Walks the listing starting at the given URL page by page, scraping each
story not yet stored and indexing its chapters. The index is committed once
when the crawl ends; any failure rolls the whole index batch back.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, e.cfg, e.logger)
			if err != nil {
				return fmt.Errorf("init services: %w", err)
			}
			defer a.Close()

			res, err := a.Crawl(ctx, args[0])
			if err != nil {
				return fmt.Errorf("crawl %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %s chapters (%s dropped), index generation %d\n",
				humanize.Comma(res.Indexed), humanize.Comma(res.Dropped), res.Generation)
			return nil
		},
	}
}
