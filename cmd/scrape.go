package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"rentwatch/browser"
	"rentwatch/config"
	"rentwatch/models"
	"rentwatch/scraper"
	"rentwatch/scraper/availability"
	"rentwatch/scraper/extract"
	"rentwatch/services"
)

var scrapeOnly string

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape configured sources and record today's prices",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		sources, err := loadSources()
		if err != nil {
			return err
		}

		st, err := initStore()
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		ing := services.NewIngestor(st, logger)
		eval := services.NewEvaluator(st, logger)
		ing.OnRecord(func(ctx context.Context, rec services.RecordedPrice) {
			if err := eval.Evaluate(ctx, rec.UnitID, rec.Price, rec.Date); err != nil {
				logger.Errorf("[alerts] Evaluation for unit %d failed: %v", rec.UnitID, err)
			}
		})

		session := browser.NewSession(cfg.ChromeBin, logger)
		defer session.Close()

		fetcher := scraper.NewBrowserFetcher(session, time.Duration(cfg.NavTimeoutSec)*time.Second, logger)
		pipeline := scraper.NewPipeline(fetcher, extract.New(logger), ing, availability.New(logger), scraper.Options{
			MaxConcurrency: cfg.MaxConcurrency,
			MaxRetries:     cfg.MaxRetries,
			RetryBase:      2 * time.Second,
			RateLimit:      time.Duration(cfg.RateLimitMs) * time.Millisecond,
			SourceBudget:   time.Duration(cfg.ScrapeBudgetSec) * time.Second,
		}, logger)

		summary, err := scraper.NewRunner(pipeline).Run(ctx, sources)
		if err != nil {
			return eris.Wrap(err, "scrape")
		}

		formatSummary(os.Stdout, summary)
		return nil
	},
}

func init() {
	scrapeCmd.Flags().StringVar(&scrapeOnly, "source", "", "scrape only the named source")
	rootCmd.AddCommand(scrapeCmd)
}

func loadSources() ([]models.Source, error) {
	sources, err := config.LoadSources(cfg.SourcesPath)
	if err != nil {
		return nil, err
	}
	if scrapeOnly == "" {
		return sources, nil
	}

	for _, s := range sources {
		if strings.EqualFold(s.Name, scrapeOnly) {
			return []models.Source{s}, nil
		}
	}
	return nil, eris.Errorf("scrape: unknown source %q", scrapeOnly)
}

func formatSummary(out io.Writer, s *models.RunSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tSCRAPED\tFILTERED\tUPSERTED\tPRICED\tERRORS")

	for _, r := range s.Sources {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n",
			r.Source, r.Scraped, r.Filtered, r.Upserted, r.Priced, len(r.Errors))
	}
	_ = w.Flush()

	for _, r := range s.Sources {
		for _, e := range r.Errors {
			fmt.Fprintf(out, "  %s: %s\n", r.Source, e)
		}
	}
	fmt.Fprintf(out, "Done in %s\n", s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
}
