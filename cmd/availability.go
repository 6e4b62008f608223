package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"rentwatch/browser"
	"rentwatch/models"
	"rentwatch/scraper"
	"rentwatch/scraper/availability"
	"rentwatch/scraper/extract"
	"rentwatch/services"
)

var (
	availURL  string
	availWing string
)

var availabilityCmd = &cobra.Command{
	Use:   "availability",
	Short: "Check the secondary availability source for move-in ready units",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		url := cfg.AvailabilityURL
		if availURL != "" {
			url = availURL
		}
		wing := cfg.AvailabilityWing
		if availWing != "" {
			wing = availWing
		}

		st, err := initStore()
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		session := browser.NewSession(cfg.ChromeBin, logger)
		defer session.Close()

		fetcher := scraper.NewBrowserFetcher(session, time.Duration(cfg.NavTimeoutSec)*time.Second, logger)
		pipeline := scraper.NewPipeline(fetcher, extract.New(logger), services.NewIngestor(st, logger),
			availability.New(logger), scraper.Options{
				MaxRetries:   cfg.MaxRetries,
				RetryBase:    2 * time.Second,
				RateLimit:    time.Duration(cfg.RateLimitMs) * time.Millisecond,
				SourceBudget: time.Duration(cfg.ScrapeBudgetSec) * time.Second,
			}, logger)

		rep, err := pipeline.ScrapeAvailability(ctx, url, wing)
		if err != nil {
			return err
		}

		formatAvailability(os.Stdout, rep)
		return nil
	},
}

func init() {
	availabilityCmd.Flags().StringVar(&availURL, "url", "", "availability page URL (defaults to AVAILABILITY_URL)")
	availabilityCmd.Flags().StringVar(&availWing, "wing", "", "restrict to one wing letter (defaults to AVAILABILITY_WING)")
	rootCmd.AddCommand(availabilityCmd)
}

func formatAvailability(out io.Writer, rep *models.AvailabilityReport) {
	fmt.Fprintf(out, "Available now: %d, available soon: %d\n\n", len(rep.AvailableNow), len(rep.AvailableSoon))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "UNIT\tAPARTMENT\tPLAN\tRENT\tMOVE-IN")

	for _, r := range rep.Table {
		moveIn := r.DateText
		if r.Now {
			moveIn = "now"
		} else if !r.MoveIn.IsZero() {
			moveIn = r.MoveIn.Format("2006-01-02")
		}

		rent := r.RentText
		if rent == "" && r.Rent > 0 {
			rent = fmt.Sprintf("$%d", r.Rent)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Unit, r.Apartment, r.Plan, rent, moveIn)
	}
	_ = w.Flush()
}
