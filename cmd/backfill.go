package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pickleball-calendar/backfill"
)

func backfillCmd() *cobra.Command {
	var days int
	var force bool
	var requestDelay time.Duration
	var dateDelay time.Duration
	var promptToken bool

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Fetch and cache availability for today and the days ahead",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if promptToken {
				if err := promptSessionToken(a); err != nil {
					return err
				}
			}

			opts := backfill.OptionsFromConfig(a.cfg.Backfill)
			opts.Source = backfill.SourceManual
			if cmd.Flags().Changed("days") {
				if days < 0 {
					return fmt.Errorf("--days must be 0 or more")
				}
				opts.DaysAhead = days
			}
			if force {
				opts.SkipExisting = false
			}
			if cmd.Flags().Changed("request-delay") {
				opts.DelayBetweenRequests = requestDelay
			}
			if cmd.Flags().Changed("date-delay") {
				opts.DelayBetweenDates = dateDelay
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			summary, err := a.orch.RunBackfill(ctx, opts)
			if err != nil {
				return err
			}
			if outputJSON {
				return writeJSON(summary)
			}
			printSummary(summary)
			if summary.FailedDates > 0 {
				return fmt.Errorf("%d of %d dates failed", summary.FailedDates, summary.ProcessedDates)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "Days ahead of today to fetch (default from config)")
	cmd.Flags().BoolVar(&force, "force", false, "Refetch dates that are already cached and fresh")
	cmd.Flags().DurationVar(&requestDelay, "request-delay", 0, "Delay between facility group requests")
	cmd.Flags().DurationVar(&dateDelay, "date-delay", 0, "Delay between dates")
	cmd.Flags().BoolVar(&promptToken, "prompt-token", false, "Prompt for a CSRF token instead of fetching one")
	return cmd
}

func refreshCmd() *cobra.Command {
	var promptToken bool

	cmd := &cobra.Command{
		Use:   "refresh [date]",
		Short: "Fetch and cache one date (default today), even if cached",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if promptToken {
				if err := promptSessionToken(a); err != nil {
					return err
				}
			}

			date := a.store.Today().Format("2006-01-02")
			if len(args) == 1 {
				parsed, err := parseDateInput(args[0], a.cfg.Location())
				if err != nil {
					return err
				}
				date = parsed.Format("2006-01-02")
			}

			result, err := a.orch.RunForDate(cmd.Context(), date)
			if err != nil {
				return err
			}
			if outputJSON {
				return writeJSON(result)
			}
			printDateResults([]backfill.DateResult{result})
			if !result.Succeeded() {
				return fmt.Errorf("refresh of %s failed", date)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&promptToken, "prompt-token", false, "Prompt for a CSRF token instead of fetching one")
	return cmd
}

// promptSessionToken reads a CSRF token without echo and an optional cookie
// header, and installs them as the session.
func promptSessionToken(a *app) error {
	fmt.Fprint(os.Stderr, "CSRF token: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return fmt.Errorf("token is required")
	}
	fmt.Fprint(os.Stderr, "Session cookies (optional): ")
	raw, err = term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}
	a.sessions.Use(token, string(raw))
	return nil
}

func printSummary(summary backfill.BackfillSummary) {
	printDateResults(summary.Dates)
	if outputCompact {
		return
	}
	fmt.Println()
	fmt.Printf("Run %s (%s) took %s\n", summary.RunID, summary.Source, summary.Duration.Round(time.Millisecond))
	fmt.Printf("Dates: %d processed, %d skipped, %d ok, %d failed\n",
		summary.ProcessedDates, summary.SkippedDates, summary.SuccessfulDates, summary.FailedDates)
	fmt.Printf("Requests: %d total, %d ok, %d failed\n",
		summary.TotalAPIRequests, summary.SuccessfulAPIRequests, summary.FailedAPIRequests)
	if summary.Cancelled {
		fmt.Println("Run was cancelled before finishing.")
	}
	for _, e := range summary.Errors {
		if e.FacilityGroup != 0 {
			fmt.Printf("  %s group %d: %s\n", e.Date, e.FacilityGroup, e.Error)
			continue
		}
		fmt.Printf("  %s: %s\n", e.Date, e.Error)
	}
}

func printDateResults(results []backfill.DateResult) {
	writer := tabwriter.NewWriter(os.Stdout, 2, 2, 2, ' ', 0)
	if !outputCompact {
		fmt.Fprintln(writer, "DATE\tSTATE\tSOURCES\tPARKS")
	}
	for _, result := range results {
		state := string(result.State)
		if result.Skipped {
			state = "skipped"
		}
		sources := fmt.Sprintf("%d/%d", result.SuccessfulFacilities, result.SuccessfulFacilities+result.FailedFacilities)
		if result.Skipped {
			sources = "-"
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d\n", result.Date, state, sources, result.Parks)
	}
	_ = writer.Flush()
}

// contextWithTimeout bounds one-shot upstream calls made by CLI commands.
func contextWithTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 30 * time.Second
	}
	return context.WithTimeout(parent, d)
}
