package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"pickleball-calendar/storage"
)

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Backfill run history",
	}
	cmd.AddCommand(runsListCmd())
	return cmd
}

func runsListCmd() *cobra.Command {
	var from string
	var to string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded backfill runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			loc := a.cfg.Location()
			filter := storage.RunFilter{Limit: limit}
			if from != "" {
				date, err := parseDateInput(from, loc)
				if err != nil {
					return err
				}
				filter.From = date.Format("2006-01-02")
			}
			if to != "" {
				date, err := parseDateInput(to, loc)
				if err != nil {
					return err
				}
				filter.To = date.Format("2006-01-02")
			}
			if filter.From != "" && filter.To != "" && filter.From > filter.To {
				return fmt.Errorf("--from must be on or before --to")
			}

			history, err := a.requireHistory()
			if err != nil {
				return err
			}
			runs, err := history.List(filter)
			if err != nil {
				return err
			}

			if outputJSON {
				return writeJSON(runs)
			}
			if len(runs) == 0 {
				fmt.Println("No runs found.")
				return nil
			}

			writer := tabwriter.NewWriter(os.Stdout, 2, 2, 2, ' ', 0)
			if !outputCompact {
				fmt.Fprintln(writer, "STARTED\tSOURCE\tDATES\tOK\tFAILED\tREQUESTS\tDURATION")
			}
			for _, run := range runs {
				started := run.StartedAt
				if parsed, err := time.Parse(time.RFC3339, run.StartedAt); err == nil {
					started = parsed.In(loc).Format("2006-01-02 15:04")
				}
				duration := (time.Duration(run.DurationMS) * time.Millisecond).Round(time.Second)
				fmt.Fprintf(writer, "%s\t%s\t%d\t%d\t%d\t%d/%d\t%s\n",
					started, run.Source, run.TotalDates, run.SuccessfulDates, run.FailedDates,
					run.SuccessfulAPIRequests, run.TotalAPIRequests, duration)
			}
			return writer.Flush()
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "End date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to show")
	return cmd
}
