package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pickleball-calendar/courts"
	"pickleball-calendar/storage"
)

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and repair the monthly cache",
	}

	cmd.AddCommand(cacheHealthCmd())
	cmd.AddCommand(cacheShowCmd())
	cmd.AddCommand(cacheDayCmd())
	cmd.AddCommand(cacheParksCmd())
	cmd.AddCommand(cacheRecoverCmd())
	cmd.AddCommand(cacheCleanupCmd())
	return cmd
}

func cacheHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Summarise cached month files",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			health, err := a.store.Health()
			if err != nil {
				return err
			}
			if outputJSON {
				return writeJSON(health)
			}

			loc := a.cfg.Location()
			fmt.Printf("Files:   %d (%d healthy, %d stale, %d invalid)\n",
				health.TotalFiles, health.HealthyFiles, health.StaleFiles, health.InvalidFiles)
			fmt.Printf("Months:  %s\n", strings.Join(health.AvailableMonths, ", "))
			fmt.Printf("Oldest:  %s\n", formatTimestamp(health.OldestData, loc))
			fmt.Printf("Newest:  %s\n", formatTimestamp(health.NewestData, loc))
			return nil
		},
	}
}

func cacheShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [month]",
		Short: "Show the cached days of a month (default current month)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			input := ""
			if len(args) == 1 {
				input = args[0]
			}
			month, err := parseMonthInput(input, a.cfg.Location())
			if err != nil {
				return err
			}
			cache, ok := a.store.ReadMonth(month)
			if !ok {
				return fmt.Errorf("no cached data for %s", month)
			}
			if outputJSON {
				return writeJSON(cache)
			}

			if !outputCompact {
				fmt.Printf("%s, updated %s ago\n\n", cache.Month, formatAge(cache.LastUpdated))
			}
			writer := tabwriter.NewWriter(os.Stdout, 2, 2, 2, ' ', 0)
			if !outputCompact {
				fmt.Fprintln(writer, "DATE\tPARK\tSTATUS\tBOOKED\tCOURTS")
			}
			for _, date := range sortedDays(cache.Days) {
				for _, park := range cache.Days[date].Parks {
					fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%d\n", date, park.Name, park.Status, park.BookedCourts, park.TotalCourts)
				}
			}
			return writer.Flush()
		},
	}
}

func cacheDayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "day <date>",
		Short: "Show booked windows for one cached date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			parsed, err := parseDateInput(args[0], a.cfg.Location())
			if err != nil {
				return err
			}
			date := parsed.Format("2006-01-02")
			day, ok := a.store.DayData(date)
			if !ok {
				return fmt.Errorf("%s has not been collected yet", date)
			}
			if outputJSON {
				return writeJSON(day)
			}

			writer := tabwriter.NewWriter(os.Stdout, 2, 2, 2, ' ', 0)
			if !outputCompact {
				fmt.Fprintln(writer, "PARK\tTIME\tCOURTS")
			}
			for _, park := range day.Parks {
				if len(park.TimeWindows) == 0 {
					fmt.Fprintf(writer, "%s\t%s\t%s\n", park.Name, "all day", "all courts available")
					continue
				}
				for _, window := range park.TimeWindows {
					fmt.Fprintf(writer, "%s\t%s\t%s\n", park.Name, windowLabel(window), strings.Join(window.Courts, ", "))
				}
			}
			return writer.Flush()
		},
	}
}

func cacheParksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parks [name]",
		Short: "List parks with their calendar colours",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			parks, source := a.store.ParkList(storage.DefaultParkList(a.cfg.DefaultParkLinks()))
			if len(args) == 1 {
				park, ok := storage.FindPark(parks, args[0])
				if !ok {
					return fmt.Errorf("park %q is not in the %s park list", args[0], source)
				}
				parks = []storage.ParkListEntry{park}
			}
			if outputJSON {
				return writeJSON(map[string]any{"parks": parks, "source": source})
			}
			writer := tabwriter.NewWriter(os.Stdout, 2, 2, 2, ' ', 0)
			if !outputCompact {
				fmt.Fprintln(writer, "PARK\tCOLOR\tPDF")
			}
			for _, park := range parks {
				fmt.Fprintf(writer, "%s\t%s\t%s\n", park.Name, park.Color, park.PDFLink)
			}
			if err := writer.Flush(); err != nil {
				return err
			}
			if !outputCompact {
				fmt.Printf("\nsource: %s\n", source)
			}
			return nil
		},
	}
}

func cacheRecoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Delete month files that cannot be read",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.store.Recover()
			if err != nil {
				return err
			}
			if outputJSON {
				return writeJSON(result)
			}
			fmt.Printf("Checked %d files: %d valid, %d removed.\n", result.TotalFiles, result.ValidFiles, result.CorruptedFiles)
			for _, file := range result.RemovedFiles {
				fmt.Printf("  removed %s\n", file)
			}
			return nil
		},
	}
}

func cacheCleanupCmd() *cobra.Command {
	var maxAgeDays int
	var files []string

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Back up and remove old or problematic month files",
		RunE: func(cmd *cobra.Command, args []string) error {
			if maxAgeDays <= 0 && len(files) == 0 {
				return fmt.Errorf("--max-age-days or --file is required")
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.store.Cleanup(storage.CleanupOptions{MaxAgeDays: maxAgeDays, ProblematicFiles: files})
			if err != nil {
				return err
			}
			if outputJSON {
				return writeJSON(result)
			}
			if result.FilesIdentifiedForRemoval == 0 {
				fmt.Println("Nothing to clean up.")
				return nil
			}
			fmt.Printf("Removed %d of %d files, backup at %s\n",
				result.FilesSuccessfullyRemoved, result.FilesIdentifiedForRemoval, result.BackupPath)
			for _, removed := range result.RemovedFiles {
				fmt.Printf("  %s (%s)\n", removed.Filename, removed.Reason)
			}
			for _, e := range result.Errors {
				fmt.Printf("  error: %s: %s\n", e.File, e.Error)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&maxAgeDays, "max-age-days", 0, "Remove files not written for this many days")
	cmd.Flags().StringSliceVar(&files, "file", nil, "Month file to remove, e.g. 2024-01.json (repeatable)")
	return cmd
}

func sortedDays(days map[string]storage.DayRecord) []string {
	dates := make([]string, 0, len(days))
	for date := range days {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates
}

func windowLabel(window courts.TimeWindow) string {
	if window.DisplayTime != "" {
		return window.DisplayTime
	}
	return courts.FormatTimeRange(window.StartTime, window.EndTime)
}
