package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

func parseDateInput(input string, loc *time.Location) (time.Time, error) {
	if input == "" {
		return time.Time{}, fmt.Errorf("date is required")
	}
	now := time.Now().In(loc)
	switch strings.ToLower(input) {
	case "today":
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc), nil
	case "tomorrow":
		t := now.AddDate(0, 0, 1)
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc), nil
	}
	parsed, err := time.ParseInLocation("2006-01-02", input, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (expected YYYY-MM-DD)", input)
	}
	return parsed, nil
}

func parseMonthInput(input string, loc *time.Location) (string, error) {
	if input == "" || strings.EqualFold(input, "current") {
		return time.Now().In(loc).Format("2006-01"), nil
	}
	parsed, err := time.Parse("2006-01", input)
	if err != nil {
		return "", fmt.Errorf("invalid month %q (expected YYYY-MM)", input)
	}
	return parsed.Format("2006-01"), nil
}

func writeJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func formatTimestamp(t *time.Time, loc *time.Location) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.In(loc).Format("2006-01-02 15:04")
}

func formatAge(since time.Time) string {
	if since.IsZero() {
		return "-"
	}
	age := time.Since(since)
	switch {
	case age < time.Hour:
		return fmt.Sprintf("%dm", int(age.Minutes()))
	case age < 48*time.Hour:
		return fmt.Sprintf("%dh", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd", int(age.Hours()/24))
	}
}
