package storage

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"pickleball-calendar/courts"
)

const (
	legacyAllAvailable = "All courts available"
	legacyAllBooked    = "All courts booked"
)

var (
	legacyRange  = regexp.MustCompile(`(?i)(\d{1,2}:\d{2})-(\d{1,2}:\d{2})\s*(AM|PM)`)
	legacyCourts = regexp.MustCompile(`(?i)Courts?\s+([\d,\s]+)`)
)

// parkRecord decodes park entries that may still carry the pre-timeWindows
// bookingDetails summary string.
type parkRecord struct {
	courts.Park
	BookingDetails *string `json:"bookingDetails,omitempty"`
}

func (p parkRecord) needsMigration() bool {
	return p.BookingDetails != nil && p.TimeWindows == nil
}

// DecodeLegacyBookingDetails converts a bookingDetails string such as
// "Courts 1,2 booked 2:30-5:00 PM" into time windows. A string without any
// recognisable range is kept as a single window whose display text is the
// original string.
func DecodeLegacyBookingDetails(details string) []courts.TimeWindow {
	details = strings.TrimSpace(details)
	switch details {
	case "", legacyAllAvailable:
		return []courts.TimeWindow{}
	case legacyAllBooked:
		return []courts.TimeWindow{{
			StartTime:   "06:00:00",
			EndTime:     "22:00:00",
			Courts:      []string{"All courts"},
			DisplayTime: courts.FormatTimeRange("06:00:00", "22:00:00"),
		}}
	}

	names := []string{"Courts"}
	if match := legacyCourts.FindStringSubmatch(details); match != nil {
		if parsed := legacyCourtNames(match[1]); len(parsed) > 0 {
			names = parsed
		}
	}

	windows := []courts.TimeWindow{}
	for _, match := range legacyRange.FindAllStringSubmatch(details, -1) {
		period := strings.ToUpper(match[3])
		start, err := to24Hour(match[1], period)
		if err != nil {
			continue
		}
		end, err := to24Hour(match[2], period)
		if err != nil {
			continue
		}
		// "11:30-1:00 PM" crosses noon, so the start is a morning time
		if end < start && period == "PM" {
			if morning, err := to24Hour(match[1], "AM"); err == nil && morning < end {
				start = morning
			}
		}
		windows = append(windows, courts.TimeWindow{
			StartTime:   start,
			EndTime:     end,
			Courts:      append([]string(nil), names...),
			DisplayTime: courts.FormatTimeRange(start, end),
		})
	}

	if len(windows) == 0 {
		return []courts.TimeWindow{{
			Courts:      []string{},
			DisplayTime: details,
		}}
	}
	return windows
}

func legacyCourtNames(list string) []string {
	names := []string{}
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		names = append(names, "Court "+part)
	}
	return names
}

// The legacy format put one AM/PM marker after the end time and applied it
// to both ends of the range.
func to24Hour(clock, period string) (string, error) {
	parts := strings.SplitN(clock, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid clock %q", clock)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 1 || hour > 12 {
		return "", fmt.Errorf("invalid clock %q", clock)
	}
	switch {
	case period == "PM" && hour != 12:
		hour += 12
	case period == "AM" && hour == 12:
		hour = 0
	}
	return fmt.Sprintf("%02d:%s:00", hour, parts[1]), nil
}
