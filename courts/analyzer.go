package courts

import (
	"fmt"
	"strconv"
	"strings"
)

// AnalyzeSlots scans an ordered slot sequence and returns its booked intervals.
// An interval closes at the time of the first available slot after it, or one
// slot past the last booked slot when the sequence ends while booked.
func AnalyzeSlots(slots []Slot) []Interval {
	periods, _ := analyzeSlots(slots)
	return periods
}

// analyzeSlots also reports trailing runs it had to drop because the last
// booked time could not be parsed.
func analyzeSlots(slots []Slot) ([]Interval, []string) {
	periods := []Interval{}
	var warnings []string
	open := false
	var start, last string

	for _, slot := range slots {
		if slot.Status == SlotBooked {
			if !open {
				open = true
				start = slot.Time
			}
			last = slot.Time
			continue
		}
		if open {
			periods = append(periods, Interval{StartTime: start, EndTime: slot.Time})
			open = false
		}
	}

	if open {
		end, ok := addMinutes(last, SlotDuration)
		if ok {
			periods = append(periods, Interval{StartTime: start, EndTime: end})
		} else {
			warnings = append(warnings, fmt.Sprintf("cannot close booking at %q", last))
		}
	}
	return periods, warnings
}

func AnalyzeCourt(court Court) CourtAnalysis {
	booked := 0
	for _, slot := range court.TimeSlots {
		if slot.Status == SlotBooked {
			booked++
		}
	}
	total := len(court.TimeSlots)
	available := total - booked

	periods, dropped := analyzeSlots(court.TimeSlots)
	warnings := make([]string, 0, len(court.Warnings)+len(dropped))
	warnings = append(warnings, court.Warnings...)
	warnings = append(warnings, dropped...)

	return CourtAnalysis{
		ResourceID:     court.ResourceID,
		ResourceName:   court.ResourceName,
		ParkName:       ExtractParkName(court.ResourceName),
		TotalSlots:     total,
		BookedSlots:    booked,
		AvailableSlots: available,
		BookingPeriods: periods,
		// an empty sequence counts as fully available, never fully booked
		IsFullyBooked:    total > 0 && available == 0,
		IsFullyAvailable: booked == 0,
		Warnings:         warnings,
	}
}

// addMinutes adds minutes to an HH:MM[:SS] clock value. Hours are not wrapped
// at midnight so the result always sorts after the input. It reports false
// when the clock cannot be parsed.
func addMinutes(clock string, minutes int) (string, bool) {
	total, err := clockMinutes(clock)
	if err != nil {
		return "", false
	}
	total += minutes
	return fmt.Sprintf("%02d:%02d:00", total/60, total%60), true
}

func clockMinutes(clock string) (int, error) {
	parts := strings.Split(strings.TrimSpace(clock), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid clock %q", clock)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q", clock)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 || hours < 0 {
		return 0, fmt.Errorf("invalid clock %q", clock)
	}
	return hours*60 + minutes, nil
}
