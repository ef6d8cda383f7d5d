package courts

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// AggregateByPark analyses each court and groups the results by park. Courts
// without a tracked park are dropped.
func AggregateByPark(courts []Court) map[string]*Park {
	parks := map[string]*Park{}

	for _, court := range courts {
		analysis := AnalyzeCourt(court)
		if analysis.ParkName == "" || analysis.ParkName == UnknownPark {
			continue
		}

		park, ok := parks[analysis.ParkName]
		if !ok {
			park = &Park{
				Name:   analysis.ParkName,
				Courts: []CourtAnalysis{},
			}
			parks[analysis.ParkName] = park
		}

		park.Courts = append(park.Courts, analysis)
		park.TotalCourts++
		switch {
		case analysis.IsFullyBooked:
			park.BookedCourts++
		case analysis.IsFullyAvailable:
			park.AvailableCourts++
		default:
			park.PartiallyBookedCourts++
		}
	}

	for _, park := range parks {
		park.Status = parkStatus(park)
		park.TimeWindows = BuildTimeWindows(park.Courts)
	}
	return parks
}

// A partially booked court counts toward neither booked nor available, so a
// park with any partial court is always partial.
func parkStatus(park *Park) ParkStatus {
	switch {
	case park.BookedCourts == park.TotalCourts:
		return StatusBooked
	case park.AvailableCourts == park.TotalCourts:
		return StatusAvailable
	default:
		return StatusPartial
	}
}

// BuildTimeWindows merges courts whose booking periods match exactly.
func BuildTimeWindows(analyses []CourtAnalysis) []TimeWindow {
	type key struct{ start, end string }

	index := map[key]int{}
	windows := []TimeWindow{}
	for _, court := range analyses {
		for _, period := range court.BookingPeriods {
			k := key{period.StartTime, period.EndTime}
			i, ok := index[k]
			if !ok {
				i = len(windows)
				index[k] = i
				windows = append(windows, TimeWindow{
					StartTime:   period.StartTime,
					EndTime:     period.EndTime,
					Courts:      []string{},
					DisplayTime: FormatTimeRange(period.StartTime, period.EndTime),
				})
			}
			windows[i].Courts = append(windows[i].Courts, court.ResourceName)
		}
	}

	// zero-padded HH:MM:SS sorts correctly as a string
	sort.SliceStable(windows, func(i, j int) bool {
		if windows[i].StartTime == windows[j].StartTime {
			return windows[i].EndTime < windows[j].EndTime
		}
		return windows[i].StartTime < windows[j].StartTime
	})
	return windows
}

func FormatTimeRange(start, end string) string {
	return FormatTime(start) + "-" + FormatTime(end)
}

// FormatTime renders an HH:MM[:SS] clock as "h:mm AM".
func FormatTime(clock string) string {
	parts := strings.Split(clock, ":")
	if len(parts) < 2 {
		return clock
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return clock
	}
	hour %= 24
	suffix := "AM"
	if hour >= 12 {
		suffix = "PM"
	}
	display := hour
	switch {
	case hour == 0:
		display = 12
	case hour > 12:
		display = hour - 12
	}
	return fmt.Sprintf("%d:%s %s", display, parts[1], suffix)
}
