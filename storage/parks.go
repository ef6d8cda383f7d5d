package storage

import (
	"sort"
	"strings"
)

// Where a park list came from.
const (
	ParkListCurrentMonth = "current_month"
	ParkListLatestMonth  = "latest_month"
	ParkListDefaults     = "defaults"
)

// ParkList returns the park list of the current month, falling back to the
// most recent cached month and finally to defaults. The second value names
// the source that was used.
func (s *Store) ParkList(defaults []ParkListEntry) ([]ParkListEntry, string) {
	if cache, ok := s.ReadMonth(s.CurrentMonth()); ok && len(cache.ParkList) > 0 {
		return cache.ParkList, ParkListCurrentMonth
	}

	months, err := s.Months()
	if err == nil {
		for i := len(months) - 1; i >= 0; i-- {
			cache, ok := s.ReadMonth(months[i])
			if ok && len(cache.ParkList) > 0 {
				return cache.ParkList, ParkListLatestMonth
			}
		}
	}

	return SortParkList(defaults), ParkListDefaults
}

// DefaultParkList builds park list entries for names that have never been
// cached, using the hashed colour.
func DefaultParkList(names []string, pdfLinks map[string]string) []ParkListEntry {
	entries := make([]ParkListEntry, 0, len(names))
	seen := map[string]struct{}{}
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		entries = append(entries, ParkListEntry{
			Name:    name,
			Color:   ParkColor(name),
			PDFLink: pdfLinks[name],
		})
	}
	return entries
}

func SortParkList(entries []ParkListEntry) []ParkListEntry {
	sorted := make([]ParkListEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return strings.ToLower(sorted[i].Name) < strings.ToLower(sorted[j].Name)
	})
	return sorted
}

func FindPark(entries []ParkListEntry, name string) (ParkListEntry, bool) {
	needle := strings.ToLower(strings.TrimSpace(name))
	for _, entry := range entries {
		if strings.ToLower(entry.Name) == needle {
			return entry, true
		}
	}
	return ParkListEntry{}, false
}
