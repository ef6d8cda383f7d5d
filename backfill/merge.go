package backfill

import (
	"errors"
	"fmt"
	"sort"

	"pickleball-calendar/config"
	"pickleball-calendar/courts"
)

var ErrNoSourceData = errors.New("no successful source data")

// SourceOutcome is the result of fetching one facility group for a date.
// Err is set when the fetch failed; Payload is the raw upstream body otherwise.
type SourceOutcome struct {
	Group   config.FacilityGroup
	Payload []byte
	Err     error
}

type SourceFailure struct {
	Group config.FacilityGroup
	Err   error
}

type MergeResult struct {
	Date              string
	Parks             []courts.Park
	SuccessfulSources int
	FailedSources     int
	Failures          []SourceFailure
}

// MergeSources normalizes and aggregates every successful outcome and tags
// each park with the facility group it came from. Parks from different
// groups are kept side by side, never combined. A payload that fails to
// normalize counts as a failed source. ErrNoSourceData is returned only when
// no source succeeded; the result still carries the failure tallies.
func MergeSources(date string, outcomes []SourceOutcome) (MergeResult, error) {
	result := MergeResult{
		Date:     date,
		Parks:    []courts.Park{},
		Failures: []SourceFailure{},
	}

	for _, outcome := range outcomes {
		if outcome.Err != nil {
			result.fail(outcome.Group, outcome.Err)
			continue
		}

		parks, err := courts.ProcessResponse(outcome.Payload)
		if err != nil {
			result.fail(outcome.Group, err)
			continue
		}

		names := make([]string, 0, len(parks))
		for name := range parks {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			park := *parks[name]
			park.FacilityGroupID = outcome.Group.ID
			park.FacilityGroupName = outcome.Group.Name
			park.PDFLink = outcome.Group.PDFLink
			result.Parks = append(result.Parks, park)
		}
		result.SuccessfulSources++
	}

	if result.SuccessfulSources == 0 {
		return result, fmt.Errorf("%s: %w", date, ErrNoSourceData)
	}
	return result, nil
}

func (r *MergeResult) fail(group config.FacilityGroup, err error) {
	r.FailedSources++
	r.Failures = append(r.Failures, SourceFailure{Group: group, Err: err})
}
