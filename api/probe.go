package api

import (
	"context"
	"sort"
	"time"

	"pickleball-calendar/config"
	"pickleball-calendar/courts"
)

type ProbeResult struct {
	FacilityGroupID int           `json:"facilityGroupId"`
	Date            string        `json:"date"`
	Courts          int           `json:"courts"`
	Parks           []string      `json:"parks"`
	Duration        time.Duration `json:"duration"`
}

// Probe checks that a session is accepted by fetching and normalizing one
// facility group's availability.
func (c *Client) Probe(ctx context.Context, session Session, group config.FacilityGroup, date string) (ProbeResult, error) {
	start := time.Now()
	result := ProbeResult{FacilityGroupID: group.ID, Date: date, Parks: []string{}}

	payload, err := c.FetchAvailability(ctx, date, group, session)
	if err != nil {
		return result, err
	}
	normalized, err := courts.NormalizeResponse(payload)
	if err != nil {
		return result, err
	}
	result.Courts = len(normalized)
	for name := range courts.AggregateByPark(normalized) {
		result.Parks = append(result.Parks, name)
	}
	sort.Strings(result.Parks)
	result.Duration = time.Since(start)
	return result, nil
}
