package courts

import (
	"regexp"
	"strings"
)

// UnknownPark is returned for courts that belong to no tracked park. The
// aggregator drops them.
const UnknownPark = "Unknown Park"

const (
	ParkKleinman  = "Kleinman Park"
	ParkGeneAutry = "Gene Autry Park"
	ParkMonterey  = "Monterey Park"
)

type nameRule struct {
	contains string
	park     string
}

// Checked in order after the sport filter and before the generic pattern.
var specificNames = []nameRule{
	{contains: "kleinman", park: ParkKleinman},
	{contains: "christopher", park: ParkMonterey},
	{contains: "brady", park: ParkMonterey},
}

var genericPickleballCourt = regexp.MustCompile(`^pickleball court \d+$`)

// ExtractParkName maps an upstream resource name to its park. Tennis courts
// return "" and are never aggregated.
func ExtractParkName(resourceName string) string {
	name := strings.ToLower(strings.TrimSpace(resourceName))

	if strings.Contains(name, "tennis") {
		return ""
	}
	for _, rule := range specificNames {
		if strings.Contains(name, rule.contains) {
			return rule.park
		}
	}
	// Gene Autry lists its courts as "Pickleball Court 17", "Pickleball Court 18", ...
	if genericPickleballCourt.MatchString(name) {
		return ParkGeneAutry
	}
	return UnknownPark
}
