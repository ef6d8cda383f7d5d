package api

import (
	"time"

	"pickleball-calendar/config"
)

// AvailabilityRequest is the JSON body of a quick-reservation availability call.
type AvailabilityRequest struct {
	FacilityGroupID int    `json:"facility_group_id"`
	CustomerID      int    `json:"customer_id"`
	CompanyID       int    `json:"company_id"`
	ReserveDate     string `json:"reserve_date"`
	ChangeTimeRange bool   `json:"change_time_range"`
	Reload          bool   `json:"reload"`
	Resident        bool   `json:"resident"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
}

func NewAvailabilityRequest(group config.FacilityGroup, date string) AvailabilityRequest {
	return AvailabilityRequest{
		FacilityGroupID: group.ID,
		ReserveDate:     date,
		Resident:        true,
		StartTime:       group.StartTime,
		EndTime:         group.EndTime,
	}
}

// Session is the CSRF token and cookie header that authorise upstream calls.
type Session struct {
	Token     string    `json:"-"`
	Cookies   string    `json:"-"`
	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetchedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Session sources.
const (
	SourceHTML        = "html"
	SourceAlternative = "alternative"
	SourceManual      = "manual"
)

func (s Session) Expired(now time.Time) bool {
	if s.Token == "" {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

// TokenSample is a short prefix of the token, safe to log or display.
func (s Session) TokenSample() string {
	if s.Token == "" {
		return ""
	}
	if len(s.Token) <= 8 {
		return s.Token[:len(s.Token)/2] + "..."
	}
	return s.Token[:8] + "..."
}

type tokenResponse struct {
	Token string `json:"token"`
}
