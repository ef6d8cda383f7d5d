package courts

import "fmt"

// SlotDuration is the length of one upstream booking slot in minutes.
const SlotDuration = 30

type SlotStatus int

const (
	SlotBooked SlotStatus = iota
	SlotAvailable
)

func (s SlotStatus) String() string {
	if s == SlotBooked {
		return "booked"
	}
	return "available"
}

func (s SlotStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SlotStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "booked":
		*s = SlotBooked
	case "available":
		*s = SlotAvailable
	default:
		return fmt.Errorf("unknown slot status %q", text)
	}
	return nil
}

type Slot struct {
	Time   string     `json:"time"`
	Status SlotStatus `json:"status"`
}

// Court is one upstream resource after normalization.
type Court struct {
	ResourceID   int      `json:"resourceId"`
	ResourceName string   `json:"resourceName"`
	TimeSlots    []Slot   `json:"timeSlots"`
	Warnings     []string `json:"warnings"`
}

// Interval is a booked period for one court. EndTime is exclusive.
type Interval struct {
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

type CourtAnalysis struct {
	ResourceID       int        `json:"resourceId"`
	ResourceName     string     `json:"resourceName"`
	ParkName         string     `json:"parkName"`
	TotalSlots       int        `json:"totalSlots"`
	BookedSlots      int        `json:"bookedSlots"`
	AvailableSlots   int        `json:"availableSlots"`
	BookingPeriods   []Interval `json:"bookingPeriods"`
	IsFullyBooked    bool       `json:"isFullyBooked"`
	IsFullyAvailable bool       `json:"isFullyAvailable"`
	Warnings         []string   `json:"warnings"`
}

// TimeWindow groups the courts of one park that share an identical booked interval.
type TimeWindow struct {
	StartTime   string   `json:"startTime"`
	EndTime     string   `json:"endTime"`
	Courts      []string `json:"courts"`
	DisplayTime string   `json:"displayTime"`
}

type ParkStatus string

const (
	StatusAvailable ParkStatus = "available"
	StatusBooked    ParkStatus = "booked"
	StatusPartial   ParkStatus = "partial"
)

type Park struct {
	Name                  string          `json:"name"`
	Color                 string          `json:"color"`
	TotalCourts           int             `json:"totalCourts"`
	BookedCourts          int             `json:"bookedCourts"`
	AvailableCourts       int             `json:"availableCourts"`
	PartiallyBookedCourts int             `json:"partiallyBookedCourts"`
	Status                ParkStatus      `json:"status"`
	Courts                []CourtAnalysis `json:"courts"`
	TimeWindows           []TimeWindow    `json:"timeWindows"`
	FacilityGroupID       int             `json:"facilityGroupId,omitempty"`
	FacilityGroupName     string          `json:"facilityGroupName,omitempty"`
	PDFLink               string          `json:"pdfLink,omitempty"`
}
