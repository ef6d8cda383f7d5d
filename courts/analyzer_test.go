package courts

import (
	"reflect"
	"testing"
)

func slots(start string, statuses ...SlotStatus) []Slot {
	out := make([]Slot, 0, len(statuses))
	clock := start
	for _, status := range statuses {
		out = append(out, Slot{Time: clock, Status: status})
		clock, _ = addMinutes(clock, SlotDuration)
	}
	return out
}

const (
	b = SlotBooked
	a = SlotAvailable
)

func TestAnalyzeSlots(t *testing.T) {
	tests := []struct {
		name  string
		slots []Slot
		want  []Interval
	}{
		{
			name:  "empty",
			slots: nil,
			want:  []Interval{},
		},
		{
			name:  "all available",
			slots: slots("09:00:00", a, a, a),
			want:  []Interval{},
		},
		{
			name:  "single booked run closes at next available slot",
			slots: slots("09:00:00", a, b, b, a),
			want:  []Interval{{StartTime: "09:30:00", EndTime: "10:30:00"}},
		},
		{
			name:  "two runs",
			slots: slots("09:00:00", b, a, b, b, a),
			want: []Interval{
				{StartTime: "09:00:00", EndTime: "09:30:00"},
				{StartTime: "10:00:00", EndTime: "11:00:00"},
			},
		},
		{
			name:  "run open at end closes one slot after last booked",
			slots: slots("21:00:00", a, b, b),
			want:  []Interval{{StartTime: "21:30:00", EndTime: "22:30:00"}},
		},
		{
			name:  "fully booked",
			slots: slots("09:00:00", b, b, b, b),
			want:  []Interval{{StartTime: "09:00:00", EndTime: "11:00:00"}},
		},
		{
			name:  "end of day past midnight keeps counting hours",
			slots: slots("23:00:00", b, b),
			want:  []Interval{{StartTime: "23:00:00", EndTime: "24:00:00"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AnalyzeSlots(tt.slots)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("AnalyzeSlots() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestAnalyzeSlotsIntervalsAreOrderedAndDisjoint(t *testing.T) {
	got := AnalyzeSlots(slots("06:00:00", b, a, b, b, a, a, b, a, b))
	for i, period := range got {
		if period.EndTime <= period.StartTime {
			t.Fatalf("interval %d: end %s not after start %s", i, period.EndTime, period.StartTime)
		}
		if i > 0 && got[i-1].EndTime > period.StartTime {
			t.Fatalf("interval %d overlaps previous: %#v", i, got)
		}
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 intervals, got %d", len(got))
	}
}

func TestAnalyzeCourt(t *testing.T) {
	tests := []struct {
		name          string
		court         Court
		wantBooked    int
		wantAvailable int
		fullyBooked   bool
		fullyAvail    bool
	}{
		{
			name:          "partial",
			court:         Court{ResourceName: "Kleinman Park Court 1", TimeSlots: slots("09:00:00", a, b, a)},
			wantBooked:    1,
			wantAvailable: 2,
		},
		{
			name:        "fully booked",
			court:       Court{ResourceName: "Kleinman Park Court 1", TimeSlots: slots("09:00:00", b, b)},
			wantBooked:  2,
			fullyBooked: true,
		},
		{
			name:          "fully available",
			court:         Court{ResourceName: "Kleinman Park Court 1", TimeSlots: slots("09:00:00", a, a)},
			wantAvailable: 2,
			fullyAvail:    true,
		},
		{
			name:       "no slots counts as available",
			court:      Court{ResourceName: "Kleinman Park Court 1"},
			fullyAvail: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AnalyzeCourt(tt.court)
			if got.BookedSlots != tt.wantBooked || got.AvailableSlots != tt.wantAvailable {
				t.Fatalf("counts = %d/%d, want %d/%d", got.BookedSlots, got.AvailableSlots, tt.wantBooked, tt.wantAvailable)
			}
			if got.TotalSlots != got.BookedSlots+got.AvailableSlots {
				t.Fatalf("total %d != booked %d + available %d", got.TotalSlots, got.BookedSlots, got.AvailableSlots)
			}
			if got.IsFullyBooked != tt.fullyBooked || got.IsFullyAvailable != tt.fullyAvail {
				t.Fatalf("flags = booked:%v available:%v", got.IsFullyBooked, got.IsFullyAvailable)
			}
			if got.IsFullyBooked && got.IsFullyAvailable {
				t.Fatal("court cannot be fully booked and fully available")
			}
			if got.ParkName != ParkKleinman {
				t.Fatalf("ParkName = %q", got.ParkName)
			}
			if got.Warnings == nil {
				t.Fatal("Warnings should never be nil")
			}
		})
	}
}

func TestAddMinutes(t *testing.T) {
	tests := map[string]string{
		"09:00:00": "09:30:00",
		"09:30":    "10:00:00",
		"21:30:00": "22:00:00",
		"23:30:00": "24:00:00",
	}
	for in, want := range tests {
		if got, ok := addMinutes(in, SlotDuration); !ok || got != want {
			t.Errorf("addMinutes(%q) = %q, %v, want %q", in, got, ok, want)
		}
	}
	for _, in := range []string{"garbage", "", "9", "09:75"} {
		if got, ok := addMinutes(in, SlotDuration); ok {
			t.Errorf("addMinutes(%q) = %q, want failure", in, got)
		}
	}
}

func TestAnalyzeCourtUnparsableTrailingSlot(t *testing.T) {
	court := Court{
		ResourceName: "Kleinman Park Court 1",
		Warnings:     []string{"closed for maintenance"},
		TimeSlots: []Slot{
			{Time: "09:00:00", Status: SlotBooked},
			{Time: "09:30:00", Status: SlotAvailable},
			{Time: "10:00:00", Status: SlotBooked},
			{Time: "late", Status: SlotBooked},
		},
	}

	got := AnalyzeCourt(court)
	want := []Interval{{StartTime: "09:00:00", EndTime: "09:30:00"}}
	if !reflect.DeepEqual(got.BookingPeriods, want) {
		t.Fatalf("BookingPeriods = %#v, want %#v", got.BookingPeriods, want)
	}
	for _, period := range got.BookingPeriods {
		if period.EndTime <= period.StartTime {
			t.Fatalf("interval does not end after it starts: %#v", period)
		}
	}
	wantWarnings := []string{"closed for maintenance", `cannot close booking at "late"`}
	if !reflect.DeepEqual(got.Warnings, wantWarnings) {
		t.Fatalf("Warnings = %#v, want %#v", got.Warnings, wantWarnings)
	}
	if !reflect.DeepEqual(AnalyzeSlots(court.TimeSlots), want) {
		t.Fatalf("AnalyzeSlots disagrees with AnalyzeCourt")
	}
}
