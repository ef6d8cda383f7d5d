package storage

import (
	"fmt"
	"unicode/utf16"
)

// ParkColor derives a stable "#rrggbb" colour from a park name. Each channel
// lands in 55..254 so colours stay readable on a white calendar.
func ParkColor(name string) string {
	var hash int32
	for _, unit := range utf16.Encode([]rune(name)) {
		hash = (hash << 5) - hash + int32(unit)
	}

	channel := func(shift uint) int64 {
		v := int64(hash >> shift)
		if v < 0 {
			v = -v
		}
		return v%200 + 55
	}
	return fmt.Sprintf("#%02x%02x%02x", channel(0), channel(8), channel(16))
}
