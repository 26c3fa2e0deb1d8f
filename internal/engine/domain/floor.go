package engine

import (
	"strconv"
	"strings"
)

// FloorFromDeviceID derives the floor number from the trailing "-" segment of a
// device id, reading its leading digits ("toilet-lantai-2" is floor 2, "wc-3b" is
// floor 3). ok is false when no digits lead the segment or the floor is not positive;
// such devices have no notification audience.
func FloorFromDeviceID(deviceID string) (floor int, ok bool) {
	segment := deviceID
	if idx := strings.LastIndex(deviceID, "-"); idx >= 0 {
		segment = deviceID[idx+1:]
	}
	segment = strings.TrimLeft(segment, " \t")
	segment = strings.TrimPrefix(segment, "+")

	end := 0
	for end < len(segment) && segment[end] >= '0' && segment[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	value, err := strconv.Atoi(segment[:end])
	if err != nil || value <= 0 {
		return 0, false
	}
	return value, true
}
