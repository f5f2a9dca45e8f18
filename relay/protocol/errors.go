package protocol

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidPayload     = errors.New("invalid payload")
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	ErrUnknownEvent       = errors.New("unknown event")
)

// Messages sent to clients on lookup misses.
const (
	msgMemberNotFound = "User not found in room or room does not exist"
	msgRoomNotFound   = "Room not found"
)

func missingField(name string) error {
	return fmt.Errorf("%w: %s is required", ErrInvalidPayload, name)
}

// ValidateCoordinates rejects non-finite values and points outside the
// WGS 84 ranges.
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range [-90, 90]", ErrInvalidCoordinates, lat)
	}
	if math.IsNaN(lon) || math.IsInf(lon, 0) || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude %v out of range [-180, 180]", ErrInvalidCoordinates, lon)
	}
	return nil
}
