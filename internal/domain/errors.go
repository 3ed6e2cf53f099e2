package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData is returned when too few points exist for an operation.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrModelFit is returned when parameter estimation fails on every spec tried.
	ErrModelFit = errors.New("model fit failed")
	// ErrProcessingTimeout is returned when a fit or forecast exceeds its deadline.
	ErrProcessingTimeout = errors.New("processing timeout")
	// ErrUnavailable marks a capability that cannot serve a request, such as an
	// untrained regime detector.
	ErrUnavailable = errors.New("unavailable")
	// ErrUnknownStation is matched by MissingStationProfileError.
	ErrUnknownStation = errors.New("unknown station")
)

// InsufficientDataError reports how many points an operation had and needed.
type InsufficientDataError struct {
	Op   string
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: insufficient data: have %d points, need %d", e.Op, e.Have, e.Need)
}

func (e *InsufficientDataError) Is(target error) bool {
	return target == ErrInsufficientData
}

// MissingStationProfileError is returned for readings from stations the registry
// does not know.
type MissingStationProfileError struct {
	StationID string
}

func (e *MissingStationProfileError) Error() string {
	return fmt.Sprintf("no profile for station %q", e.StationID)
}

func (e *MissingStationProfileError) Is(target error) bool {
	return target == ErrUnknownStation
}
