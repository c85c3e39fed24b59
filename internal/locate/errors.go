package locate

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/activity-radar/internal/mapbridge"
)

// Reason classifies why no position could be resolved.
type Reason string

const (
	PermissionDenied    Reason = "permission_denied"
	PositionUnavailable Reason = "position_unavailable"
	Timeout             Reason = "timeout"
	NoCapability        Reason = "no_capability"
)

var messages = map[Reason]string{
	PermissionDenied:    "Location access is blocked. Allow it in the site or browser settings.",
	PositionUnavailable: "Your location source is unavailable. Try turning on GPS or the internet connection.",
	Timeout:             "Locating took too long. Please try again.",
	NoCapability:        "Location is not available in this browser.",
}

// ErrNoCapability marks a strategy that cannot run at all here.
var ErrNoCapability = errors.New("no geolocation capability")

// ErrInProgress is returned when a resolution is already running.
var ErrInProgress = errors.New("location resolution already in progress")

// Error is the failure reported once every strategy has been tried.
type Error struct {
	Reason Reason
	Stage  string
	Err    error
}

func (e *Error) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("locate %s (last stage %s): %v", e.Reason, e.Stage, e.Err)
	}
	return fmt.Sprintf("locate %s: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Message is the human-readable text shown to the visitor.
func (e *Error) Message() string { return messages[e.Reason] }

// Classify maps a strategy error onto a Reason.
func Classify(err error) Reason {
	var le *Error
	if errors.As(err, &le) {
		return le.Reason
	}
	var ge *mapbridge.GeoError
	if errors.As(err, &ge) {
		switch ge.Code {
		case mapbridge.CodePermissionDenied:
			return PermissionDenied
		case mapbridge.CodeTimeout:
			return Timeout
		default:
			return PositionUnavailable
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	case errors.Is(err, ErrNoCapability), errors.Is(err, mapbridge.ErrNoWidget):
		return NoCapability
	default:
		return PositionUnavailable
	}
}

// rank orders reasons by how much they tell the visitor.
func rank(r Reason) int {
	switch r {
	case PermissionDenied:
		return 3
	case PositionUnavailable:
		return 2
	case Timeout:
		return 1
	default:
		return 0
	}
}
