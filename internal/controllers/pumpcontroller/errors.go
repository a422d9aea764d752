package pumpcontroller

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidZone      = errors.New("invalid zone")
	ErrInvalidDuration  = errors.New("invalid duration")
	ErrRelayUnavailable = errors.New("relay unavailable")
	ErrZoneDisabled     = errors.New("disabled")
	ErrAlreadyWatering  = errors.New("already running")
	ErrCooldown         = errors.New("cooldown")
	ErrDailyLimit       = errors.New("daily limit reached")
)

// RejectedError is returned when a start request fails a precondition. It is
// an ordinary outcome, not a fault.
type RejectedError struct {
	Zone   int
	Reason error
	// RetryAfter is set for cooldown rejections.
	RetryAfter time.Duration
}

func (e *RejectedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("zone %d: watering rejected: %s (retry in %s)", e.Zone, e.Reason, e.RetryAfter.Round(time.Second))
	}
	return fmt.Sprintf("zone %d: watering rejected: %s", e.Zone, e.Reason)
}

func (e *RejectedError) Unwrap() error {
	return e.Reason
}

// IsRejected reports whether err is a precondition rejection.
func IsRejected(err error) bool {
	var r *RejectedError
	return errors.As(err, &r)
}

func reject(zone int, reason error) error {
	return &RejectedError{Zone: zone, Reason: reason}
}
