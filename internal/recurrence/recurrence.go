// Package recurrence parses zone watering schedules and computes their next
// fire time. Expressions use the standard five-field cron layout
// (minute hour day-of-month month day-of-week) plus the @daily style
// descriptors.
package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrUnsupported is wrapped by every parse failure.
var ErrUnsupported = errors.New("unsupported recurrence expression")

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Parse returns the schedule the job runner installs for expr.
func Parse(expr string) (cron.Schedule, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrUnsupported)
	}
	if strings.HasPrefix(trimmed, "@every") {
		return nil, fmt.Errorf("%w: %q is an interval, not a calendar time", ErrUnsupported, trimmed)
	}
	sched, err := parser.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrUnsupported, trimmed, err)
	}
	return sched, nil
}

func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// Next returns the first fire time strictly after from. ok is false when the
// expression cannot be parsed or never matches, in which case the caller must
// treat the next time as unknown.
func Next(expr string, from time.Time) (next time.Time, ok bool) {
	sched, err := Parse(expr)
	if err != nil {
		return time.Time{}, false
	}
	next = sched.Next(from)
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}
