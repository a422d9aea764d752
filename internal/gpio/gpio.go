package gpio

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// Relays drives one relay output per zone.
type Relays interface {
	// Setup claims the zone's output and drives it off.
	Setup(zone int) error
	Set(zone int, on bool) error
	// Close drives every claimed output off and releases it.
	Close() error
}

type Pin struct {
	Number     int
	ActiveHigh bool
}

// Pins builds the per-zone pin table for a relay board.
func Pins(numbers []int, activeHigh bool) []Pin {
	pins := make([]Pin, len(numbers))
	for i, n := range numbers {
		pins[i] = Pin{Number: n, ActiveHigh: activeHigh}
	}
	return pins
}

func pinFor(pins []Pin, zone int) (Pin, error) {
	if zone < 0 || zone >= len(pins) {
		return Pin{}, fmt.Errorf("no relay pin for zone %d", zone)
	}
	return pins[zone], nil
}

// SafeMode wraps a relay backend so nothing is ever driven. Zones still report
// as initialized, which lets the controller run end to end on a bench.
type SafeMode struct {
	pins []Pin
}

func NewSafeMode(pins []Pin) *SafeMode {
	log.Warn().Msg("SAFE MODE ENABLED - relay outputs are not driven")
	return &SafeMode{pins: pins}
}

func (s *SafeMode) Setup(zone int) error {
	_, err := pinFor(s.pins, zone)
	return err
}

func (s *SafeMode) Set(zone int, on bool) error {
	pin, err := pinFor(s.pins, zone)
	if err != nil {
		return err
	}
	log.Info().Int("zone", zone).Int("pin", pin.Number).Bool("on", on).Msg("Safe mode: relay change suppressed")
	return nil
}

func (s *SafeMode) Close() error {
	return nil
}
