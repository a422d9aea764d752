package gpio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/irrigation-controller/internal/pinctrl"
)

var setPin = pinctrl.SetPin
var readLevel = pinctrl.ReadLevel

// PinctrlRelays drives relays through the Raspberry Pi `pinctrl` tool.
type PinctrlRelays struct {
	mu    sync.Mutex
	pins  []Pin
	ready map[int]bool
}

func NewPinctrlRelays(pins []Pin) *PinctrlRelays {
	return &PinctrlRelays{pins: pins, ready: make(map[int]bool)}
}

func (r *PinctrlRelays) drive(pin Pin, on bool) error {
	return setPin(pin.Number, "op", "pn", pinctrl.DriveOption(pin.ActiveHigh, on))
}

// Setup drives the zone's pin off and reads it back to confirm the relay is
// released.
func (r *PinctrlRelays) Setup(zone int) error {
	pin, err := pinFor(r.pins, zone)
	if err != nil {
		return err
	}
	if err := r.drive(pin, false); err != nil {
		return fmt.Errorf("setup zone %d relay: %w", zone, err)
	}
	level, err := readLevel(pin.Number)
	if err != nil {
		return fmt.Errorf("verify zone %d relay: %w", zone, err)
	}
	if level == pin.ActiveHigh {
		return fmt.Errorf("pin %d (zone %d) is still active after setup", pin.Number, zone)
	}

	r.mu.Lock()
	r.ready[zone] = true
	r.mu.Unlock()
	return nil
}

func (r *PinctrlRelays) Set(zone int, on bool) error {
	r.mu.Lock()
	ready := r.ready[zone]
	r.mu.Unlock()
	if !ready {
		return fmt.Errorf("zone %d relay not set up", zone)
	}
	pin, err := pinFor(r.pins, zone)
	if err != nil {
		return err
	}
	return r.drive(pin, on)
}

func (r *PinctrlRelays) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for zone := range r.ready {
		pin := r.pins[zone]
		if err := r.drive(pin, false); err != nil {
			log.Error().Err(err).Int("zone", zone).Int("pin", pin.Number).Msg("Failed to release relay")
			errs = append(errs, err)
		}
		delete(r.ready, zone)
	}
	return errors.Join(errs...)
}
