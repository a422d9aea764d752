//go:build linux

package gpio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// CdevRelays drives relays through the Linux GPIO character device.
type CdevRelays struct {
	mu    sync.Mutex
	chip  *gpiocdev.Chip
	pins  []Pin
	lines map[int]*gpiocdev.Line
}

func NewCdevRelays(chipName string, pins []Pin) (*CdevRelays, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	return &CdevRelays{chip: chip, pins: pins, lines: make(map[int]*gpiocdev.Line)}, nil
}

func level(pin Pin, on bool) int {
	if pin.ActiveHigh == on {
		return 1
	}
	return 0
}

func (r *CdevRelays) Setup(zone int) error {
	pin, err := pinFor(r.pins, zone)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.lines[zone]; ok {
		return r.lines[zone].SetValue(level(pin, false))
	}
	line, err := r.chip.RequestLine(pin.Number, gpiocdev.AsOutput(level(pin, false)), gpiocdev.WithConsumer("irrigation-controller"))
	if err != nil {
		return fmt.Errorf("request relay pin %d: %w", pin.Number, err)
	}
	r.lines[zone] = line
	return nil
}

func (r *CdevRelays) Set(zone int, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	line, ok := r.lines[zone]
	if !ok {
		return fmt.Errorf("zone %d relay not set up", zone)
	}
	if err := line.SetValue(level(r.pins[zone], on)); err != nil {
		return fmt.Errorf("set relay pin %d: %w", r.pins[zone].Number, err)
	}
	return nil
}

// Close drives every line off before releasing it.
func (r *CdevRelays) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for zone, line := range r.lines {
		if err := line.SetValue(level(r.pins[zone], false)); err != nil {
			errs = append(errs, fmt.Errorf("release zone %d: %w", zone, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close zone %d line: %w", zone, err))
		}
		delete(r.lines, zone)
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		r.chip = nil
	}
	return errors.Join(errs...)
}
