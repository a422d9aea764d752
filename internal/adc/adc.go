// Package adc provides the analog input port used by the moisture sensors.
package adc

import (
	"fmt"
	"sync"
)

// Reader performs one raw conversion on a channel.
type Reader interface {
	ReadRaw(channel int) (float64, error)
	Close() error
}

// Fake is an in-memory Reader for development machines and tests.
type Fake struct {
	mu       sync.Mutex
	fallback float64
	values   map[int][]float64
	errs     map[int]error
	reads    map[int]int
}

// NewFake returns a Fake that reads fallback on any channel without a script.
func NewFake(fallback float64) *Fake {
	return &Fake{
		fallback: fallback,
		values:   make(map[int][]float64),
		errs:     make(map[int]error),
		reads:    make(map[int]int),
	}
}

// Set scripts the values returned by successive reads of channel. The last
// value repeats once the script is exhausted.
func (f *Fake) Set(channel int, values ...float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[channel] = values
	f.reads[channel] = 0
	delete(f.errs, channel)
}

// Fail makes every read of channel return err until Set is called again.
func (f *Fake) Fail(channel int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[channel] = err
}

func (f *Fake) ReadRaw(channel int) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if channel < 0 || channel > 3 {
		return 0, fmt.Errorf("invalid adc channel %d", channel)
	}
	if err := f.errs[channel]; err != nil {
		return 0, err
	}
	script := f.values[channel]
	if len(script) == 0 {
		return f.fallback, nil
	}
	i := f.reads[channel]
	f.reads[channel]++
	if i >= len(script) {
		i = len(script) - 1
	}
	return script[i], nil
}

func (f *Fake) Close() error {
	return nil
}
