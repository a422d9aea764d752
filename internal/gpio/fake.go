package gpio

import (
	"fmt"
	"sync"
)

// Toggle records one relay change made through a Fake.
type Toggle struct {
	Zone int
	On   bool
}

// Fake is an in-memory relay board for development machines and tests.
type Fake struct {
	mu        sync.Mutex
	zones     int
	failSetup map[int]error
	failSet   map[int]error
	ready     map[int]bool
	on        map[int]bool
	toggles   []Toggle
}

func NewFake(zones int) *Fake {
	return &Fake{
		zones:     zones,
		failSetup: make(map[int]error),
		failSet:   make(map[int]error),
		ready:     make(map[int]bool),
		on:        make(map[int]bool),
	}
}

// FailSetup makes Setup for zone return err.
func (f *Fake) FailSetup(zone int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSetup[zone] = err
}

// FailSet makes Set for zone return err; nil clears it.
func (f *Fake) FailSet(zone int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSet[zone] = err
}

func (f *Fake) Setup(zone int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if zone < 0 || zone >= f.zones {
		return fmt.Errorf("no relay pin for zone %d", zone)
	}
	if err := f.failSetup[zone]; err != nil {
		return err
	}
	f.ready[zone] = true
	f.on[zone] = false
	return nil
}

func (f *Fake) Set(zone int, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready[zone] {
		return fmt.Errorf("zone %d relay not set up", zone)
	}
	if err := f.failSet[zone]; err != nil {
		return err
	}
	f.on[zone] = on
	f.toggles = append(f.toggles, Toggle{Zone: zone, On: on})
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for zone := range f.ready {
		f.on[zone] = false
	}
	f.ready = make(map[int]bool)
	return nil
}

func (f *Fake) IsOn(zone int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on[zone]
}

// Toggles returns every Set call made so far, in order.
func (f *Fake) Toggles() []Toggle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Toggle(nil), f.toggles...)
}

// OnCount returns how many times zone was switched on.
func (f *Fake) OnCount(zone int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.toggles {
		if t.Zone == zone && t.On {
			n++
		}
	}
	return n
}
