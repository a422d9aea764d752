//go:build !linux

package gpio

import "fmt"

// CdevRelays is unavailable on non-Linux platforms.
type CdevRelays struct{}

func NewCdevRelays(chipName string, pins []Pin) (*CdevRelays, error) {
	return nil, fmt.Errorf("gpio character device not supported on this platform")
}

func (r *CdevRelays) Setup(zone int) error {
	return fmt.Errorf("gpio character device not supported on this platform")
}

func (r *CdevRelays) Set(zone int, on bool) error {
	return fmt.Errorf("gpio character device not supported on this platform")
}

func (r *CdevRelays) Close() error {
	return nil
}
