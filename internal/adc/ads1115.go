package adc

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
	"periph.io/x/host/v3"
)

const (
	// Gain 2/3. The default moisture thresholds are raw counts at this gain.
	ads1115FullScale = 6144 * physic.MilliVolt
	ads1115Rate      = 128 * physic.Hertz
)

var channels = [4]ads1x15.Channel{ads1x15.Channel0, ads1x15.Channel1, ads1x15.Channel2, ads1x15.Channel3}

// ADS1115 reads single-ended channels of an ADS1115 on an I2C bus. Raw values
// are the signed 16-bit conversion results.
type ADS1115 struct {
	mu   sync.Mutex
	bus  i2c.BusCloser
	dev  *ads1x15.Dev
	pins map[int]analog.PinADC
}

// OpenADS1115 opens busName ("" for the first bus) and the converter at address.
func OpenADS1115(busName string, address uint16) (*ADS1115, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", busName, err)
	}

	opts := ads1x15.DefaultOpts
	opts.I2cAddress = address
	dev, err := ads1x15.NewADS1115(bus, &opts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("open ads1115 at 0x%02x: %w", address, err)
	}

	log.Info().
		Str("bus", bus.String()).
		Str("address", fmt.Sprintf("0x%02x", address)).
		Msg("ADS1115 initialized")

	return &ADS1115{bus: bus, dev: dev, pins: make(map[int]analog.PinADC)}, nil
}

func (a *ADS1115) ReadRaw(channel int) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if channel < 0 || channel >= len(channels) {
		return 0, fmt.Errorf("invalid adc channel %d", channel)
	}

	pin, ok := a.pins[channel]
	if !ok {
		var err error
		pin, err = a.dev.PinForChannel(channels[channel], ads1115FullScale, ads1115Rate, ads1x15.SaveEnergy)
		if err != nil {
			return 0, fmt.Errorf("configure channel %d: %w", channel, err)
		}
		a.pins[channel] = pin
	}

	sample, err := pin.Read()
	if err != nil {
		return 0, fmt.Errorf("read channel %d: %w", channel, err)
	}
	return float64(sample.Raw), nil
}

func (a *ADS1115) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for ch, pin := range a.pins {
		if err := pin.Halt(); err != nil {
			log.Warn().Err(err).Int("channel", ch).Msg("Failed to halt adc channel")
		}
	}
	a.pins = map[int]analog.PinADC{}
	if err := a.dev.Halt(); err != nil {
		log.Warn().Err(err).Msg("Failed to halt ads1115")
	}
	return a.bus.Close()
}
