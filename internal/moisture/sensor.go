package moisture

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// Sampler performs a single raw read of an analog channel.
type Sampler interface {
	ReadRaw(channel int) (float64, error)
}

const (
	DefaultAttempts         = 5
	DefaultSampleDelay      = 50 * time.Millisecond
	DefaultOutlierTolerance = 3000.0

	minSamplesForFilter = 3
	// above this share of discarded samples the median is returned instead
	maxOutlierShare = 0.4
)

type Sensor struct {
	sampler   Sampler
	attempts  int
	delay     time.Duration
	tolerance float64
	sleep     func(time.Duration)
}

func NewSensor(sampler Sampler, attempts int, delay time.Duration, tolerance float64) *Sensor {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if tolerance <= 0 {
		tolerance = DefaultOutlierTolerance
	}
	return &Sensor{
		sampler:   sampler,
		attempts:  attempts,
		delay:     delay,
		tolerance: tolerance,
		sleep:     time.Sleep,
	}
}

// RobustRead samples channel up to the configured attempts and returns one filtered
// value, or nil when every sample failed.
func (s *Sensor) RobustRead(channel int) *float64 {
	samples := make([]float64, 0, s.attempts)
	for i := 0; i < s.attempts; i++ {
		if i > 0 && s.delay > 0 {
			s.sleep(s.delay)
		}
		v, err := s.sampler.ReadRaw(channel)
		if err != nil {
			log.Debug().Err(err).Int("channel", channel).Int("attempt", i+1).Msg("Sensor sample failed")
			continue
		}
		samples = append(samples, v)
	}

	if len(samples) == 0 {
		log.Error().Int("channel", channel).Int("attempts", s.attempts).Msg("All sensor samples failed")
		return nil
	}

	value := filterSamples(channel, samples, s.tolerance)
	return &value
}

func filterSamples(channel int, samples []float64, tolerance float64) float64 {
	if len(samples) < minSamplesForFilter {
		return mean(samples)
	}

	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	median := sorted[len(sorted)/2]

	kept := make([]float64, 0, len(sorted))
	for _, v := range sorted {
		if math.Abs(v-median) < tolerance {
			kept = append(kept, v)
		}
	}

	discarded := len(sorted) - len(kept)
	if float64(discarded) > maxOutlierShare*float64(len(sorted)) {
		log.Warn().
			Int("channel", channel).
			Int("samples", len(sorted)).
			Int("outliers", discarded).
			Float64("median", median).
			Msg("Sensor readings unreliable, using median")
		return median
	}

	return mean(kept)
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
