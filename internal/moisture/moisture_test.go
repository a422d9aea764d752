package moisture

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/irrigation-controller/internal/model"
)

type scriptedSampler struct {
	values []float64
	errs   []error
	calls  int
}

func (s *scriptedSampler) ReadRaw(channel int) (float64, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return 0, s.errs[i]
	}
	if i < len(s.values) {
		return s.values[i], nil
	}
	return 0, errors.New("no more samples")
}

func newTestSensor(sampler Sampler) *Sensor {
	s := NewSensor(sampler, 5, 50*time.Millisecond, 3000)
	s.sleep = func(time.Duration) {}
	return s
}

func TestClassify_Bands(t *testing.T) {
	th := DefaultThresholds

	tests := []struct {
		raw     float64
		percent int
		status  model.Status
	}{
		{30000, 0, model.StatusAir},
		{27800, 0, model.StatusDry},
		{19001, 30, model.StatusDry},
		{23400, 15, model.StatusDry},
		{19000, 31, model.StatusMoist},
		{16000, 51, model.StatusMoist},
		{13000, 71, model.StatusWet},
		{9000, 81, model.StatusWet},
		{5000, 91, model.StatusWater},
		{0, 100, model.StatusWater},
		{-500, 100, model.StatusWater},
	}

	for _, tt := range tests {
		percent, status := th.Classify(tt.raw)
		assert.Equal(t, tt.percent, percent, "raw %v", tt.raw)
		assert.Equal(t, tt.status, status, "raw %v", tt.raw)
	}
}

func TestClassify_Monotonic(t *testing.T) {
	th := DefaultThresholds
	prev, _ := th.Classify(-1000)
	for raw := -1000.0; raw <= 32000; raw += 37 {
		percent, _ := th.Classify(raw)
		assert.LessOrEqual(t, percent, prev, "raw %v", raw)
		assert.GreaterOrEqual(t, percent, 0)
		assert.LessOrEqual(t, percent, 100)
		prev = percent
	}
}

func TestClassify_Stable(t *testing.T) {
	p1, s1 := DefaultThresholds.Classify(17123.4)
	p2, s2 := DefaultThresholds.Classify(17123.4)
	assert.Equal(t, p1, p2)
	assert.Equal(t, s1, s2)
}

func TestRobustRead_MeanOfInliers(t *testing.T) {
	s := newTestSensor(&scriptedSampler{values: []float64{20000, 20100, 19900, 20050, 29000}})

	v := s.RobustRead(0)
	require.NotNil(t, v)
	assert.InDelta(t, 20012.5, *v, 0.001)
}

func TestRobustRead_TooManyOutliersUsesMedian(t *testing.T) {
	s := newTestSensor(&scriptedSampler{values: []float64{1000, 10000, 20000, 30000, 40000}})

	v := s.RobustRead(0)
	require.NotNil(t, v)
	assert.Equal(t, 20000.0, *v)
}

func TestRobustRead_FewSamplesMean(t *testing.T) {
	fail := errors.New("i2c nack")
	sampler := &scriptedSampler{
		values: []float64{0, 18000, 0, 22000, 0},
		errs:   []error{fail, nil, fail, nil, fail},
	}
	s := newTestSensor(sampler)

	v := s.RobustRead(2)
	require.NotNil(t, v)
	assert.Equal(t, 20000.0, *v)
	assert.Equal(t, 5, sampler.calls)
}

func TestRobustRead_AllFailed(t *testing.T) {
	fail := errors.New("bus error")
	s := newTestSensor(&scriptedSampler{errs: []error{fail, fail, fail, fail, fail}})

	assert.Nil(t, s.RobustRead(1))
}
