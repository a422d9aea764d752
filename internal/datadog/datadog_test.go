package datadog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/irrigation-controller/internal/config"
	"github.com/thatsimonsguy/irrigation-controller/internal/model"
)

type metric struct {
	kind  string
	name  string
	value float64
	tags  []string
}

type fakeClient struct {
	metrics []metric
}

func (f *fakeClient) Gauge(name string, value float64, tags []string, rate float64) error {
	f.metrics = append(f.metrics, metric{"gauge", name, value, tags})
	return nil
}

func (f *fakeClient) Incr(name string, tags []string, rate float64) error {
	f.metrics = append(f.metrics, metric{"incr", name, 1, tags})
	return nil
}

func (f *fakeClient) Histogram(name string, value float64, tags []string, rate float64) error {
	f.metrics = append(f.metrics, metric{"histogram", name, value, tags})
	return nil
}

func (f *fakeClient) Close() error { return nil }

func TestNew_Disabled(t *testing.T) {
	m := New(config.Datadog{})
	assert.Nil(t, m)

	// nil metrics are a no-op
	m.RecordReading(model.Reading{})
	m.RecordWatering(model.HistoryEntry{Kind: model.KindWateringStarted})
	assert.NoError(t, m.Close())
}

func TestRecordReading(t *testing.T) {
	f := &fakeClient{}
	m := &Metrics{client: f}

	raw, pct := 16000.0, 51
	m.RecordReading(model.Reading{Zone: 2, RawValue: &raw, MoisturePercent: &pct, Status: model.StatusMoist})
	m.RecordReading(model.Reading{Zone: 3, Status: model.StatusError})

	require.Len(t, f.metrics, 2)
	assert.Equal(t, metric{"gauge", "moisture.raw", 16000, []string{"zone:2", "status:moist"}}, f.metrics[0])
	assert.Equal(t, metric{"gauge", "moisture.percent", 51, []string{"zone:2", "status:moist"}}, f.metrics[1])
}

func TestRecordWatering(t *testing.T) {
	f := &fakeClient{}
	m := &Metrics{client: f}

	m.RecordWatering(model.HistoryEntry{Zone: 1, Kind: model.KindWateringStarted, Cause: model.CauseManual})
	m.RecordWatering(model.HistoryEntry{Zone: 1, Kind: model.KindWateringStopped, Cause: model.CauseManual, DurationMillis: 5000})

	require.Len(t, f.metrics, 4)
	assert.Equal(t, "incr", f.metrics[1].kind)
	assert.Equal(t, []string{"zone:1", "cause:manual"}, f.metrics[1].tags)
	assert.Equal(t, metric{"gauge", "watering.active", 0, []string{"zone:1"}}, f.metrics[2])
	assert.Equal(t, 5.0, f.metrics[3].value)
}
