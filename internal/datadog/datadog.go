package datadog

import (
	"strconv"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/irrigation-controller/internal/config"
	"github.com/thatsimonsguy/irrigation-controller/internal/model"
)

type client interface {
	Gauge(name string, value float64, tags []string, rate float64) error
	Incr(name string, tags []string, rate float64) error
	Histogram(name string, value float64, tags []string, rate float64) error
	Close() error
}

// Metrics forwards readings and waterings to a DogStatsD agent. A nil
// *Metrics is valid and drops everything.
type Metrics struct {
	client client
}

// New returns nil when metrics are disabled or the client cannot be created.
func New(cfg config.Datadog) *Metrics {
	if !cfg.Enabled {
		return nil
	}
	c, err := statsd.New(cfg.AgentAddr)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create DogStatsD client")
		return nil
	}
	c.Namespace = cfg.Namespace
	c.Tags = cfg.Tags

	log.Info().
		Str("addr", cfg.AgentAddr).
		Str("namespace", cfg.Namespace).
		Strs("tags", cfg.Tags).
		Msg("Datadog metrics initialized")
	return &Metrics{client: c}
}

func zoneTag(zone int) string {
	return "zone:" + strconv.Itoa(zone)
}

func (m *Metrics) gauge(name string, value float64, tags ...string) {
	if m == nil {
		return
	}
	if err := m.client.Gauge(name, value, tags, 1); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("Failed to emit gauge metric")
	}
}

func (m *Metrics) RecordReading(r model.Reading) {
	if m == nil || !r.Valid() {
		return
	}
	tags := []string{zoneTag(r.Zone), "status:" + string(r.Status)}
	m.gauge("moisture.raw", *r.RawValue, tags...)
	if r.MoisturePercent != nil {
		m.gauge("moisture.percent", float64(*r.MoisturePercent), tags...)
	}
}

func (m *Metrics) RecordWatering(e model.HistoryEntry) {
	if m == nil {
		return
	}
	tags := []string{zoneTag(e.Zone), "cause:" + string(e.Cause)}
	switch e.Kind {
	case model.KindWateringStarted:
		m.gauge("watering.active", 1, zoneTag(e.Zone))
		if err := m.client.Incr("watering.started", tags, 1); err != nil {
			log.Warn().Err(err).Msg("Failed to emit watering counter")
		}
	case model.KindWateringStopped:
		m.gauge("watering.active", 0, zoneTag(e.Zone))
		if err := m.client.Histogram("watering.duration_seconds", float64(e.DurationMillis)/1000, tags, 1); err != nil {
			log.Warn().Err(err).Msg("Failed to emit watering duration")
		}
	}
}

func (m *Metrics) Close() error {
	if m == nil {
		return nil
	}
	return m.client.Close()
}
