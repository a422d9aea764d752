// Package influxdb writes moisture readings and watering events to an
// InfluxDB v2 bucket.
//
// Writes go through the client's non-blocking write API and are batched;
// asynchronous write errors are logged and never reach the controllers.
package influxdb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/irrigation-controller/internal/config"
	"github.com/thatsimonsguy/irrigation-controller/internal/model"
)

const (
	connectTimeout = 10 * time.Second
	batchSize      = 50
	flushMillis    = 10_000
)

var (
	ErrDisabled         = errors.New("influxdb disabled")
	ErrConnectionFailed = errors.New("influxdb connection failed")
)

type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

type Writer struct {
	client influxdb2.Client
	api    pointWriter
}

// Connect pings the server and returns a writer for the configured bucket.
func Connect(cfg config.InfluxDB) (*Writer, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(batchSize).
			SetFlushInterval(flushMillis))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			log.Warn().Err(err).Msg("InfluxDB write failed")
		}
	}()

	log.Info().Str("url", cfg.URL).Str("bucket", cfg.Bucket).Msg("InfluxDB telemetry connected")
	return &Writer{client: client, api: writeAPI}, nil
}

func (w *Writer) RecordReading(r model.Reading) {
	if w == nil || !r.Valid() {
		return
	}
	fields := map[string]interface{}{"raw": *r.RawValue}
	if r.MoisturePercent != nil {
		fields["percent"] = *r.MoisturePercent
	}
	w.api.WritePoint(write.NewPoint(
		"soil_moisture",
		map[string]string{"zone": strconv.Itoa(r.Zone), "status": string(r.Status)},
		fields,
		r.Timestamp,
	))
}

func (w *Writer) RecordWatering(e model.HistoryEntry) {
	if w == nil {
		return
	}
	fields := map[string]interface{}{"automatic": e.Automatic}
	switch e.Kind {
	case model.KindWateringStarted:
		fields["active"] = 1
	case model.KindWateringStopped:
		fields["active"] = 0
		fields["duration_ms"] = e.DurationMillis
	default:
		return
	}
	w.api.WritePoint(write.NewPoint(
		"watering",
		map[string]string{"zone": strconv.Itoa(e.Zone), "cause": string(e.Cause)},
		fields,
		e.Timestamp,
	))
}

// Close flushes pending points and closes the client.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.api.Flush()
	if w.client != nil {
		w.client.Close()
	}
	return nil
}
