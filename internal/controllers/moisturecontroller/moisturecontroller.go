package moisturecontroller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/irrigation-controller/internal/controllers/pumpcontroller"
	"github.com/thatsimonsguy/irrigation-controller/internal/model"
	"github.com/thatsimonsguy/irrigation-controller/internal/notifications"
)

const (
	// TriggerReadings is how many consecutive dry readings start a watering.
	TriggerReadings = 3
	// historyWindow bounds the history scan for qualifying readings.
	historyWindow = 10

	DefaultCheckInterval = 15 * time.Minute
)

// Sensor returns one filtered raw value for a channel, or nil when the
// channel could not be read.
type Sensor interface {
	RobustRead(channel int) *float64
}

type Classifier interface {
	Classify(raw float64) (int, model.Status)
}

type History interface {
	AppendEntry(model.HistoryEntry) error
	QueryRecent(zone int, kind model.EntryKind, limit int) ([]model.HistoryEntry, error)
}

type Settings interface {
	LoadSettings() ([]model.ZoneConfig, error)
}

type Actuator interface {
	StartWatering(zone int, d time.Duration, cause model.Cause) error
}

// Recorder receives every valid reading for telemetry.
type Recorder interface {
	RecordReading(model.Reading)
}

type Options struct {
	// Channels maps zone index to ADC channel.
	Channels      []int
	CheckInterval time.Duration
	InitialDelay  time.Duration
	// ZoneDelay spaces out reads of consecutive zones on the shared bus.
	ZoneDelay time.Duration
}

type Deps struct {
	Sensor     Sensor
	Classifier Classifier
	History    History
	Settings   Settings
	Actuator   Actuator
	Notifier   notifications.Notifier
	Clock      clockwork.Clock
	Recorders  []Recorder
}

type Controller struct {
	opts Options
	deps Deps

	inProgress atomic.Bool
	sleep      func(time.Duration)
	// running tracks the loop and every check it started.
	running sync.WaitGroup

	mu         sync.Mutex
	lastStatus map[int]model.Status
}

func New(opts Options, deps Deps) *Controller {
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = DefaultCheckInterval
	}
	if deps.Notifier == nil {
		deps.Notifier = notifications.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	return &Controller{
		opts:       opts,
		deps:       deps,
		sleep:      time.Sleep,
		lastStatus: make(map[int]model.Status),
	}
}

// RunMoistureController runs a check after the initial delay and then on every
// interval until ctx is done.
func (c *Controller) RunMoistureController(ctx context.Context) {
	c.running.Add(1)
	go func() {
		defer c.running.Done()
		log.Info().
			Dur("interval", c.opts.CheckInterval).
			Dur("initial_delay", c.opts.InitialDelay).
			Msg("Starting moisture controller")

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.opts.InitialDelay):
		}
		c.Check()

		ticker := time.NewTicker(c.opts.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// a slow cycle makes the next one skip rather than queue
				c.running.Add(1)
				go func() {
					defer c.running.Done()
					c.Check()
				}()
			}
		}
	}()
}

// Wait blocks until the loop has exited and no check it started is running.
// Cancel the loop's context first.
func (c *Controller) Wait() {
	c.running.Wait()
}

// ReadAll reads every zone once without recording anything.
func (c *Controller) ReadAll() ([]model.Reading, error) {
	zones, err := c.deps.Settings.LoadSettings()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return c.readZones(zones), nil
}

func (c *Controller) readZones(zones []model.ZoneConfig) []model.Reading {
	readings := make([]model.Reading, 0, len(zones))
	for i, z := range zones {
		if i > 0 && c.opts.ZoneDelay > 0 {
			c.sleep(c.opts.ZoneDelay)
		}
		readings = append(readings, c.readZone(z))
	}
	return readings
}

func (c *Controller) readZone(z model.ZoneConfig) model.Reading {
	r := model.Reading{Zone: z.Index, Channel: -1, Timestamp: c.deps.Clock.Now()}
	if z.Index >= 0 && z.Index < len(c.opts.Channels) {
		r.Channel = c.opts.Channels[z.Index]
	}

	if !z.Enabled || !z.SensorEnabled {
		r.Status = model.StatusDisabled
		return r
	}
	if r.Channel < 0 {
		log.Error().Int("zone", z.Index).Msg("No ADC channel configured for zone")
		r.Status = model.StatusError
		return r
	}

	raw := c.deps.Sensor.RobustRead(r.Channel)
	if raw == nil {
		r.Status = model.StatusError
		return r
	}
	percent, status := c.deps.Classifier.Classify(*raw)
	r.RawValue = raw
	r.MoisturePercent = &percent
	r.Status = status
	return r
}

// Check runs one decision cycle. It returns false without doing anything when
// another cycle is still running.
func (c *Controller) Check() bool {
	if !c.inProgress.CompareAndSwap(false, true) {
		log.Warn().Msg("Moisture check still in progress, skipping this cycle")
		return false
	}
	defer c.inProgress.Store(false)

	zones, err := c.deps.Settings.LoadSettings()
	if err != nil {
		log.Error().Err(err).Msg("Could not load zone settings for moisture check")
		return true
	}

	readings := c.readZones(zones)
	for _, r := range readings {
		if !r.Valid() {
			continue
		}
		entry := model.HistoryEntry{
			Zone:            r.Zone,
			Kind:            model.KindSensorReading,
			Timestamp:       r.Timestamp,
			RawValue:        r.RawValue,
			MoisturePercent: r.MoisturePercent,
			Status:          r.Status,
		}
		if err := c.deps.History.AppendEntry(entry); err != nil {
			log.Error().Err(err).Int("zone", r.Zone).Msg("Failed to record sensor reading")
		}
		for _, rec := range c.deps.Recorders {
			rec.RecordReading(r)
		}
	}

	for i, r := range readings {
		c.evaluateZone(zones[i], r)
	}
	return true
}

func (c *Controller) evaluateZone(z model.ZoneConfig, r model.Reading) {
	log.Debug().
		Int("zone", z.Index).
		Str("status", string(r.Status)).
		Msg("Evaluating zone moisture")

	if r.Status == model.StatusError {
		log.Error().Int("zone", z.Index).Int("channel", r.Channel).Msg("Sensor read failed, skipping zone")
		return
	}
	if r.Status == model.StatusDisabled {
		return
	}

	c.warnOnSaturation(z, r)

	recent, err := c.deps.History.QueryRecent(z.Index, model.KindSensorReading, historyWindow)
	if err != nil {
		log.Error().Err(err).Int("zone", z.Index).Msg("Could not load recent readings")
		return
	}
	if !shouldWater(recent) {
		return
	}

	log.Info().
		Int("zone", z.Index).
		Int("readings", TriggerReadings).
		Msg("Soil dry across consecutive readings, requesting watering")

	err = c.deps.Actuator.StartWatering(z.Index, z.WaterDuration(), model.CauseMoisture)
	if err != nil {
		if pumpcontroller.IsRejected(err) {
			log.Info().Err(err).Int("zone", z.Index).Msg("Moisture-triggered watering not started")
		} else {
			log.Error().Err(err).Int("zone", z.Index).Msg("Moisture-triggered watering failed")
		}
		return
	}

	c.deps.Notifier.Notify(notifications.Event{
		Kind:    notifications.KindAutomatic,
		Zone:    z.Index,
		Title:   fmt.Sprintf("%s: automatic watering", z.Name),
		Message: fmt.Sprintf("Soil dry (%d%%), watering for %s", derefPercent(r.MoisturePercent), z.WaterDuration()),
	})
}

// warnOnSaturation logs every saturated reading and notifies when a zone
// first becomes saturated.
func (c *Controller) warnOnSaturation(z model.ZoneConfig, r model.Reading) {
	c.mu.Lock()
	prev := c.lastStatus[z.Index]
	c.lastStatus[z.Index] = r.Status
	c.mu.Unlock()

	if r.Status != model.StatusWater {
		return
	}
	log.Warn().Int("zone", z.Index).Int("percent", derefPercent(r.MoisturePercent)).Msg("Soil over-saturated")
	if prev == model.StatusWater {
		return
	}
	c.deps.Notifier.Notify(notifications.Event{
		Kind:    notifications.KindWarning,
		Zone:    z.Index,
		Title:   fmt.Sprintf("%s is waterlogged", z.Name),
		Message: fmt.Sprintf("Moisture at %d%%, check drainage", derefPercent(r.MoisturePercent)),
	})
}

// shouldWater reports whether the newest TriggerReadings non-error readings,
// given newest first, all need water.
func shouldWater(recent []model.HistoryEntry) bool {
	qualifying := 0
	for _, e := range recent {
		if e.Status == model.StatusError {
			continue
		}
		if !e.Status.NeedsWater() {
			return false
		}
		qualifying++
		if qualifying == TriggerReadings {
			return true
		}
	}
	return false
}

func derefPercent(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
