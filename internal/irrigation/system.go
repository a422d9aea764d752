// Package irrigation ties the pump, moisture and schedule controllers into a
// single System that owns the relays, the ADC and the stores.
package irrigation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/irrigation-controller/db"
	"github.com/thatsimonsguy/irrigation-controller/internal/adc"
	"github.com/thatsimonsguy/irrigation-controller/internal/config"
	"github.com/thatsimonsguy/irrigation-controller/internal/controllers/moisturecontroller"
	"github.com/thatsimonsguy/irrigation-controller/internal/controllers/pumpcontroller"
	"github.com/thatsimonsguy/irrigation-controller/internal/controllers/schedulecontroller"
	"github.com/thatsimonsguy/irrigation-controller/internal/gpio"
	"github.com/thatsimonsguy/irrigation-controller/internal/model"
	"github.com/thatsimonsguy/irrigation-controller/internal/moisture"
	"github.com/thatsimonsguy/irrigation-controller/internal/notifications"
)

// Recorder receives readings and watering events for telemetry.
type Recorder interface {
	RecordReading(model.Reading)
	RecordWatering(model.HistoryEntry)
}

type Options struct {
	Zones int
	// Channels maps zone index to ADC channel.
	Channels       []int
	Location       *time.Location
	ManualCooldown time.Duration
	MaxDailyManual int
	ResetPoll      time.Duration

	CheckInterval time.Duration
	InitialDelay  time.Duration
	ZoneDelay     time.Duration

	Thresholds       moisture.Thresholds
	SampleAttempts   int
	SampleDelay      time.Duration
	OutlierTolerance float64

	DefaultSchedule func(zone int) (string, int)
}

// OptionsFromConfig converts a validated configuration.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	loc := time.Local
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return Options{}, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}
	t := cfg.Moisture.Thresholds
	return Options{
		Zones:            len(cfg.Zones),
		Channels:         cfg.ADCChannels(),
		Location:         loc,
		ManualCooldown:   time.Duration(cfg.Watering.ManualCooldownSeconds) * time.Second,
		MaxDailyManual:   cfg.Watering.MaxDailyManual,
		ResetPoll:        time.Duration(cfg.DailyResetPollSeconds) * time.Second,
		CheckInterval:    time.Duration(cfg.CheckIntervalSeconds) * time.Second,
		InitialDelay:     time.Duration(cfg.InitialCheckDelaySeconds) * time.Second,
		ZoneDelay:        100 * time.Millisecond,
		Thresholds:       moisture.Thresholds{Air: t.Air, Dry: t.Dry, Moist: t.Moist, Wet: t.Wet, Water: t.Water},
		SampleAttempts:   cfg.ADC.Attempts,
		SampleDelay:      time.Duration(cfg.ADC.SampleDelayMs) * time.Millisecond,
		OutlierTolerance: cfg.ADC.OutlierTolerance,
		DefaultSchedule:  config.DefaultSchedule,
	}, nil
}

type Deps struct {
	Store *db.Store
	// States overrides where actuator state is kept; defaults to Store.
	States pumpcontroller.StateStore
	Relays gpio.Relays
	// ADC may be nil when the converter could not be opened; every reading
	// then reports an error status.
	ADC       adc.Reader
	Notifier  notifications.Notifier
	Clock     clockwork.Clock
	Recorders []Recorder
}

type System struct {
	opts Options
	deps Deps

	pump     *pumpcontroller.Controller
	moisture *moisturecontroller.Controller
	schedule *schedulecontroller.Controller

	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

type unavailableADC struct{}

func (unavailableADC) ReadRaw(channel int) (float64, error) {
	return 0, errors.New("adc unavailable")
}

func (unavailableADC) Close() error { return nil }

func New(opts Options, deps Deps) *System {
	if deps.States == nil {
		deps.States = deps.Store
	}
	if deps.ADC == nil {
		deps.ADC = unavailableADC{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notifications.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	pumpRecorders := make([]pumpcontroller.Recorder, 0, len(deps.Recorders))
	readingRecorders := make([]moisturecontroller.Recorder, 0, len(deps.Recorders))
	for _, r := range deps.Recorders {
		pumpRecorders = append(pumpRecorders, r)
		readingRecorders = append(readingRecorders, r)
	}

	s := &System{opts: opts, deps: deps}
	s.pump = pumpcontroller.New(pumpcontroller.Options{
		Zones:          opts.Zones,
		ManualCooldown: opts.ManualCooldown,
		MaxDailyManual: opts.MaxDailyManual,
		ResetPoll:      opts.ResetPoll,
		Location:       opts.Location,
	}, pumpcontroller.Deps{
		Relays:    deps.Relays,
		States:    deps.States,
		History:   deps.Store,
		Settings:  deps.Store,
		Notifier:  deps.Notifier,
		Clock:     deps.Clock,
		Recorders: pumpRecorders,
	})

	sensor := moisture.NewSensor(deps.ADC, opts.SampleAttempts, opts.SampleDelay, opts.OutlierTolerance)
	s.moisture = moisturecontroller.New(moisturecontroller.Options{
		Channels:      opts.Channels,
		CheckInterval: opts.CheckInterval,
		InitialDelay:  opts.InitialDelay,
		ZoneDelay:     opts.ZoneDelay,
	}, moisturecontroller.Deps{
		Sensor:     sensor,
		Classifier: opts.Thresholds,
		History:    deps.Store,
		Settings:   deps.Store,
		Actuator:   s.pump,
		Notifier:   deps.Notifier,
		Clock:      deps.Clock,
		Recorders:  readingRecorders,
	})

	s.schedule = schedulecontroller.New(schedulecontroller.Options{
		Location: opts.Location,
		Defaults: opts.DefaultSchedule,
	}, schedulecontroller.Deps{
		Settings: deps.Store,
		History:  deps.Store,
		Actuator: s.pump,
		Notifier: deps.Notifier,
		Clock:    deps.Clock,
	})
	return s
}

// Start claims the relays in the off state and starts the schedule, moisture
// and daily reset loops.
func (s *System) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	s.pump.Init()
	if err := s.schedule.RunScheduleController(); err != nil {
		s.cancel()
		return fmt.Errorf("start schedules: %w", err)
	}
	s.moisture.RunMoistureController(ctx)
	s.pump.RunDailyReset(ctx)

	s.deps.Notifier.Notify(notifications.Event{
		Kind:    notifications.KindSystem,
		Zone:    notifications.NoZone,
		Title:   "Irrigation controller started",
		Message: fmt.Sprintf("%d zones online", s.opts.Zones),
		Time:    s.deps.Clock.Now(),
	})
	return nil
}

// Shutdown stops every watering zone before the relays and the ADC are
// released. It is safe to call more than once.
func (s *System) Shutdown() {
	s.shutdownOnce.Do(func() {
		log.Info().Msg("Shutting down irrigation system")
		if s.cancel != nil {
			s.cancel()
		}
		s.schedule.Stop()
		// a check already reading sensors may still start a zone
		s.moisture.Wait()

		stopped := s.pump.StopAll()

		if err := s.deps.Relays.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to release relays")
		}
		if err := s.deps.ADC.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to release ADC")
		}

		s.deps.Notifier.Notify(notifications.Event{
			Kind:    notifications.KindSystem,
			Zone:    notifications.NoZone,
			Title:   "Irrigation controller stopped",
			Message: fmt.Sprintf("%d zones were stopped", stopped),
			Time:    s.deps.Clock.Now(),
		})
		if c, ok := s.deps.Notifier.(interface{ Close() }); ok {
			c.Close()
		}
		for _, r := range s.deps.Recorders {
			if c, ok := r.(interface{ Close() error }); ok {
				if err := c.Close(); err != nil {
					log.Warn().Err(err).Msg("Failed to close telemetry recorder")
				}
			}
		}
	})
}

// StartWatering is the manual trigger: cooldown and daily cap apply.
func (s *System) StartWatering(zone int, d time.Duration) error {
	return s.pump.StartWatering(zone, d, model.CauseManual)
}

func (s *System) StopWatering(zone int) bool {
	return s.pump.StopWatering(zone)
}

func (s *System) StopAll() int {
	return s.pump.StopAll()
}

// ZoneStates returns actuator state and the configured name of every zone.
func (s *System) ZoneStates() ([]model.ZoneStatus, error) {
	zones, err := s.deps.Store.LoadSettings()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	names := make(map[int]string, len(zones))
	for _, z := range zones {
		names[z.Index] = z.Name
	}

	statuses := s.pump.Statuses()
	for i := range statuses {
		statuses[i].Name = names[statuses[i].Zone]
	}
	return statuses, nil
}

func (s *System) UpdateZoneSchedule(zone int, expr string, durationSeconds int, enabled bool) error {
	return s.schedule.Update(zone, expr, durationSeconds, enabled)
}

// NextWateringTime reports false when the zone has no active schedule or the
// expression never matches.
func (s *System) NextWateringTime(zone int) (time.Time, bool) {
	return s.schedule.NextWateringTime(zone)
}

// ReadAllZoneReadings reads every sensor once without recording the result.
func (s *System) ReadAllZoneReadings() ([]model.Reading, error) {
	return s.moisture.ReadAll()
}

// CheckMoisture runs one decision cycle now. It reports false when a cycle is
// already running.
func (s *System) CheckMoisture() bool {
	return s.moisture.Check()
}

func (s *System) UpdateZoneName(zone int, name string) (bool, error) {
	return s.deps.Store.UpdateZoneName(zone, name)
}

// SetZoneEnabled stores the flag and reinstalls the zone's schedule. Disabling
// a zone also stops a running watering.
func (s *System) SetZoneEnabled(zone int, enabled bool) error {
	if err := s.deps.Store.SetZoneEnabled(zone, enabled); err != nil {
		return err
	}
	if !enabled && s.pump.StopWatering(zone) {
		log.Info().Int("zone", zone).Msg("Zone disabled while watering, stopped")
	}
	return s.schedule.Refresh(zone)
}

func (s *System) SetSensorEnabled(zone int, enabled bool) error {
	return s.deps.Store.SetSensorEnabled(zone, enabled)
}

func (s *System) ScheduleInfo() ([]model.ScheduleJob, error) {
	return s.schedule.Info()
}

func (s *System) RestartAllSchedules() error {
	return s.schedule.RestartAll()
}

func (s *System) ResetToDefaultSchedules() error {
	return s.schedule.ResetToDefaults()
}
