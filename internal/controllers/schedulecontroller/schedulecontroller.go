package schedulecontroller

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/irrigation-controller/internal/model"
	"github.com/thatsimonsguy/irrigation-controller/internal/notifications"
	"github.com/thatsimonsguy/irrigation-controller/internal/recurrence"
)

var (
	ErrUnknownZone     = errors.New("unknown zone")
	ErrInvalidDuration = errors.New("watering duration must be positive")
)

type Settings interface {
	LoadSettings() ([]model.ZoneConfig, error)
	UpdateZoneSchedule(zone int, expr string, durationSeconds int, enabled bool) error
}

type History interface {
	AppendEntry(model.HistoryEntry) error
}

type Actuator interface {
	StartWatering(zone int, d time.Duration, cause model.Cause) error
}

type Options struct {
	Location *time.Location
	// Defaults returns the factory schedule and duration in seconds for a zone.
	Defaults func(zone int) (string, int)
}

type Deps struct {
	Settings Settings
	History  History
	Actuator Actuator
	Notifier notifications.Notifier
	Clock    clockwork.Clock
}

// Controller keeps at most one cron entry per zone.
type Controller struct {
	opts Options
	deps Deps
	cron *cron.Cron

	mu   sync.Mutex
	jobs map[int]cron.EntryID
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}

func New(opts Options, deps Deps) *Controller {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if deps.Notifier == nil {
		deps.Notifier = notifications.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	return &Controller{
		opts: opts,
		deps: deps,
		cron: cron.New(
			cron.WithLocation(opts.Location),
			cron.WithLogger(cronLogger{}),
			cron.WithChain(cron.Recover(cronLogger{})),
		),
		jobs: make(map[int]cron.EntryID),
	}
}

// RunScheduleController installs a job for every scheduled zone and starts the
// cron runner.
func (c *Controller) RunScheduleController() error {
	if err := c.RestartAll(); err != nil {
		return err
	}
	c.cron.Start()
	log.Info().Msg("Starting schedule controller")
	return nil
}

// Stop halts the cron runner and waits for running jobs to return.
func (c *Controller) Stop() {
	<-c.cron.Stop().Done()
}

// Update validates and stores a zone's schedule, then replaces its job.
// An invalid expression leaves the stored schedule and the live job untouched.
func (c *Controller) Update(zone int, expr string, durationSeconds int, enabled bool) error {
	if err := recurrence.Validate(expr); err != nil {
		return err
	}
	if durationSeconds <= 0 {
		return ErrInvalidDuration
	}
	if _, err := c.zoneConfig(zone); err != nil {
		return err
	}

	if err := c.deps.Settings.UpdateZoneSchedule(zone, expr, durationSeconds, enabled); err != nil {
		return fmt.Errorf("store schedule for zone %d: %w", zone, err)
	}

	z, err := c.zoneConfig(zone)
	if err != nil {
		return err
	}
	active := c.install(z)

	log.Info().
		Int("zone", zone).
		Str("schedule", expr).
		Int("duration_s", durationSeconds).
		Bool("active", active).
		Msg("Zone schedule updated")

	msg := fmt.Sprintf("%s for %ds", expr, durationSeconds)
	if !active {
		msg += " (inactive)"
	}
	c.deps.Notifier.Notify(notifications.Event{
		Kind:    notifications.KindScheduleChanged,
		Zone:    zone,
		Title:   fmt.Sprintf("%s schedule changed", z.Name),
		Message: msg,
	})
	return nil
}

// Refresh reinstalls one zone's job from the stored settings, e.g. after the
// zone was enabled or disabled.
func (c *Controller) Refresh(zone int) error {
	z, err := c.zoneConfig(zone)
	if err != nil {
		return err
	}
	c.install(z)
	return nil
}

// RestartAll drops every job and reinstalls them from the stored settings.
// A zone stored without an expression or a positive duration gets its factory
// default, which is written back.
func (c *Controller) RestartAll() error {
	zones, err := c.deps.Settings.LoadSettings()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	active := 0
	for _, z := range zones {
		filled := c.withDefaults(z)
		if filled != z {
			if err := c.deps.Settings.UpdateZoneSchedule(z.Index, filled.Schedule, filled.WaterDurationSeconds, z.ScheduleEnabled); err != nil {
				log.Error().Err(err).Int("zone", z.Index).Msg("Could not store default schedule")
			}
		}
		if c.install(filled) {
			active++
		}
	}
	log.Info().Int("active", active).Int("zones", len(zones)).Msg("Schedules loaded")
	return nil
}

// ResetToDefaults restores the factory expression and duration of every zone,
// keeping each zone's schedule-enabled flag.
func (c *Controller) ResetToDefaults() error {
	if c.opts.Defaults == nil {
		return errors.New("no default schedules configured")
	}
	zones, err := c.deps.Settings.LoadSettings()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	for _, z := range zones {
		expr, dur := c.opts.Defaults(z.Index)
		if err := c.deps.Settings.UpdateZoneSchedule(z.Index, expr, dur, z.ScheduleEnabled); err != nil {
			return fmt.Errorf("reset schedule for zone %d: %w", z.Index, err)
		}
	}
	return c.RestartAll()
}

func (c *Controller) withDefaults(z model.ZoneConfig) model.ZoneConfig {
	if c.opts.Defaults == nil || (z.Schedule != "" && z.WaterDurationSeconds > 0) {
		return z
	}
	expr, dur := c.opts.Defaults(z.Index)
	if z.Schedule == "" {
		z.Schedule = expr
	}
	if z.WaterDurationSeconds <= 0 {
		z.WaterDurationSeconds = dur
	}
	return z
}

// install removes any job for the zone and adds a fresh one when the zone is
// enabled and scheduled. It reports whether a job is now active.
func (c *Controller) install(z model.ZoneConfig) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.jobs[z.Index]; ok {
		c.cron.Remove(id)
		delete(c.jobs, z.Index)
	}
	if !z.Enabled || !z.ScheduleEnabled {
		return false
	}

	sched, err := recurrence.Parse(z.Schedule)
	if err != nil {
		log.Error().Err(err).Int("zone", z.Index).Msg("Stored schedule is invalid, zone left unscheduled")
		return false
	}
	zone := z.Index
	c.jobs[zone] = c.cron.Schedule(sched, cron.FuncJob(func() { c.fire(zone) }))
	return true
}

func (c *Controller) fire(zone int) {
	z, err := c.zoneConfig(zone)
	if err != nil {
		log.Error().Err(err).Int("zone", zone).Msg("Scheduled watering: could not load zone")
		return
	}
	z = c.withDefaults(z)
	if !z.Enabled || !z.ScheduleEnabled {
		log.Info().Int("zone", zone).Msg("Scheduled watering skipped, zone no longer scheduled")
		return
	}

	d := z.WaterDuration()
	if err := c.deps.Actuator.StartWatering(zone, d, model.CauseScheduled); err != nil {
		log.Warn().Err(err).Int("zone", zone).Str("schedule", z.Schedule).Msg("Scheduled watering not started")
		c.deps.Notifier.Notify(notifications.Event{
			Kind:    notifications.KindWarning,
			Zone:    zone,
			Title:   fmt.Sprintf("%s: scheduled watering skipped", z.Name),
			Message: err.Error(),
		})
		return
	}

	now := c.deps.Clock.Now()
	entry := model.HistoryEntry{
		Zone:           zone,
		Kind:           model.KindScheduledWatering,
		Timestamp:      now,
		Cause:          model.CauseScheduled,
		DurationMillis: d.Milliseconds(),
		Schedule:       z.Schedule,
	}
	if err := c.deps.History.AppendEntry(entry); err != nil {
		log.Error().Err(err).Int("zone", zone).Msg("Failed to record scheduled watering")
	}

	c.deps.Notifier.Notify(notifications.Event{
		Kind:    notifications.KindScheduled,
		Zone:    zone,
		Title:   fmt.Sprintf("%s: scheduled watering", z.Name),
		Message: fmt.Sprintf("Watering for %s (%s)", d, z.Schedule),
		Time:    now,
	})
}

// NextWateringTime returns when the zone's schedule fires next. ok is false
// when the zone is not scheduled or its expression cannot be evaluated.
func (c *Controller) NextWateringTime(zone int) (time.Time, bool) {
	z, err := c.zoneConfig(zone)
	if err != nil || !z.Enabled || !z.ScheduleEnabled {
		return time.Time{}, false
	}
	return recurrence.Next(z.Schedule, c.deps.Clock.Now().In(c.opts.Location))
}

// Info describes the schedule of every zone.
func (c *Controller) Info() ([]model.ScheduleJob, error) {
	zones, err := c.deps.Settings.LoadSettings()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	c.mu.Lock()
	active := make(map[int]bool, len(c.jobs))
	for zone := range c.jobs {
		active[zone] = true
	}
	c.mu.Unlock()

	now := c.deps.Clock.Now().In(c.opts.Location)
	jobs := make([]model.ScheduleJob, 0, len(zones))
	for _, z := range zones {
		job := model.ScheduleJob{
			Zone:            z.Index,
			Expression:      z.Schedule,
			DurationSeconds: z.WaterDurationSeconds,
			Active:          active[z.Index],
		}
		if job.Active {
			if next, ok := recurrence.Next(z.Schedule, now); ok {
				job.Next = &next
			}
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (c *Controller) zoneConfig(zone int) (model.ZoneConfig, error) {
	zones, err := c.deps.Settings.LoadSettings()
	if err != nil {
		return model.ZoneConfig{}, fmt.Errorf("load settings: %w", err)
	}
	for _, z := range zones {
		if z.Index == zone {
			return z, nil
		}
	}
	return model.ZoneConfig{}, fmt.Errorf("zone %d: %w", zone, ErrUnknownZone)
}
