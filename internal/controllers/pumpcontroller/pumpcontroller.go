package pumpcontroller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/irrigation-controller/internal/model"
	"github.com/thatsimonsguy/irrigation-controller/internal/notifications"
)

const (
	DefaultManualCooldown = 5 * time.Minute
	DefaultResetPoll      = time.Minute
)

type Relays interface {
	Setup(zone int) error
	Set(zone int, on bool) error
}

type StateStore interface {
	LoadActuatorState() ([]model.ActuatorState, error)
	SaveActuatorState([]model.ActuatorState) error
}

type History interface {
	AppendEntry(model.HistoryEntry) error
}

type Settings interface {
	LoadSettings() ([]model.ZoneConfig, error)
}

// Recorder receives every watering start and stop entry for telemetry.
type Recorder interface {
	RecordWatering(model.HistoryEntry)
}

type Options struct {
	Zones          int
	ManualCooldown time.Duration
	// MaxDailyManual caps manual starts per zone per day; 0 means no cap.
	MaxDailyManual int
	ResetPoll      time.Duration
	Location       *time.Location
}

type Deps struct {
	Relays    Relays
	States    StateStore
	History   History
	Settings  Settings
	Notifier  notifications.Notifier
	Clock     clockwork.Clock
	Recorders []Recorder
}

type zone struct {
	mu    sync.Mutex
	index int
	ready bool
	state model.ActuatorState
	cause model.Cause
	timer clockwork.Timer
	// gen invalidates auto-shutoff timers armed for earlier waterings.
	gen uint64
}

// Controller owns the relay of every zone. All starts and stops go through it.
//
// Each zone is guarded by its own mutex; the idle check, the transition to
// watering and the relay drive happen under it. Lock order is zone.mu then
// persistMu, and no two zone locks are ever held together.
type Controller struct {
	opts Options
	deps Deps

	zones []*zone

	persistMu sync.Mutex
	snapshot  []model.ActuatorState
}

func New(opts Options, deps Deps) *Controller {
	if opts.ManualCooldown <= 0 {
		opts.ManualCooldown = DefaultManualCooldown
	}
	if opts.ResetPoll <= 0 {
		opts.ResetPoll = DefaultResetPoll
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if deps.Notifier == nil {
		deps.Notifier = notifications.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	c := &Controller{
		opts:     opts,
		deps:     deps,
		zones:    make([]*zone, opts.Zones),
		snapshot: make([]model.ActuatorState, opts.Zones),
	}
	for i := range c.zones {
		c.zones[i] = &zone{index: i, state: model.ActuatorState{Zone: i}}
		c.snapshot[i] = model.ActuatorState{Zone: i}
	}
	return c
}

func (c *Controller) today() string {
	return c.deps.Clock.Now().In(c.opts.Location).Format(model.DateLayout)
}

// Init restores persisted counters and claims every relay in the off state.
// A zone whose relay cannot be set up stays uninitialised; the others carry on.
func (c *Controller) Init() {
	loaded, err := c.deps.States.LoadActuatorState()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load actuator state, starting with defaults")
		loaded = nil
	}
	prev := make(map[int]model.ActuatorState, len(loaded))
	for _, s := range loaded {
		prev[s.Zone] = s
	}

	today := c.today()
	for _, z := range c.zones {
		z.mu.Lock()

		st := model.ActuatorState{Zone: z.index, LastResetDate: today}
		if p, ok := prev[z.index]; ok {
			st.LastWateringStartMillis = p.LastWateringStartMillis
			if p.LastResetDate == today {
				st.DailyWateringCount = p.DailyWateringCount
			}
			if p.IsWatering {
				log.Warn().Int("zone", z.index).Msg("Zone was watering at last shutdown, forcing relay off")
			}
		}

		if err := c.deps.Relays.Setup(z.index); err != nil {
			z.ready = false
			log.Error().Err(err).Int("zone", z.index).Msg("Relay setup failed, zone unavailable")
			c.deps.Notifier.Notify(notifications.Event{
				Kind:    notifications.KindError,
				Zone:    z.index,
				Title:   fmt.Sprintf("Zone %d relay unavailable", z.index+1),
				Message: err.Error(),
			})
		} else {
			z.ready = true
		}

		z.state = st
		z.timer = nil
		c.persist(st)
		z.mu.Unlock()
	}

	log.Info().Int("zones", len(c.zones)).Str("date", today).Msg("Pump controller initialized")
}

func (c *Controller) zone(index int) (*zone, bool) {
	if index < 0 || index >= len(c.zones) {
		return nil, false
	}
	return c.zones[index], true
}

func (c *Controller) zoneEnabled(index int) (bool, error) {
	zones, err := c.deps.Settings.LoadSettings()
	if err != nil {
		return false, err
	}
	for _, z := range zones {
		if z.Index == index {
			return z.Enabled, nil
		}
	}
	return false, nil
}

// StartWatering switches a zone on for d. It returns nil when watering
// started, a *RejectedError when a precondition failed, or another error when
// the relay or settings could not be reached.
//
// Preconditions, in order: relay initialised, zone enabled, zone idle, and for
// manual starts the cooldown and the optional daily cap.
func (c *Controller) StartWatering(index int, d time.Duration, cause model.Cause) error {
	z, ok := c.zone(index)
	if !ok {
		return reject(index, ErrInvalidZone)
	}
	if d <= 0 {
		return reject(index, ErrInvalidDuration)
	}

	z.mu.Lock()
	defer z.mu.Unlock()

	if !z.ready {
		return c.rejected(index, cause, reject(index, ErrRelayUnavailable))
	}
	enabled, err := c.zoneEnabled(index)
	if err != nil {
		return fmt.Errorf("zone %d: load settings: %w", index, err)
	}
	if !enabled {
		return c.rejected(index, cause, reject(index, ErrZoneDisabled))
	}
	if z.state.IsWatering {
		return c.rejected(index, cause, reject(index, ErrAlreadyWatering))
	}

	now := c.deps.Clock.Now()
	if cause == model.CauseManual {
		if last := z.state.LastWateringStartMillis; last > 0 {
			elapsed := now.Sub(time.UnixMilli(last))
			if elapsed < c.opts.ManualCooldown {
				return c.rejected(index, cause, &RejectedError{
					Zone:       index,
					Reason:     ErrCooldown,
					RetryAfter: c.opts.ManualCooldown - elapsed,
				})
			}
		}
		if c.opts.MaxDailyManual > 0 && z.state.DailyWateringCount >= c.opts.MaxDailyManual {
			return c.rejected(index, cause, reject(index, ErrDailyLimit))
		}
	}

	if err := c.deps.Relays.Set(index, true); err != nil {
		log.Error().Err(err).Int("zone", index).Msg("Failed to switch relay on")
		if offErr := c.deps.Relays.Set(index, false); offErr != nil {
			log.Error().Err(offErr).Int("zone", index).Msg("Failed to return relay to off")
		}
		c.deps.Notifier.Notify(notifications.Event{
			Kind:    notifications.KindError,
			Zone:    index,
			Title:   fmt.Sprintf("Zone %d relay failure", index+1),
			Message: err.Error(),
		})
		return fmt.Errorf("zone %d: switch relay on: %w", index, err)
	}

	z.state.IsWatering = true
	z.state.LastWateringStartMillis = now.UnixMilli()
	if cause == model.CauseManual {
		z.state.DailyWateringCount++
	}
	z.cause = cause
	z.gen++
	gen := z.gen
	z.timer = c.deps.Clock.AfterFunc(d, func() {
		c.stop(index, true, gen)
	})

	c.persist(z.state)
	c.record(model.HistoryEntry{
		Zone:           index,
		Kind:           model.KindWateringStarted,
		Timestamp:      now,
		Cause:          cause,
		DurationMillis: d.Milliseconds(),
	})

	log.Info().
		Int("zone", index).
		Str("cause", string(cause)).
		Dur("duration", d).
		Int("daily_count", z.state.DailyWateringCount).
		Msg("Watering started")

	c.deps.Notifier.Notify(notifications.Event{
		Kind:    notifications.KindWateringStarted,
		Zone:    index,
		Title:   fmt.Sprintf("Zone %d watering started", index+1),
		Message: fmt.Sprintf("%s watering for %s", cause, d),
		Time:    now,
	})
	return nil
}

func (c *Controller) rejected(index int, cause model.Cause, err error) error {
	log.Info().Int("zone", index).Str("cause", string(cause)).Err(err).Msg("Watering start rejected")
	return err
}

// StopWatering stops a zone on operator request. It reports false when the
// zone is unknown, uninitialised or already idle.
func (c *Controller) StopWatering(index int) bool {
	return c.stop(index, false, 0)
}

func (c *Controller) stop(index int, automatic bool, gen uint64) bool {
	z, ok := c.zone(index)
	if !ok {
		return false
	}

	z.mu.Lock()
	defer z.mu.Unlock()

	if !z.ready || !z.state.IsWatering {
		return false
	}
	if automatic && gen != z.gen {
		return false
	}
	if z.timer != nil {
		z.timer.Stop()
		z.timer = nil
	}

	if err := c.deps.Relays.Set(index, false); err != nil {
		log.Error().Err(err).Int("zone", index).Msg("Failed to switch relay off")
		c.deps.Notifier.Notify(notifications.Event{
			Kind:    notifications.KindError,
			Zone:    index,
			Title:   fmt.Sprintf("Zone %d relay may still be on", index+1),
			Message: err.Error(),
		})
	}

	now := c.deps.Clock.Now()
	ran := now.Sub(time.UnixMilli(z.state.LastWateringStartMillis))
	z.state.IsWatering = false

	c.persist(z.state)
	c.record(model.HistoryEntry{
		Zone:           index,
		Kind:           model.KindWateringStopped,
		Timestamp:      now,
		Cause:          z.cause,
		Automatic:      automatic,
		DurationMillis: ran.Milliseconds(),
	})

	log.Info().
		Int("zone", index).
		Bool("automatic", automatic).
		Dur("ran", ran).
		Msg("Watering stopped")

	c.deps.Notifier.Notify(notifications.Event{
		Kind:    notifications.KindWateringStopped,
		Zone:    index,
		Title:   fmt.Sprintf("Zone %d watering finished", index+1),
		Message: fmt.Sprintf("Ran for %s", ran.Round(time.Second)),
		Time:    now,
	})
	return true
}

// StopAll stops every watering zone and returns how many were stopped.
func (c *Controller) StopAll() int {
	stopped := 0
	for i := range c.zones {
		if c.stop(i, false, 0) {
			stopped++
		}
	}
	if stopped > 0 {
		log.Info().Int("stopped", stopped).Msg("Stopped all watering zones")
	}
	return stopped
}

// ResetDailyCounts zeroes the daily counters of every zone whose reset date is
// not today. It returns the number of zones reset.
func (c *Controller) ResetDailyCounts() int {
	today := c.today()
	reset := 0
	for _, z := range c.zones {
		z.mu.Lock()
		if z.state.LastResetDate != today {
			z.state.DailyWateringCount = 0
			z.state.LastResetDate = today
			c.persist(z.state)
			reset++
		}
		z.mu.Unlock()
	}
	if reset > 0 {
		log.Info().Str("date", today).Int("zones", reset).Msg("Daily watering counters reset")
	}
	return reset
}

// RunDailyReset polls for a calendar date change until ctx is done.
func (c *Controller) RunDailyReset(ctx context.Context) {
	go func() {
		log.Info().Dur("poll", c.opts.ResetPoll).Msg("Starting daily reset loop")
		ticker := time.NewTicker(c.opts.ResetPoll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.ResetDailyCounts()
			}
		}
	}()
}

// State returns a copy of a zone's actuator state.
func (c *Controller) State(index int) (model.ActuatorState, bool) {
	z, ok := c.zone(index)
	if !ok {
		return model.ActuatorState{}, false
	}
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.state, true
}

func (c *Controller) IsWatering(index int) bool {
	st, ok := c.State(index)
	return ok && st.IsWatering
}

// Statuses returns the state of every zone. Names are left for the caller.
func (c *Controller) Statuses() []model.ZoneStatus {
	out := make([]model.ZoneStatus, 0, len(c.zones))
	for _, z := range c.zones {
		z.mu.Lock()
		s := model.ZoneStatus{
			Zone:               z.index,
			Initialized:        z.ready,
			IsWatering:         z.state.IsWatering,
			DailyWateringCount: z.state.DailyWateringCount,
			LastResetDate:      z.state.LastResetDate,
		}
		if z.state.LastWateringStartMillis > 0 {
			t := time.UnixMilli(z.state.LastWateringStartMillis)
			s.LastWateringStart = &t
		}
		z.mu.Unlock()
		out = append(out, s)
	}
	return out
}

func (c *Controller) Zones() int {
	return len(c.zones)
}

// persist stores the full actuator snapshot with st applied. Write failures
// are logged; the in-memory state and the relay are never rolled back.
func (c *Controller) persist(st model.ActuatorState) {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	c.snapshot[st.Zone] = st
	snap := append([]model.ActuatorState(nil), c.snapshot...)
	if err := c.deps.States.SaveActuatorState(snap); err != nil {
		log.Error().Err(err).Int("zone", st.Zone).Msg("Failed to persist actuator state")
	}
}

func (c *Controller) record(e model.HistoryEntry) {
	if err := c.deps.History.AppendEntry(e); err != nil {
		log.Error().Err(err).Int("zone", e.Zone).Str("kind", string(e.Kind)).Msg("Failed to append history entry")
	}
	for _, r := range c.deps.Recorders {
		r.RecordWatering(e)
	}
}
