package pumpcontroller

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/irrigation-controller/internal/gpio"
	"github.com/thatsimonsguy/irrigation-controller/internal/model"
)

type memStore struct {
	mu       sync.Mutex
	zones    []model.ZoneConfig
	states   []model.ActuatorState
	history  []model.HistoryEntry
	saveErr  error
	saves    int
	loadErr  error
	recorded []model.HistoryEntry
}

func newMemStore(zones int) *memStore {
	s := &memStore{}
	for i := 0; i < zones; i++ {
		s.zones = append(s.zones, model.ZoneConfig{Index: i, Name: "zone", Enabled: true, WaterDurationSeconds: 10})
	}
	return s
}

func (s *memStore) LoadSettings() ([]model.ZoneConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ZoneConfig(nil), s.zones...), nil
}

func (s *memStore) LoadActuatorState() ([]model.ActuatorState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return append([]model.ActuatorState(nil), s.states...), nil
}

func (s *memStore) SaveActuatorState(states []model.ActuatorState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.states = append([]model.ActuatorState(nil), states...)
	return nil
}

func (s *memStore) AppendEntry(e model.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, e)
	return nil
}

func (s *memStore) RecordWatering(e model.HistoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = append(s.recorded, e)
}

func (s *memStore) entries(kind model.EntryKind) []model.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.HistoryEntry
	for _, e := range s.history {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

var start = time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

type harness struct {
	ctrl   *Controller
	relays *gpio.Fake
	store  *memStore
	clock  *clockwork.FakeClock
}

func newHarness(t *testing.T, zones int, opts Options) *harness {
	t.Helper()
	h := &harness{
		relays: gpio.NewFake(zones),
		store:  newMemStore(zones),
		clock:  clockwork.NewFakeClockAt(start),
	}
	h.build(opts)
	return h
}

func (h *harness) build(opts Options) {
	opts.Zones = len(h.store.zones)
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	h.ctrl = New(opts, Deps{
		Relays:    h.relays,
		States:    h.store,
		History:   h.store,
		Settings:  h.store,
		Clock:     h.clock,
		Recorders: []Recorder{h.store},
	})
	h.ctrl.Init()
}

// advanceUntilIdle moves the clock by d and waits for the zone's auto-shutoff,
// which the fake clock runs on its own goroutine.
func (h *harness) advanceUntilIdle(t *testing.T, index int, d time.Duration) {
	t.Helper()
	h.clock.Advance(d)
	require.Eventually(t, func() bool { return !h.ctrl.IsWatering(index) }, time.Second, time.Millisecond)
}

func (c *Controller) timerArmed(index int) bool {
	z := c.zones[index]
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.timer != nil
}

func TestStartWatering_RejectsWhileWatering(t *testing.T) {
	h := newHarness(t, 2, Options{})

	require.NoError(t, h.ctrl.StartWatering(0, 10*time.Second, model.CauseScheduled))
	assert.True(t, h.relays.IsOn(0))

	for _, cause := range []model.Cause{model.CauseManual, model.CauseScheduled, model.CauseMoisture} {
		err := h.ctrl.StartWatering(0, 10*time.Second, cause)
		assert.ErrorIs(t, err, ErrAlreadyWatering)
		assert.True(t, IsRejected(err))
	}

	assert.Equal(t, 1, h.relays.OnCount(0))
	assert.Len(t, h.store.entries(model.KindWateringStarted), 1)
	assert.Len(t, h.store.recorded, 1)
}

func TestStartWatering_ConcurrentTriggers(t *testing.T) {
	h := newHarness(t, 1, Options{})

	causes := []model.Cause{model.CauseManual, model.CauseScheduled, model.CauseMoisture, model.CauseScheduled}
	results := make([]error, len(causes))
	var ready, wg sync.WaitGroup
	gate := make(chan struct{})
	for i, cause := range causes {
		ready.Add(1)
		wg.Add(1)
		go func(i int, cause model.Cause) {
			defer wg.Done()
			ready.Done()
			<-gate
			results[i] = h.ctrl.StartWatering(0, time.Minute, cause)
		}(i, cause)
	}
	ready.Wait()
	close(gate)
	wg.Wait()

	started := 0
	for _, err := range results {
		if err == nil {
			started++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyWatering)
		}
	}
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, h.relays.OnCount(0))
	assert.Len(t, h.store.entries(model.KindWateringStarted), 1)
}

func TestAutoShutoff_FakeClock(t *testing.T) {
	h := newHarness(t, 1, Options{})

	require.NoError(t, h.ctrl.StartWatering(0, 100*time.Millisecond, model.CauseManual))
	h.clock.Advance(99 * time.Millisecond)
	assert.True(t, h.ctrl.IsWatering(0))

	h.advanceUntilIdle(t, 0, time.Millisecond)
	assert.False(t, h.relays.IsOn(0))

	stopped := h.store.entries(model.KindWateringStopped)
	require.Len(t, stopped, 1)
	assert.True(t, stopped[0].Automatic)
	assert.Equal(t, model.CauseManual, stopped[0].Cause)
	assert.Equal(t, int64(100), stopped[0].DurationMillis)
}

func TestAutoShutoff_RealClock(t *testing.T) {
	relays := gpio.NewFake(1)
	store := newMemStore(1)
	ctrl := New(Options{Zones: 1}, Deps{Relays: relays, States: store, History: store, Settings: store})
	ctrl.Init()

	require.NoError(t, ctrl.StartWatering(0, 100*time.Millisecond, model.CauseManual))
	assert.True(t, relays.IsOn(0))

	assert.Eventually(t, func() bool {
		return !ctrl.IsWatering(0) && !relays.IsOn(0)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManualCooldownScenario(t *testing.T) {
	h := newHarness(t, 4, Options{ManualCooldown: 5 * time.Minute})

	require.NoError(t, h.ctrl.StartWatering(1, 5000*time.Millisecond, model.CauseManual))

	// auto-shutoff after 5s
	h.advanceUntilIdle(t, 1, 60000*time.Millisecond)
	err := h.ctrl.StartWatering(1, 5000*time.Millisecond, model.CauseManual)
	require.ErrorIs(t, err, ErrCooldown)
	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, 240*time.Second, rejected.RetryAfter)

	h.clock.Advance(240001 * time.Millisecond)
	require.NoError(t, h.ctrl.StartWatering(1, 5000*time.Millisecond, model.CauseManual))

	st, _ := h.ctrl.State(1)
	assert.Equal(t, 2, st.DailyWateringCount)
}

func TestNonManualBypassesCooldownAndCount(t *testing.T) {
	h := newHarness(t, 1, Options{MaxDailyManual: 1})

	require.NoError(t, h.ctrl.StartWatering(0, time.Second, model.CauseManual))
	h.advanceUntilIdle(t, 0, time.Second)

	require.NoError(t, h.ctrl.StartWatering(0, time.Second, model.CauseScheduled))
	h.advanceUntilIdle(t, 0, time.Second)
	require.NoError(t, h.ctrl.StartWatering(0, time.Second, model.CauseMoisture))
	h.advanceUntilIdle(t, 0, time.Second)

	st, _ := h.ctrl.State(0)
	assert.Equal(t, 1, st.DailyWateringCount)

	h.clock.Advance(10 * time.Minute)
	err := h.ctrl.StartWatering(0, time.Second, model.CauseManual)
	assert.ErrorIs(t, err, ErrDailyLimit)
}

func TestStartWatering_Preconditions(t *testing.T) {
	h := newHarness(t, 3, Options{})
	h.relays.FailSetup(2, errors.New("line busy"))
	h.build(Options{})
	h.store.zones[1].Enabled = false

	assert.ErrorIs(t, h.ctrl.StartWatering(5, time.Second, model.CauseManual), ErrInvalidZone)
	assert.ErrorIs(t, h.ctrl.StartWatering(0, 0, model.CauseManual), ErrInvalidDuration)
	assert.ErrorIs(t, h.ctrl.StartWatering(1, time.Second, model.CauseManual), ErrZoneDisabled)
	assert.ErrorIs(t, h.ctrl.StartWatering(2, time.Second, model.CauseScheduled), ErrRelayUnavailable)
	assert.False(t, h.ctrl.StopWatering(2))

	// other zones carry on
	require.NoError(t, h.ctrl.StartWatering(0, time.Second, model.CauseManual))

	statuses := h.ctrl.Statuses()
	assert.True(t, statuses[0].Initialized)
	assert.False(t, statuses[2].Initialized)
	assert.True(t, statuses[0].IsWatering)
	require.NotNil(t, statuses[0].LastWateringStart)
}

func TestStartWatering_RelayFailure(t *testing.T) {
	h := newHarness(t, 1, Options{})
	h.relays.FailSet(0, errors.New("write failed"))

	err := h.ctrl.StartWatering(0, time.Second, model.CauseManual)
	require.Error(t, err)
	assert.False(t, IsRejected(err))
	assert.False(t, h.ctrl.IsWatering(0))
	assert.Empty(t, h.store.entries(model.KindWateringStarted))
	assert.False(t, h.ctrl.timerArmed(0))
}

func TestStopWatering_ManualCancelsTimer(t *testing.T) {
	h := newHarness(t, 1, Options{})

	require.NoError(t, h.ctrl.StartWatering(0, 10*time.Second, model.CauseScheduled))
	h.clock.Advance(2 * time.Second)

	assert.True(t, h.ctrl.StopWatering(0))
	assert.False(t, h.ctrl.StopWatering(0))
	assert.False(t, h.relays.IsOn(0))

	require.NoError(t, h.ctrl.StartWatering(0, 10*time.Second, model.CauseScheduled))
	h.clock.Advance(8 * time.Second)
	assert.True(t, h.ctrl.IsWatering(0), "timer from the first run must not stop the second")

	h.advanceUntilIdle(t, 0, 2*time.Second)

	stopped := h.store.entries(model.KindWateringStopped)
	require.Len(t, stopped, 2)
	assert.False(t, stopped[0].Automatic)
	assert.True(t, stopped[1].Automatic)
}

func TestStaleTimerGeneration(t *testing.T) {
	h := newHarness(t, 1, Options{})

	require.NoError(t, h.ctrl.StartWatering(0, 10*time.Second, model.CauseScheduled))
	gen := h.ctrl.zones[0].gen

	// a firing from an earlier generation is ignored
	assert.False(t, h.ctrl.stop(0, true, gen-1))
	assert.True(t, h.ctrl.IsWatering(0))
	assert.True(t, h.ctrl.stop(0, true, gen))
}

func TestStopAll(t *testing.T) {
	h := newHarness(t, 4, Options{})

	require.NoError(t, h.ctrl.StartWatering(0, time.Minute, model.CauseManual))
	require.NoError(t, h.ctrl.StartWatering(3, time.Minute, model.CauseScheduled))

	assert.Equal(t, 2, h.ctrl.StopAll())
	assert.Equal(t, 0, h.ctrl.StopAll())
	for i := 0; i < 4; i++ {
		assert.False(t, h.relays.IsOn(i))
		assert.False(t, h.ctrl.timerArmed(i))
	}
}

func TestActuatorStateRestart(t *testing.T) {
	h := newHarness(t, 2, Options{})
	require.NoError(t, h.ctrl.StartWatering(0, time.Second, model.CauseManual))
	h.advanceUntilIdle(t, 0, time.Second)
	require.NoError(t, h.ctrl.StartWatering(1, time.Minute, model.CauseManual))

	before0, _ := h.ctrl.State(0)
	before1, _ := h.ctrl.State(1)
	require.True(t, before1.IsWatering)

	t.Run("same day", func(t *testing.T) {
		// simulated crash: the old clock's timers never fire
		h.clock = clockwork.NewFakeClockAt(start.Add(time.Hour))
		relays := gpio.NewFake(2)
		h.relays = relays
		h.build(Options{})

		after0, _ := h.ctrl.State(0)
		after1, _ := h.ctrl.State(1)
		assert.Equal(t, before0.DailyWateringCount, after0.DailyWateringCount)
		assert.Equal(t, before0.LastWateringStartMillis, after0.LastWateringStartMillis)
		assert.Equal(t, before1.LastWateringStartMillis, after1.LastWateringStartMillis)
		assert.Equal(t, 1, after1.DailyWateringCount)
		assert.False(t, after1.IsWatering, "watering flag is never trusted after restart")
		assert.False(t, relays.IsOn(1))
	})

	t.Run("next day", func(t *testing.T) {
		h.clock = clockwork.NewFakeClockAt(start.Add(24 * time.Hour))
		h.build(Options{})

		after0, _ := h.ctrl.State(0)
		assert.Equal(t, 0, after0.DailyWateringCount)
		assert.Equal(t, before0.LastWateringStartMillis, after0.LastWateringStartMillis)
		assert.Equal(t, "2024-06-04", after0.LastResetDate)

		saved, err := h.store.LoadActuatorState()
		require.NoError(t, err)
		assert.Equal(t, 0, saved[0].DailyWateringCount)
	})
}

func TestInit_NoPersistedState(t *testing.T) {
	h := newHarness(t, 2, Options{})

	st, ok := h.ctrl.State(1)
	require.True(t, ok)
	assert.Equal(t, model.ActuatorState{Zone: 1, LastResetDate: "2024-06-03"}, st)
	assert.Len(t, h.store.states, 2)
}

func TestResetDailyCounts(t *testing.T) {
	h := newHarness(t, 2, Options{})
	require.NoError(t, h.ctrl.StartWatering(0, time.Second, model.CauseManual))
	h.advanceUntilIdle(t, 0, time.Second)

	assert.Equal(t, 0, h.ctrl.ResetDailyCounts())

	// past midnight UTC
	h.clock.Advance(14 * time.Hour)
	assert.Equal(t, 2, h.ctrl.ResetDailyCounts())
	st, _ := h.ctrl.State(0)
	assert.Equal(t, 0, st.DailyWateringCount)
	assert.Equal(t, "2024-06-04", st.LastResetDate)
	assert.Equal(t, 0, h.ctrl.ResetDailyCounts())
}

func TestPersistenceFailureDoesNotBlockActuation(t *testing.T) {
	h := newHarness(t, 1, Options{})
	h.store.saveErr = errors.New("disk full")

	require.NoError(t, h.ctrl.StartWatering(0, time.Second, model.CauseManual))
	assert.True(t, h.relays.IsOn(0))
	h.advanceUntilIdle(t, 0, time.Second)
	assert.False(t, h.relays.IsOn(0))
}
