package notifications

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type Kind string

const (
	KindWateringStarted Kind = "watering_started"
	KindWateringStopped Kind = "watering_stopped"
	KindScheduled       Kind = "scheduled"
	KindAutomatic       Kind = "automatic"
	KindScheduleChanged Kind = "schedule_changed"
	KindWarning         Kind = "warning"
	KindError           Kind = "error"
	KindSystem          Kind = "system"
)

// NoZone marks events that are not about a single zone.
const NoZone = -1

type Event struct {
	Kind    Kind      `json:"kind"`
	Zone    int       `json:"zone"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	Time    time.Time `json:"timestamp"`
}

// Notifier accepts events without blocking. Delivery failures never reach the caller.
type Notifier interface {
	Notify(Event)
}

// Sink delivers a single event to an external service.
type Sink interface {
	Name() string
	Send(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(Event) {}

const sendTimeout = 10 * time.Second

// Dispatcher fans events out to its sinks from a background goroutine. When
// the queue is full new events are dropped.
type Dispatcher struct {
	sinks []Sink
	queue chan Event
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

func NewDispatcher(buffer int, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	d := &Dispatcher{
		sinks: sinks,
		queue: make(chan Event, buffer),
		done:  make(chan struct{}),
	}
	go d.run()

	for _, s := range sinks {
		log.Info().Str("sink", s.Name()).Msg("Notification sink registered")
	}
	return d
}

func (d *Dispatcher) Notify(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- e:
	default:
		log.Warn().Str("kind", string(e.Kind)).Str("title", e.Title).Msg("Notification queue full, dropping event")
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.queue {
		for _, s := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			err := s.Send(ctx, e)
			cancel()
			if err != nil {
				log.Warn().Err(err).Str("sink", s.Name()).Str("kind", string(e.Kind)).Msg("Failed to deliver notification")
			}
		}
	}
}

// Close stops accepting events, waits for queued ones to be delivered and
// then closes sinks that hold a connection.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	<-d.done
	for _, s := range d.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				log.Warn().Err(err).Str("sink", s.Name()).Msg("Failed to close notification sink")
			}
		}
	}
}
