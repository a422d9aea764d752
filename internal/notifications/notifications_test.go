package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Send(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func TestDispatcher_DeliversToAllSinks(t *testing.T) {
	failing := &recordingSink{err: errors.New("offline")}
	ok := &recordingSink{}
	d := NewDispatcher(8, failing, ok)

	d.Notify(Event{Kind: KindWateringStarted, Zone: 1, Title: "Watering started"})
	d.Notify(Event{Kind: KindSystem, Zone: NoZone, Title: "Controller started"})
	d.Close()

	require.Len(t, ok.events, 2)
	assert.Len(t, failing.events, 2)
	assert.Equal(t, "Watering started", ok.events[0].Title)
	assert.False(t, ok.events[0].Time.IsZero())

	// closed dispatcher ignores events
	d.Notify(Event{Kind: KindError})
	assert.Len(t, ok.events, 2)
}

type blockingSink struct {
	release chan struct{}
}

func (b *blockingSink) Name() string { return "blocking" }

func (b *blockingSink) Send(ctx context.Context, e Event) error {
	<-b.release
	return nil
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(1, sink)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Notify(Event{Kind: KindWarning})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked on a full queue")
	}
	close(sink.release)
	d.Close()
}

func TestNtfySink_Send(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewNtfySink(srv.URL+"/", "garden")
	err := sink.Send(context.Background(), Event{Kind: KindWarning, Zone: 2, Title: "Zone 3 saturated", Message: "Moisture 97%"})
	require.NoError(t, err)

	assert.Equal(t, "garden", got["topic"])
	assert.Equal(t, "Zone 3 saturated", got["title"])
	assert.Equal(t, "Moisture 97%", got["message"])
	assert.Equal(t, float64(4), got["priority"])
	assert.Equal(t, []interface{}{"warning"}, got["tags"])
}

func TestNtfySink_NonSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewNtfySink(srv.URL, "garden").Send(context.Background(), Event{Kind: KindSystem})
	assert.ErrorContains(t, err, "non-success status: 429")
}

type fakePublisher struct {
	topic    string
	qos      byte
	payload  []byte
	closed   bool
	publishN int
}

func (f *fakePublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.topic, f.qos, f.payload = topic, qos, payload
	f.publishN++
	return nil
}

func (f *fakePublisher) Close() error {
	f.closed = true
	return nil
}

func TestMQTTSink_Send(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewMQTTSink(pub, "irrigation")
	ts := time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC)

	require.NoError(t, sink.Send(context.Background(), Event{Kind: KindError, Zone: 0, Title: "Relay failure", Time: ts}))
	assert.Equal(t, "irrigation/events/error", pub.topic)
	assert.Equal(t, byte(1), pub.qos)
	assert.JSONEq(t, `{"kind":"error","zone":0,"title":"Relay failure","message":"","timestamp":"2024-06-03T08:00:00Z"}`, string(pub.payload))

	require.NoError(t, sink.Send(context.Background(), Event{Kind: KindSystem, Zone: NoZone, Title: "Started", Time: ts}))
	assert.Equal(t, byte(0), pub.qos)
	assert.NotContains(t, string(pub.payload), "zone")

	require.NoError(t, sink.Close())
	assert.True(t, pub.closed)
}

func TestDispatcher_CloseClosesSinks(t *testing.T) {
	pub := &fakePublisher{}
	d := NewDispatcher(4, NewMQTTSink(pub, "irrigation"))

	d.Notify(Event{Kind: KindSystem, Zone: NoZone, Title: "Stopping"})
	d.Close()
	d.Close()

	assert.Equal(t, 1, pub.publishN)
	assert.True(t, pub.closed)
}
