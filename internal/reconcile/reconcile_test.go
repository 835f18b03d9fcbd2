package reconcile

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corridor-tracker/internal/corridor"
	"corridor-tracker/internal/fanout"
	"corridor-tracker/internal/geo"
)

func TestIntervalProgression(t *testing.T) {
	i := NewInterval(2*time.Second, 30*time.Second)
	assert.Equal(t, 2*time.Second, i.Current())
	assert.Equal(t, 4*time.Second, i.Failure())
	assert.Equal(t, 8*time.Second, i.Failure())
	assert.Equal(t, 16*time.Second, i.Failure())
	assert.Equal(t, 30*time.Second, i.Failure())
	assert.Equal(t, 30*time.Second, i.Failure())
	assert.Equal(t, 2*time.Second, i.Success())
}

func activeBody(t *testing.T, vs ...Vehicle) []byte {
	t.Helper()
	b, err := json.Marshal(activeEnvelope{Success: true, Count: len(vs), Data: vs})
	require.NoError(t, err)
	return b
}

// recordWaits replaces the poller's sleep, cancelling ctx after n waits.
func recordWaits(p *Poller, n int, cancel context.CancelFunc) *[]time.Duration {
	var waits []time.Duration
	p.wait = func(ctx context.Context, d time.Duration) error {
		if len(waits) == n {
			cancel()
			return ctx.Err()
		}
		waits = append(waits, d)
		return nil
	}
	return &waits
}

func TestPollerBacksOffOnRateLimitAndResets(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/corridor/a-b/active", r.URL.Path)
		if atomic.AddInt32(&calls, 1) <= 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write(activeBody(t, Vehicle{TripID: "t1"}))
	}))
	defer srv.Close()

	view := NewView("a-b", "")
	p := NewPoller(srv.Client(), srv.URL, "a-b", "", view, NewInterval(2*time.Second, 30*time.Second), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	waits := recordWaits(p, 6, cancel)

	require.NoError(t, p.Run(ctx))
	assert.Equal(t, []time.Duration{
		4 * time.Second, 8 * time.Second, 16 * time.Second,
		2 * time.Second, 2 * time.Second, 2 * time.Second,
	}, *waits)
	assert.Equal(t, int32(7), atomic.LoadInt32(&calls))
	assert.Equal(t, 1, view.Len())
}

func TestPollerTakesFirstSnapshotBeforeWaiting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(activeBody(t, Vehicle{TripID: "t1"}, Vehicle{TripID: "t2"}))
	}))
	defer srv.Close()

	view := NewView("a-b", "")
	p := NewPoller(srv.Client(), srv.URL, "a-b", "", view, NewInterval(time.Hour, time.Hour), nil)
	snapshots := 0
	p.OnSnapshot(func() { snapshots++ })
	var atFirstWait int
	p.wait = func(ctx context.Context, d time.Duration) error {
		atFirstWait = view.Len()
		return context.Canceled
	}
	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, 2, atFirstWait)
	assert.Equal(t, 1, snapshots)
}

func TestPollerBacksOffOnServerAndTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	view := NewView("a-b", "")
	p := NewPoller(srv.Client(), srv.URL, "a-b", "forward", view, NewInterval(time.Second, 5*time.Second), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	waits := recordWaits(p, 3, cancel)
	require.NoError(t, p.Run(ctx))
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 5 * time.Second}, *waits)

	srv.Close()
	p.interval = NewInterval(time.Second, 5*time.Second)
	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	waits = recordWaits(p, 4, cancel)
	require.NoError(t, p.Run(ctx))
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}, *waits)
}

func TestPollOnceReplacesSnapshot(t *testing.T) {
	body := activeBody(t, Vehicle{TripID: "t1", VehicleRef: "bus-1", Progress: &corridor.Progress{Meters: 10}})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "reverse", r.URL.Query().Get("direction"))
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	view := NewView("a-b", corridor.Reverse)
	view.Apply(fanout.Event{Type: fanout.EventLocation, TripID: "gone", CorridorKey: "a-b"})
	p := NewPoller(srv.Client(), srv.URL, "a-b", "reverse", view, NewInterval(time.Second, time.Second), nil)
	require.NoError(t, p.PollOnce(context.Background()))

	list := view.List()
	require.Len(t, list, 1)
	assert.Equal(t, "bus-1", list[0].VehicleRef)
}

func TestViewApply(t *testing.T) {
	view := NewView("a-b", "")
	t0 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	view.Apply(fanout.Event{Type: fanout.EventTripStart, TripID: "t1", VehicleRef: "bus-1", CorridorKey: "a-b", Direction: corridor.Forward, UpdatedAt: t0})
	view.Apply(fanout.Event{Type: fanout.EventLocation, TripID: "t1", CorridorKey: "a-b",
		Location: &geo.Point{Lon: 1, Lat: 2}, Progress: &corridor.Progress{Meters: 500, Percent: 5}, UpdatedAt: t0.Add(time.Second)})
	view.Apply(fanout.Event{Type: fanout.EventLocation, TripID: "t2", CorridorKey: "a-b", Progress: &corridor.Progress{Meters: 900}})
	view.Apply(fanout.Event{Type: fanout.EventLocation, TripID: "elsewhere", CorridorKey: "c-d"})

	got, ok := view.Get("t1")
	require.True(t, ok)
	assert.Equal(t, "bus-1", got.VehicleRef, "fields absent from a later event are kept")
	assert.Equal(t, corridor.Forward, got.Direction)
	assert.Equal(t, &geo.Point{Lon: 1, Lat: 2}, got.Location)
	assert.Equal(t, t0.Add(time.Second), got.UpdatedAt)

	list := view.List()
	require.Len(t, list, 2)
	assert.Equal(t, "t2", list[0].TripID)

	view.Apply(fanout.Event{Type: fanout.EventTripEnd, TripID: "t1", CorridorKey: "a-b"})
	_, ok = view.Get("t1")
	assert.False(t, ok)
	assert.Equal(t, 1, view.Len())
}

func TestViewKeepsOnlyItsDirection(t *testing.T) {
	view := NewView("a-b", corridor.Reverse)
	view.Apply(fanout.Event{Type: fanout.EventTripStart, TripID: "fwd-1", CorridorKey: "a-b", Direction: corridor.Forward})
	view.Apply(fanout.Event{Type: fanout.EventLocation, TripID: "fwd-1", CorridorKey: "a-b", Direction: corridor.Forward,
		Progress: &corridor.Progress{Meters: 10}})
	view.Apply(fanout.Event{Type: fanout.EventLocation, TripID: "rev-1", CorridorKey: "a-b", Direction: corridor.Reverse,
		Progress: &corridor.Progress{Meters: 20}})

	list := view.List()
	require.Len(t, list, 1)
	assert.Equal(t, "rev-1", list[0].TripID)

	_, err := New(Options{BaseURL: "http://localhost:8080", CorridorKey: "a-b", Direction: "sideways"})
	assert.Error(t, err)
	r, err := New(Options{BaseURL: "http://localhost:8080", CorridorKey: "a-b", Direction: "reverse", DisablePush: true})
	require.NoError(t, err)
	r.View.Apply(fanout.Event{Type: fanout.EventLocation, TripID: "fwd-1", CorridorKey: "a-b", Direction: corridor.Forward})
	assert.Equal(t, 0, r.View.Len())
}

func TestViewSnapshotKeepsNewerLiveState(t *testing.T) {
	view := NewView("a-b", "")
	t0 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	view.Apply(fanout.Event{Type: fanout.EventLocation, TripID: "t1", CorridorKey: "a-b", Progress: &corridor.Progress{Meters: 800}, UpdatedAt: t0.Add(time.Minute)})

	view.ReplaceSnapshot([]Vehicle{{TripID: "t1", Progress: &corridor.Progress{Meters: 300}, UpdatedAt: t0}})
	got, _ := view.Get("t1")
	assert.Equal(t, 800.0, got.Progress.Meters)

	view.ReplaceSnapshot([]Vehicle{{TripID: "t1", Progress: &corridor.Progress{Meters: 900}, UpdatedAt: t0.Add(2 * time.Minute)}})
	got, _ = view.Get("t1")
	assert.Equal(t, 900.0, got.Progress.Meters)
}

func TestWSURL(t *testing.T) {
	u, err := wsURL("http://localhost:8080")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/ws", u)
	u, err = wsURL("https://tracker.example.com/api/")
	require.NoError(t, err)
	assert.Equal(t, "wss://tracker.example.com/api/ws", u)
	_, err = wsURL("ftp://x")
	assert.Error(t, err)
}

func TestPusherMergesEventsAndReconnects(t *testing.T) {
	var (
		mu       sync.Mutex
		sessions int
		frames   []map[string]string
	)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var f map[string]string
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		mu.Lock()
		sessions++
		n := sessions
		frames = append(frames, f)
		mu.Unlock()

		_ = conn.WriteJSON(map[string]string{"type": "ack", "action": "track-corridor", "id": "a-b"})
		if n == 1 {
			_ = conn.WriteJSON(fanout.Event{Type: fanout.EventTripStart, TripID: "t1", CorridorKey: "a-b"})
			_ = conn.WriteJSON(fanout.Event{Type: fanout.EventLocation, TripID: "t1", CorridorKey: "a-b", Progress: &corridor.Progress{Meters: 42}})
			return // drop the connection
		}
		_ = conn.WriteJSON(fanout.Event{Type: fanout.EventTripEnd, TripID: "t1", CorridorKey: "a-b"})
		_ = conn.WriteJSON(fanout.Event{Type: fanout.EventTripStart, TripID: "t2", CorridorKey: "a-b"})
		// hold until the client goes away
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	view := NewView("a-b", "")
	p, err := NewPusher(srv.URL, "a-b", view, 50*time.Millisecond, nil)
	require.NoError(t, err)
	p.initialWait = 10 * time.Millisecond

	applied := make(chan fanout.Event, 16)
	p.OnEvent(func(e fanout.Event) { applied <- e })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	var seen []string
	for len(seen) < 4 {
		select {
		case e := <-applied:
			seen = append(seen, string(e.Type)+":"+e.TripID)
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out, saw %v", seen)
		}
	}
	assert.Equal(t, []string{"trip-start:t1", "location:t1", "trip-end:t1", "trip-start:t2"}, seen)
	_, ok := view.Get("t1")
	assert.False(t, ok)
	_, ok = view.Get("t2")
	assert.True(t, ok)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("pusher did not stop")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, sessions, 2)
	assert.Equal(t, map[string]string{"action": "track-corridor", "id": "a-b"}, frames[0])
}

func TestPusherAnswersPingsAndDropsSilentConnections(t *testing.T) {
	var sessions int32
	pong := make(chan struct{}, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if atomic.AddInt32(&sessions, 1) == 1 {
			conn.SetPongHandler(func(string) error {
				select {
				case pong <- struct{}{}:
				default:
				}
				return nil
			})
			_ = conn.WriteControl(websocket.PingMessage, []byte("hi"), time.Now().Add(time.Second))
		}
		// never send anything else; return once the client gives up
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	p, err := NewPusher(srv.URL, "a-b", NewView("a-b", ""), 20*time.Millisecond, nil)
	require.NoError(t, err)
	p.initialWait = 5 * time.Millisecond
	p.readTimeout = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case <-pong:
	case <-time.After(3 * time.Second):
		t.Fatal("no pong for the server ping")
	}
	require.Eventually(t, func() bool { return atomic.LoadInt32(&sessions) >= 2 }, 3*time.Second, 10*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestReconcilerRunStopsWithContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r, err := New(Options{BaseURL: srv.URL, CorridorKey: "a-b", PollBase: 10 * time.Millisecond, PollMax: 20 * time.Millisecond, PushMaxWait: 20 * time.Millisecond})
	require.NoError(t, err)
	require.NotNil(t, r.Pusher)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.NoError(t, r.Run(ctx))
	assert.Equal(t, 0, r.View.Len())
}
