package overlay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeFetcher returns a state carrying the call number as its altitude.
type fakeFetcher struct {
	calls atomic.Int32
	err   error
	gate  chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context) (AircraftState, error) {
	n := f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return AircraftState{}, f.err
	}
	return AircraftState{AltitudeFt: float64(n), AltitudeKnown: true}, nil
}

// manualTicker hands out a channel the test drives by hand.
type manualTicker struct {
	ch      chan time.Time
	created atomic.Int32
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time)}
}

func (m *manualTicker) factory(time.Duration) (<-chan time.Time, func()) {
	m.created.Add(1)
	return m.ch, func() {}
}

func (m *manualTicker) tick(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case m.ch <- time.Now():
		case <-time.After(time.Second):
			t.Fatal("poller loop did not take the tick")
		}
	}
}

func waitState(t *testing.T, ch <-chan AircraftState) AircraftState {
	t.Helper()
	select {
	case st := <-ch:
		return st
	case <-time.After(time.Second):
		t.Fatal("no state delivered")
		return AircraftState{}
	}
}

func TestTicksPerFetch(t *testing.T) {
	tests := []struct {
		rate float64
		want int
	}{
		{10, 2}, // clamped to 5 Hz
		{5, 2},
		{2, 5},
		{1, 10},
		{0.5, 20},
		{0.1, 100},
		{0.01, 100},
		{3, 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TicksPerFetch(tt.rate), "rate %v", tt.rate)
	}
}

func TestPollLoopGate(t *testing.T) {
	l := &pollLoop{every: 10}
	var fired []int
	for i := 0; i < 35; i++ {
		if l.due() {
			fired = append(fired, i)
		}
	}
	assert.Equal(t, []int{0, 10, 20, 30}, fired)

	l = &pollLoop{every: 1}
	for i := 0; i < 5; i++ {
		assert.True(t, l.due())
	}
}

func TestPollerThrottle(t *testing.T) {
	f := &fakeFetcher{}
	mt := newManualTicker()
	p := NewPoller(f, discardLogger(), WithTicker(mt.factory))

	got := make(chan AircraftState, 10)
	p.AddConsumer("test", func(st AircraftState) { got <- st })

	p.Start(context.Background(), 1)
	defer p.Stop()

	mt.tick(t, 1)
	assert.Equal(t, 1.0, waitState(t, got).AltitudeFt)

	mt.tick(t, 9)
	mt.tick(t, 1)
	assert.Equal(t, 2.0, waitState(t, got).AltitudeFt)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestPollerStartIdempotent(t *testing.T) {
	mt := newManualTicker()
	p := NewPoller(&fakeFetcher{}, discardLogger(), WithTicker(mt.factory))

	p.Start(context.Background(), 1)
	p.Start(context.Background(), 5)
	assert.True(t, p.Running())
	assert.Equal(t, int32(1), mt.created.Load())

	p.Stop()
	assert.False(t, p.Running())
	p.Stop()

	p.Start(context.Background(), 1)
	defer p.Stop()
	assert.Equal(t, int32(2), mt.created.Load())
}

func TestPollerSkipsWhileInFlight(t *testing.T) {
	f := &fakeFetcher{gate: make(chan struct{})}
	mt := newManualTicker()
	p := NewPoller(f, discardLogger(), WithTicker(mt.factory))

	got := make(chan AircraftState, 10)
	p.AddConsumer("test", func(st AircraftState) { got <- st })
	p.Start(context.Background(), 5)
	defer p.Stop()

	// every 2nd tick is due; only the first starts a fetch
	mt.tick(t, 7)
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)

	close(f.gate)
	waitState(t, got)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestPollerDropsFailures(t *testing.T) {
	f := &fakeFetcher{err: errors.New("boom")}
	mt := newManualTicker()
	p := NewPoller(f, discardLogger(), WithTicker(mt.factory))

	var delivered atomic.Int32
	p.AddConsumer("test", func(AircraftState) { delivered.Add(1) })
	p.Start(context.Background(), 5)
	defer p.Stop()

	mt.tick(t, 6)
	require.Eventually(t, func() bool { return f.calls.Load() >= 1 }, time.Second, time.Millisecond)
	mt.tick(t, 2)
	assert.Equal(t, int32(0), delivered.Load())
}

func TestPollerIgnoresResultAfterStop(t *testing.T) {
	f := &fakeFetcher{gate: make(chan struct{})}
	mt := newManualTicker()
	p := NewPoller(f, discardLogger(), WithTicker(mt.factory))

	var delivered atomic.Int32
	p.AddConsumer("test", func(AircraftState) { delivered.Add(1) })
	p.Start(context.Background(), 1)

	mt.tick(t, 1)
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)
	p.Stop()

	close(f.gate)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), delivered.Load())
}

func TestPollerConsumers(t *testing.T) {
	f := &fakeFetcher{}
	mt := newManualTicker()
	p := NewPoller(f, discardLogger(), WithTicker(mt.factory))

	var mu sync.Mutex
	var order []string
	record := func(name string) ConsumerFunc {
		return func(AircraftState) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}
	done := make(chan AircraftState, 10)

	p.AddConsumer("a", record("a1"))
	p.AddConsumer("b", record("b"))
	p.AddConsumer("a", record("a2")) // replaces a1 in place
	p.AddConsumer("c", record("c"))
	p.RemoveConsumer("c")
	p.RemoveConsumer("missing")
	p.AddConsumer("z", func(st AircraftState) { done <- st })

	p.Start(context.Background(), 5)
	defer p.Stop()
	mt.tick(t, 1)
	waitState(t, done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a2", "b"}, order)
}

func TestHTTPFetcher(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    AircraftState
		wantErr error
	}{
		{
			name:   "full",
			status: http.StatusOK,
			body:   `{"pos_lon":-12.5,"pos_lat":12.3,"alt_msl_ft":2300,"hdg_true_deg":256,"gs_kt":120,"vs_fpm":-200}`,
			want: AircraftState{
				Longitude: -12.5, Latitude: 12.3, AltitudeFt: 2300, AltitudeKnown: true,
				TrueHeadingDeg: 256, GroundSpeedKt: 120, VerticalSpeedFpm: -200,
			},
		},
		{
			name:   "no altitude",
			status: http.StatusOK,
			body:   `{"pos_lon":1,"pos_lat":2}`,
			want:   AircraftState{Longitude: 1, Latitude: 2},
		},
		{name: "no latitude", status: http.StatusOK, body: `{"pos_lon":1}`, wantErr: errAny},
		{name: "malformed", status: http.StatusOK, body: `not json`, wantErr: errAny},
		{name: "server error", status: http.StatusInternalServerError, body: `{}`, wantErr: ErrBadStatus},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			st, err := NewHTTPFetcher(srv.URL, srv.Client()).Fetch(context.Background())
			switch tt.wantErr {
			case nil:
				require.NoError(t, err)
				assert.Equal(t, tt.want, st)
			case errAny:
				assert.Error(t, err)
			default:
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

var errAny = errors.New("any error")
