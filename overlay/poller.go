package overlay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"
)

const (
	// BaseRateHz is the rate of the shared tick driving the poller.
	BaseRateHz = 10

	MinRateHz = 0.1
	MaxRateHz = 5
)

// Fetcher retrieves the latest aircraft state.
type Fetcher interface {
	Fetch(ctx context.Context) (AircraftState, error)
}

// ConsumerFunc receives every successfully fetched state.
type ConsumerFunc func(AircraftState)

type consumer struct {
	id string
	fn ConsumerFunc
}

// TickerFunc creates the base tick source. The returned function releases it.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func newTimeTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Poller fetches the aircraft state on a throttled periodic schedule and
// hands each result to its consumers.
//
// One goroutine owns the tick loop. It runs the fetch in a helper goroutine
// and dispatches results to consumers itself, one after another in
// registration order; consumers must return promptly.
type Poller struct {
	fetcher   Fetcher
	logger    *slog.Logger
	newTicker TickerFunc

	mu        sync.Mutex
	consumers []consumer
	cancel    context.CancelFunc
	done      chan struct{}
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithTicker replaces the wall-clock base tick.
func WithTicker(f TickerFunc) PollerOption {
	return func(p *Poller) { p.newTicker = f }
}

// NewPoller returns a stopped poller reading from f.
func NewPoller(f Fetcher, logger *slog.Logger, opts ...PollerOption) *Poller {
	p := &Poller{
		fetcher:   f,
		logger:    logger,
		newTicker: newTimeTicker,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddConsumer registers fn under id. Registering an id again replaces the
// earlier callback and keeps its position in the dispatch order.
func (p *Poller) AddConsumer(id string, fn ConsumerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.consumers {
		if p.consumers[i].id == id {
			p.consumers[i].fn = fn
			return
		}
	}
	p.consumers = append(p.consumers, consumer{id: id, fn: fn})
}

// RemoveConsumer deregisters id. Unknown ids are ignored.
func (p *Poller) RemoveConsumer(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.consumers {
		if p.consumers[i].id == id {
			p.consumers = append(p.consumers[:i], p.consumers[i+1:]...)
			return
		}
	}
}

// TicksPerFetch returns how many base ticks separate two fetches at rateHz,
// after clamping the rate to [MinRateHz, MaxRateHz].
func TicksPerFetch(rateHz float64) int {
	if math.IsNaN(rateHz) {
		rateHz = 1
	}
	rateHz = clamp(rateHz, MinRateHz, MaxRateHz)
	n := int(math.Round(BaseRateHz / rateHz))
	return max(n, 1)
}

// Start begins polling at rateHz. Calling Start on a running poller does
// nothing.
func (p *Poller) Start(ctx context.Context, rateHz float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	ticks, release := p.newTicker(time.Second / BaseRateHz)
	p.cancel = cancel
	p.done = make(chan struct{})

	loop := &pollLoop{
		poller:  p,
		every:   TicksPerFetch(rateHz),
		results: make(chan fetchResult, 1),
	}
	p.logger.Info("poller started", "rate_hz", rateHz, "ticks_per_fetch", loop.every)

	go func(done chan struct{}) {
		defer close(done)
		defer release()
		loop.run(ctx, ticks)
	}(p.done)
}

// Stop discards the tick subscription. A fetch still in flight is left to
// finish and its result is ignored.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.logger.Info("poller stopped")
}

// Running reports whether the poller has been started and not stopped.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Poller) snapshotConsumers() []consumer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]consumer(nil), p.consumers...)
}

type fetchResult struct {
	state AircraftState
	err   error
}

// pollLoop is the state of one Start..Stop cycle. It is only touched by the
// loop goroutine, so a restarted poller never sees results from an earlier
// cycle.
type pollLoop struct {
	poller   *Poller
	every    int
	ticks    int
	inFlight bool
	results  chan fetchResult
}

func (l *pollLoop) run(ctx context.Context, ticks <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			l.tick(ctx)
		case res := <-l.results:
			l.inFlight = false
			l.deliver(res)
		}
	}
}

// due advances the tick counter and reports whether this tick should fetch.
func (l *pollLoop) due() bool {
	fire := l.ticks%l.every == 0
	l.ticks++
	return fire
}

func (l *pollLoop) tick(ctx context.Context) {
	if !l.due() {
		return
	}
	if l.inFlight {
		l.poller.logger.Debug("fetch still pending, skipping tick")
		return
	}
	l.inFlight = true

	// The fetch outlives Stop; results is buffered so it never blocks.
	fetchCtx := context.WithoutCancel(ctx)
	go func() {
		st, err := l.poller.fetcher.Fetch(fetchCtx)
		l.results <- fetchResult{state: st, err: err}
	}()
}

func (l *pollLoop) deliver(res fetchResult) {
	if res.err != nil {
		l.poller.logger.Debug("dropping failed fetch", "error", res.err)
		return
	}
	for _, c := range l.poller.snapshotConsumers() {
		c.fn(res.state)
	}
}

// ErrBadStatus is returned by HTTPFetcher for non-2xx responses.
var ErrBadStatus = errors.New("position request failed")

// HTTPFetcher reads the aircraft state from a position store location
// endpoint.
type HTTPFetcher struct {
	URL    string
	Client *http.Client
}

// NewHTTPFetcher returns a fetcher for url using client, or
// http.DefaultClient when client is nil.
func NewHTTPFetcher(url string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{URL: url, Client: client}
}

// locationMessage mirrors the store's JSON. Pointers tell a missing field
// apart from a zero.
type locationMessage struct {
	Lon *float64 `json:"pos_lon"`
	Lat *float64 `json:"pos_lat"`
	Alt *float64 `json:"alt_msl_ft"`
	Hdg *float64 `json:"hdg_true_deg"`
	GS  *float64 `json:"gs_kt"`
	VS  *float64 `json:"vs_fpm"`
}

// Fetch performs one GET of the location endpoint.
func (f *HTTPFetcher) Fetch(ctx context.Context) (AircraftState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return AircraftState{}, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return AircraftState{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return AircraftState{}, fmt.Errorf("%w: %s", ErrBadStatus, resp.Status)
	}

	var msg locationMessage
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return AircraftState{}, fmt.Errorf("decoding position: %w", err)
	}
	return msg.state()
}

func (m locationMessage) state() (AircraftState, error) {
	if m.Lon == nil || m.Lat == nil {
		return AircraftState{}, errors.New("position response lacks pos_lon/pos_lat")
	}
	st := AircraftState{
		Longitude:     *m.Lon,
		Latitude:      *m.Lat,
		AltitudeKnown: m.Alt != nil,
	}
	if m.Alt != nil {
		st.AltitudeFt = *m.Alt
	}
	if m.Hdg != nil {
		st.TrueHeadingDeg = *m.Hdg
	}
	if m.GS != nil {
		st.GroundSpeedKt = *m.GS
	}
	if m.VS != nil {
		st.VerticalSpeedFpm = *m.VS
	}
	return st, nil
}
