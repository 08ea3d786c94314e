package overlay

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	frames []Frame
}

func (p *recordingPublisher) Publish(f Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, f)
}

func (p *recordingPublisher) last() Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames[len(p.frames)-1]
}

func cruise() AircraftState {
	return AircraftState{
		Longitude: -12.5, Latitude: 12.3, AltitudeFt: 2300, AltitudeKnown: true,
		TrueHeadingDeg: 256, GroundSpeedKt: 120, VerticalSpeedFpm: -200,
	}
}

func newTestController(t *testing.T) (*Controller, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	cfg := DefaultControllerConfig()
	cfg.RingPoints = 36
	return NewController(cfg, pub, discardLogger()), pub
}

func TestSanitize(t *testing.T) {
	in := AircraftState{
		Longitude: 200, Latitude: -91, AltitudeFt: 70000,
		TrueHeadingDeg: 361, GroundSpeedKt: -5, VerticalSpeedFpm: math.NaN(),
	}
	assert.Equal(t, AircraftState{AltitudeFt: MaxAltitudeFt}, Sanitize(in))

	in = AircraftState{Longitude: math.Inf(1), Latitude: math.NaN(), AltitudeFt: math.NaN(), TrueHeadingDeg: -1}
	assert.Equal(t, AircraftState{}, Sanitize(in))

	ok := cruise()
	ok.AltitudeFt = -1200
	assert.Equal(t, ok, Sanitize(ok))
}

func TestControllerInitialState(t *testing.T) {
	c, _ := newTestController(t)
	f := c.Frame()

	assert.Equal(t, "locked", f.Tracking)
	assert.Equal(t, LonLat{Lon: 146, Lat: -6}, f.Camera.Center)
	assert.Equal(t, 10.0, f.Camera.Zoom)
	assert.Nil(t, f.Marker)
	assert.NotNil(t, f.Rings)
	assert.Empty(t, f.Rings)
}

func TestControllerUpdateLocked(t *testing.T) {
	c, pub := newTestController(t)
	c.Update(cruise())

	f := pub.last()
	assert.Equal(t, LonLat{Lon: -12.5, Lat: 12.3}, f.Camera.Center)
	require.NotNil(t, f.Marker)
	assert.Equal(t, LonLat{Lon: -12.5, Lat: 12.3}, f.Marker.Position)
	assert.Equal(t, "2300 FT\n120 KT\n↓ -200 FPM", f.Marker.Label)
	require.NotNil(t, f.Marker.Icon)
	assert.InDelta(t, 256*math.Pi/180, f.Marker.Icon.Rotation, 1e-12)
	require.Len(t, f.Rings, 4)
	assert.Equal(t, "20 NM", f.Rings[3].Label)
	assert.Equal(t, uint64(1), f.Seq)
}

func TestControllerMarkerColor(t *testing.T) {
	c, pub := newTestController(t)
	c.Update(cruise())

	// 2300 ft: hue 20 + 120*300/8000 = 24.5, then selected (0,-10,+20) and snap
	assert.Equal(t, HSL{H: 25, S: 75, L: 70}, pub.last().Marker.Color)

	st := cruise()
	st.AltitudeKnown = false
	c.Update(st)
	assert.Equal(t, HSL{H: 0, S: 5, L: 60}, pub.last().Marker.Color)

	st = cruise()
	st.GroundSpeedKt = 5
	st.VerticalSpeedFpm = 0
	c.Update(st)
	assert.Equal(t, HSL{H: 15, S: 70, L: 40}, pub.last().Marker.Color)
}

func TestControllerRingsOnlyOnMove(t *testing.T) {
	c, _ := newTestController(t)

	c.Update(cruise())
	st := cruise()
	st.TrueHeadingDeg = 270
	st.AltitudeFt = 2500
	c.Update(st)

	_, builds := c.Stats()
	assert.Equal(t, 1, builds)

	st.Latitude += 0.01
	c.Update(st)
	_, builds = c.Stats()
	assert.Equal(t, 2, builds)

	f := c.Frame()
	require.Len(t, f.Rings, 4)
	first := f.Rings[0].Coordinates[0]
	assert.InDelta(t, 12.31+2*MetersPerNM/EarthRadiusMeters*180/math.Pi, first[1], 1e-9)
}

func TestControllerIconCacheAcrossUpdates(t *testing.T) {
	c, _ := newTestController(t)

	c.Update(cruise())
	c.Update(cruise())
	stats, _ := c.Stats()
	assert.Equal(t, CacheStats{Renders: 1, Hits: 1}, stats)

	st := cruise()
	st.TrueHeadingDeg = 10
	c.Update(st)
	stats, _ = c.Stats()
	assert.Equal(t, 1, stats.PoseUpdates)

	st.AltitudeFt = 30000
	c.Update(st)
	stats, _ = c.Stats()
	assert.Equal(t, 2, stats.Renders)
}

func TestControllerGoToAndToggle(t *testing.T) {
	c, pub := newTestController(t)
	c.Update(cruise())

	require.NoError(t, c.GoTo(8.5, 47.3))
	f := pub.last()
	assert.Equal(t, "free", f.Tracking)
	assert.Equal(t, LonLat{Lon: 8.5, Lat: 47.3}, f.Camera.Center)
	assert.Equal(t, LonLat{Lon: -12.5, Lat: 12.3}, f.Marker.Position)

	// free: updates leave the camera alone
	st := cruise()
	st.Longitude = -13
	c.Update(st)
	assert.Equal(t, LonLat{Lon: 8.5, Lat: 47.3}, pub.last().Camera.Center)

	assert.Equal(t, Locked, c.ToggleTracking())
	assert.Equal(t, LonLat{Lon: -13, Lat: 12.3}, pub.last().Camera.Center)
	assert.Equal(t, Free, c.ToggleTracking())
	assert.Equal(t, Free, c.Mode())

	assert.ErrorIs(t, c.GoTo(181, 0), ErrOutOfRange)
}

func TestControllerSetZoom(t *testing.T) {
	c, pub := newTestController(t)
	c.Update(cruise())
	before := pub.last().Marker.Icon.Scale

	require.NoError(t, c.SetZoom(6))
	f := pub.last()
	assert.Equal(t, 6.0, f.Camera.Zoom)
	assert.InDelta(t, 1.2*0.6, f.Marker.Icon.Scale, 1e-12)
	assert.NotEqual(t, before, f.Marker.Icon.Scale)

	require.NoError(t, c.SetZoom(40))
	assert.Equal(t, float64(MaxZoom), pub.last().Camera.Zoom)
	assert.Error(t, c.SetZoom(math.NaN()))
}

func TestControllerSetRadii(t *testing.T) {
	c, pub := newTestController(t)
	c.Update(cruise())

	require.NoError(t, c.SetRadii([]float64{1, 3}))
	f := pub.last()
	require.Len(t, f.Rings, 2)
	assert.Equal(t, "3 NM", f.Rings[1].Label)

	assert.ErrorIs(t, c.SetRadii([]float64{-1}), ErrOutOfRange)
}

func TestControllerStale(t *testing.T) {
	c, pub := newTestController(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Update(cruise())
	fresh := pub.last().Marker.Color

	now = now.Add(31 * time.Second)
	c.Update(cruise())
	stale := pub.last().Marker.Color
	assert.NotEqual(t, fresh, stale)
	assert.Equal(t, HSL{H: 25, S: 65, L: 95}, stale)

	// a zoom change keeps the stale look and the next stale update is a hit
	require.NoError(t, c.SetZoom(9))
	assert.Equal(t, stale, pub.last().Marker.Color)
	before, _ := c.Stats()
	now = now.Add(time.Second)
	c.Update(cruise())
	assert.Equal(t, stale, pub.last().Marker.Color)
	after, _ := c.Stats()
	assert.Equal(t, before.Renders, after.Renders)

	st := cruise()
	st.GroundSpeedKt = 121
	c.Update(st)
	assert.Equal(t, fresh, pub.last().Marker.Color)
}

func TestFramesAreCopies(t *testing.T) {
	c, pub := newTestController(t)
	c.Update(cruise())
	f := pub.last()

	st := cruise()
	st.TrueHeadingDeg = 0
	c.Update(st)

	assert.InDelta(t, 256*math.Pi/180, f.Marker.Icon.Rotation, 1e-12)
}

func TestMarkerLabel(t *testing.T) {
	assert.Equal(t, "0 FT\n0 KT\n→ 0 FPM", MarkerLabel(AircraftState{}))
	assert.Equal(t, "35000 FT\n450 KT\n↑ 1500 FPM", MarkerLabel(AircraftState{AltitudeFt: 35000, GroundSpeedKt: 450, VerticalSpeedFpm: 1500}))
}
