package overlay

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/brunoga/deep"
)

// TrackingMode says whether the camera follows the aircraft.
type TrackingMode int

const (
	// Locked recenters the camera on every update.
	Locked TrackingMode = iota
	// Free leaves the camera under user control.
	Free
)

func (m TrackingMode) String() string {
	switch m {
	case Locked:
		return "locked"
	case Free:
		return "free"
	default:
		return ""
	}
}

const (
	MinZoom = 0
	MaxZoom = 18
)

// Camera is the map view.
type Camera struct {
	Center LonLat  `json:"center" msgpack:"center"`
	Zoom   float64 `json:"zoom" msgpack:"zoom"`
}

// Marker is the aircraft as drawn on the map.
type Marker struct {
	Position         LonLat     `json:"position" msgpack:"position"`
	HeadingDeg       float64    `json:"heading_deg" msgpack:"heading_deg"`
	AltitudeFt       float64    `json:"alt_msl_ft" msgpack:"alt_msl_ft"`
	GroundSpeedKt    float64    `json:"gs_kt" msgpack:"gs_kt"`
	VerticalSpeedFpm float64    `json:"vs_fpm" msgpack:"vs_fpm"`
	Color            HSL        `json:"color" msgpack:"color"`
	Label            string     `json:"label" msgpack:"label"`
	Icon             *IconStyle `json:"icon" msgpack:"icon"`
}

// Frame is a snapshot of everything the map widget draws.
type Frame struct {
	Seq      uint64        `json:"seq" msgpack:"seq"`
	Camera   Camera        `json:"camera" msgpack:"camera"`
	Tracking string        `json:"tracking" msgpack:"tracking"`
	Marker   *Marker       `json:"marker,omitempty" msgpack:"marker,omitempty"`
	Rings    []RingFeature `json:"rings" msgpack:"rings"`
}

// Publisher receives a frame after every change. Frames are private copies.
type Publisher interface {
	Publish(Frame)
}

// ControllerConfig holds the static overlay settings.
type ControllerConfig struct {
	Colors         ColorModel
	Center         LonLat
	Zoom           float64
	RingRadiiNM    []float64
	RingPoints     int
	RingColor      string
	OutlineColor   string
	Shape          string
	Selected       bool
	GroundBelowKt  float64
	StaleAfter     time.Duration
	OpacityDefault float64
}

// DefaultControllerConfig returns the stock overlay settings.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		Colors:         DefaultColorModel(),
		Center:         LonLat{Lon: 146, Lat: -6},
		Zoom:           10,
		RingRadiiNM:    []float64{2, 5, 10, 20},
		RingPoints:     DefaultRingPoints,
		RingColor:      "#202000",
		OutlineColor:   "#000000",
		Shape:          ShapeAircraft,
		Selected:       true,
		GroundBelowKt:  30,
		StaleAfter:     30 * time.Second,
		OpacityDefault: 1,
	}
}

// Controller owns the marker, the range rings and the camera, and keeps them
// in step with the aircraft states it is fed.
type Controller struct {
	cfg       ControllerConfig
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	mode   TrackingMode
	camera Camera
	cache  *IconStyleCache
	seq    uint64

	last        AircraftState
	lastStale   bool
	hasLast     bool
	lastChange  time.Time
	marker      *Marker
	rings       []RingFeature
	ringsCenter LonLat
	ringBuilds  int
}

// NewController returns a controller in Locked mode centered on the
// configured default view. publisher may be nil.
func NewController(cfg ControllerConfig, publisher Publisher, logger *slog.Logger) *Controller {
	if cfg.RingPoints == 0 {
		cfg.RingPoints = DefaultRingPoints
	}
	if cfg.Shape == "" {
		cfg.Shape = ShapeAircraft
	}
	if cfg.OpacityDefault == 0 {
		cfg.OpacityDefault = 1
	}
	return &Controller{
		cfg:       cfg,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		mode:      Locked,
		camera:    Camera{Center: cfg.Center, Zoom: clamp(cfg.Zoom, MinZoom, MaxZoom)},
		cache:     NewIconStyleCache(AircraftShape),
	}
}

// Update applies one aircraft state. It is meant to be registered as a
// poller consumer.
func (c *Controller) Update(raw AircraftState) {
	c.mu.Lock()
	st := Sanitize(raw)
	now := c.now()

	if !c.hasLast || st != c.last {
		c.lastChange = now
	}
	stale := c.hasLast && st == c.last && c.cfg.StaleAfter > 0 && now.Sub(c.lastChange) > c.cfg.StaleAfter
	c.last, c.lastStale, c.hasLast = st, stale, true

	if c.mode == Locked {
		c.camera.Center = st.Position()
	}

	if err := c.updateMarker(st, stale); err != nil {
		c.logger.Error("marker update failed", "error", err)
	}
	if c.rings == nil || st.Position() != c.ringsCenter {
		c.rebuildRings(st.Position())
	}
	c.seq++
	f := c.frameLocked()
	c.mu.Unlock()

	c.publish(f)
}

// GoTo releases tracking and centers the camera on (lon, lat) once. The
// marker is left alone.
func (c *Controller) GoTo(lon, lat float64) error {
	p := LonLat{Lon: lon, Lat: lat}
	if !p.Valid() {
		return fmt.Errorf("goto %v,%v: %w", lon, lat, ErrOutOfRange)
	}

	c.mu.Lock()
	c.mode = Free
	c.camera.Center = p
	c.seq++
	f := c.frameLocked()
	c.mu.Unlock()

	c.publish(f)
	return nil
}

// ToggleTracking flips between Locked and Free and returns the new mode.
// Switching to Locked recenters on the marker right away.
func (c *Controller) ToggleTracking() TrackingMode {
	c.mu.Lock()
	if c.mode == Locked {
		c.mode = Free
	} else {
		c.mode = Locked
		if c.marker != nil {
			c.camera.Center = c.marker.Position
		}
	}
	mode := c.mode
	c.seq++
	f := c.frameLocked()
	c.mu.Unlock()

	c.publish(f)
	return mode
}

// Mode returns the current tracking mode.
func (c *Controller) Mode() TrackingMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetZoom changes the zoom level, which resizes the marker.
func (c *Controller) SetZoom(zoom float64) error {
	if !finite(zoom) {
		return fmt.Errorf("zoom %v: %w", zoom, ErrOutOfRange)
	}

	c.mu.Lock()
	c.camera.Zoom = clamp(zoom, MinZoom, MaxZoom)
	if c.hasLast {
		if err := c.updateMarker(c.last, c.lastStale); err != nil {
			c.logger.Error("marker update failed", "error", err)
		}
	}
	c.seq++
	f := c.frameLocked()
	c.mu.Unlock()

	c.publish(f)
	return nil
}

// SetRadii replaces the range ring radii and redraws the rings.
func (c *Controller) SetRadii(radii []float64) error {
	for _, r := range radii {
		if !finite(r) || r <= 0 {
			return fmt.Errorf("ring radius %v: %w", r, ErrOutOfRange)
		}
	}

	c.mu.Lock()
	c.cfg.RingRadiiNM = slices.Clone(radii)
	if c.hasLast {
		c.rebuildRings(c.last.Position())
	}
	c.seq++
	f := c.frameLocked()
	c.mu.Unlock()

	c.publish(f)
	return nil
}

// Frame returns a copy of the current overlay.
func (c *Controller) Frame() Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frameLocked()
}

// Stats reports icon cache activity and how often rings were rebuilt.
func (c *Controller) Stats() (CacheStats, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Stats(), c.ringBuilds
}

// ErrOutOfRange is returned for user supplied values outside their domain.
var ErrOutOfRange = errors.New("value out of range")

func (c *Controller) updateMarker(st AircraftState, stale bool) error {
	key := RenderKey{
		Fill:     c.markerColor(st, stale),
		Outline:  c.cfg.OutlineColor,
		Shape:    c.cfg.Shape,
		Scale:    ScaleForZoom(c.camera.Zoom),
		Rotation: st.TrueHeadingDeg,
		Opacity:  c.cfg.OpacityDefault,
	}
	style, err := c.cache.StyleFor(key)
	if err != nil {
		return err
	}

	c.marker = &Marker{
		Position:         st.Position(),
		HeadingDeg:       st.TrueHeadingDeg,
		AltitudeFt:       st.AltitudeFt,
		GroundSpeedKt:    st.GroundSpeedKt,
		VerticalSpeedFpm: st.VerticalSpeedFpm,
		Color:            key.Fill,
		Label:            MarkerLabel(st),
		Icon:             style,
	}
	return nil
}

func (c *Controller) markerColor(st AircraftState, stale bool) HSL {
	ground := c.cfg.GroundBelowKt > 0 && st.GroundSpeedKt < c.cfg.GroundBelowKt && math.Abs(st.VerticalSpeedFpm) < 100
	col := c.cfg.Colors.AltitudeColor(st.AltitudeFt, ground, !st.AltitudeKnown)
	if c.cfg.Selected {
		col = ApplyAdjustment(col, c.cfg.Colors.Selected)
	}
	if stale {
		col = ApplyAdjustment(col, c.cfg.Colors.Stale)
	}
	return col.Normalize().Snap()
}

func (c *Controller) rebuildRings(center LonLat) {
	c.rings = BuildRings(center, c.cfg.RingRadiiNM, c.cfg.RingPoints, c.cfg.RingColor)
	c.ringsCenter = center
	c.ringBuilds++
}

func (c *Controller) frameLocked() Frame {
	f := Frame{
		Seq:      c.seq,
		Camera:   c.camera,
		Tracking: c.mode.String(),
		Marker:   c.marker,
		Rings:    c.rings,
	}
	f = deep.MustCopy(f)
	if f.Rings == nil {
		f.Rings = []RingFeature{}
	}
	return f
}

func (c *Controller) publish(f Frame) {
	if c.publisher != nil {
		c.publisher.Publish(f)
	}
}

// MarkerLabel is the text block shown under the aircraft.
func MarkerLabel(st AircraftState) string {
	arrow := "→"
	switch {
	case st.VerticalSpeedFpm > 0:
		arrow = "↑"
	case st.VerticalSpeedFpm < 0:
		arrow = "↓"
	}
	return fmt.Sprintf("%.0f FT\n%.0f KT\n%s %.0f FPM", st.AltitudeFt, st.GroundSpeedKt, arrow, st.VerticalSpeedFpm)
}
