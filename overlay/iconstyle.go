package overlay

import (
	"encoding/base64"
	"fmt"
	"math"
	"strings"
)

// IconShape is a marker template. The SVG carries the placeholders
// aircraft_color_fill, aircraft_color_stroke and add_stroke_selected which are
// substituted when the icon is colorized.
type IconShape struct {
	ID   string
	SVG  string
	Size [2]int
}

// ShapeAircraft is the default marker shape id.
const ShapeAircraft = "aircraft"

// AircraftShape is a top-down airliner silhouette, nose up.
var AircraftShape = IconShape{
	ID:   ShapeAircraft,
	Size: [2]int{17, 17},
	SVG: `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 17 17" width="17px" height="17px" add_stroke_selected>` +
		`<defs><style>.cls-1{fill:aircraft_color_fill;}.cls-2{fill:aircraft_color_stroke;}</style></defs>` +
		`<title>Aircraft</title><g id="Aircraft">` +
		`<path class="cls-1" d="M5.25,16.76c-.92,0-1.33-.46-1.39-.86a1,1,0,0,1,.79-1.11c.25-.08,1.22-.43,2.63-1V10.65h-6c-.68,0-1-.35-1-.66a.81.81,0,0,1,.6-.86C1.14,9,4.8,7,7.28,5.63V3c0-1.11.44-2.71,1.23-2.71S9.77,1.84,9.77,3V5.63C12.22,7,15.87,9,16.14,9.13a.8.8,0,0,1,.61.86c-.05.31-.36.67-1.05.67H9.77v3.19l1.61.59,1,.36a1.05,1.05,0,0,1,.8,1.11c-.07.39-.47.86-1.39.86Z"/>` +
		`<path class="cls-2" d="M8.54.48c.55,0,1,1.36,1,2.47V5.77s6.15,3.45,6.53,3.59c.72.25.61,1.06-.36,1.06H9.53V14c1.44.52,2.5.93,2.76,1,1,.36.85,1.5-.52,1.5H5.25c-1.38,0-1.52-1.14-.52-1.5.26-.08,1.33-.47,2.78-1V10.41H1.29c-1,0-1-.81-.36-1.06.4-.13,6.59-3.59,6.59-3.59V3c0-1.11.44-2.47,1-2.47h0m0-.48h0C7.51,0,7,1.76,7,3V5.49C4.69,6.79,1.11,8.77.77,8.9A1,1,0,0,0,0,10a1.15,1.15,0,0,0,1.27.86H7v2.78c-1.3.49-2.23.82-2.45.89a1.29,1.29,0,0,0-1,1.39c.08.49.56,1.05,1.63,1.05h6.51c1.07,0,1.54-.57,1.63-1.05a1.28,1.28,0,0,0-.94-1.38l-1-.36L10,13.67V10.89h5.7A1.16,1.16,0,0,0,17,10a1,1,0,0,0-.77-1.12C15.9,8.77,12.34,6.79,10,5.49V3c0-1.19-.47-3-1.47-3Z"/>` +
		`</g></svg>`,
}

// selectedStroke outlines the whole marker.
const selectedStroke = ` stroke="black" stroke-width="1px"`

// RenderKey identifies everything that affects how the marker looks in one
// frame. Keys compare by value.
type RenderKey struct {
	Fill     HSL
	Outline  string
	Shape    string
	Scale    float64
	Rotation float64
	Opacity  float64
}

// imageKey covers the fields that need the SVG to be rendered again.
type imageKey struct {
	fill    HSL
	outline string
	shape   string
	scale   float64
}

// poseKey covers the fields that can be changed on an existing style.
type poseKey struct {
	opacity  float64
	rotation float64
}

func (k RenderKey) image() imageKey {
	return imageKey{fill: k.Fill, outline: k.Outline, shape: k.Shape, scale: k.Scale}
}

func (k RenderKey) pose() poseKey {
	return poseKey{opacity: k.Opacity, rotation: k.Rotation}
}

// IconStyle is the rendered marker as the map widget consumes it.
type IconStyle struct {
	Src            string     `json:"src" msgpack:"src"`
	Size           [2]int     `json:"size" msgpack:"size"`
	Anchor         [2]float64 `json:"anchor" msgpack:"anchor"`
	Scale          float64    `json:"scale" msgpack:"scale"`
	Rotation       float64    `json:"rotation" msgpack:"rotation"` // radians
	Opacity        float64    `json:"opacity" msgpack:"opacity"`
	RotateWithView bool       `json:"rotate_with_view" msgpack:"rotate_with_view"`
	Fill           string     `json:"fill" msgpack:"fill"`
	Outline        string     `json:"outline" msgpack:"outline"`
}

// CacheStats counts what StyleFor had to do.
type CacheStats struct {
	Renders     int `json:"renders"`
	PoseUpdates int `json:"pose_updates"`
	Hits        int `json:"hits"`
}

// IconStyleCache keeps the last rendered marker style. Colorizing and encoding
// the SVG is only redone when the image key changes; rotation and opacity are
// applied to the existing style in place.
//
// The cache is not safe for concurrent use.
type IconStyleCache struct {
	shapes map[string]IconShape

	style *IconStyle
	image imageKey
	pose  poseKey
	stats CacheStats
}

// NewIconStyleCache returns a cache able to render the given shapes, or the
// aircraft shape when none are given.
func NewIconStyleCache(shapes ...IconShape) *IconStyleCache {
	if len(shapes) == 0 {
		shapes = []IconShape{AircraftShape}
	}
	c := &IconStyleCache{shapes: make(map[string]IconShape, len(shapes))}
	for _, s := range shapes {
		c.shapes[s.ID] = s
	}
	return c
}

// StyleFor returns the style for key, rendering it only when needed. The
// returned pointer stays the same for as long as the image key is unchanged.
func (c *IconStyleCache) StyleFor(key RenderKey) (*IconStyle, error) {
	if c.style == nil || c.image != key.image() {
		shape, ok := c.shapes[key.Shape]
		if !ok {
			return nil, fmt.Errorf("unknown icon shape %q", key.Shape)
		}
		fill := key.Fill.Hex()
		c.style = &IconStyle{
			Src:            SVGDataURI(shape.SVG, key.Outline, fill, selectedStroke),
			Size:           shape.Size,
			Anchor:         [2]float64{0.5, 0.5},
			Scale:          1.2 * key.Scale,
			Rotation:       key.Rotation * math.Pi / 180,
			Opacity:        key.Opacity,
			RotateWithView: true,
			Fill:           fill,
			Outline:        key.Outline,
		}
		c.image = key.image()
		c.pose = key.pose()
		c.stats.Renders++
		return c.style, nil
	}

	if c.pose != key.pose() {
		c.style.Rotation = key.Rotation * math.Pi / 180
		c.style.Opacity = key.Opacity
		c.pose = key.pose()
		c.stats.PoseUpdates++
		return c.style, nil
	}

	c.stats.Hits++
	return c.style, nil
}

// Stats returns the cache counters.
func (c *IconStyleCache) Stats() CacheStats {
	return c.stats
}

// ColorizeSVG fills the template placeholders of svg.
func ColorizeSVG(svg, outline, fill, stroke string) string {
	return strings.NewReplacer(
		"aircraft_color_fill", fill,
		"aircraft_color_stroke", outline,
		"add_stroke_selected", stroke,
	).Replace(svg)
}

// SVGDataURI colorizes svg and encodes it as an embeddable image URI.
func SVGDataURI(svg, outline, fill, stroke string) string {
	return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(ColorizeSVG(svg, outline, fill, stroke)))
}

// ScaleForZoom sizes the marker for a map zoom level: 0.15*1.25^zoom bounded
// to [0.2,1.2], rounded to one decimal.
func ScaleForZoom(zoom float64) float64 {
	s := clamp(0.15*math.Pow(1.25, zoom), 0.2, 1.2)
	return math.Round(s*10) / 10
}
