package overlay

import (
	"errors"
	"fmt"
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// HSL is a hue (degrees) / saturation (percent) / lightness (percent) triple.
// The same type carries adjustment deltas, which may be negative.
type HSL struct {
	H float64 `json:"h" yaml:"h" msgpack:"h"`
	S float64 `json:"s" yaml:"s" msgpack:"s"`
	L float64 `json:"l" yaml:"l" msgpack:"l"`
}

// Breakpoint maps an altitude to a hue.
type Breakpoint struct {
	Alt float64 `json:"alt" yaml:"alt"`
	Hue float64 `json:"val" yaml:"val"`
}

// AirColors defines the coloring of airborne aircraft. The hue is
// interpolated over Hue; saturation and lightness are fixed.
type AirColors struct {
	Hue []Breakpoint `json:"h" yaml:"h"`
	S   float64      `json:"s" yaml:"s"`
	L   float64      `json:"l" yaml:"l"`
}

// ColorModel holds the altitude color table together with the deltas applied
// for marker states.
type ColorModel struct {
	Unknown HSL       `json:"unknown" yaml:"unknown"`
	Ground  HSL       `json:"ground" yaml:"ground"`
	Air     AirColors `json:"air" yaml:"air"`

	Selected HSL `json:"selected" yaml:"selected"`
	Stale    HSL `json:"stale" yaml:"stale"`
	MLAT     HSL `json:"mlat" yaml:"mlat"`
}

// DefaultColorModel returns the stock orange -> green -> magenta altitude
// scheme.
func DefaultColorModel() ColorModel {
	return ColorModel{
		Unknown: HSL{H: 0, S: 0, L: 40},
		Ground:  HSL{H: 15, S: 80, L: 20},
		Air: AirColors{
			Hue: []Breakpoint{
				{Alt: 2000, Hue: 20},   // orange
				{Alt: 10000, Hue: 140}, // light green
				{Alt: 40000, Hue: 300}, // magenta
			},
			S: 85,
			L: 50,
		},
		Selected: HSL{H: 0, S: -10, L: 20},
		Stale:    HSL{H: 0, S: -10, L: 30},
		MLAT:     HSL{H: 0, S: -10, L: -10},
	}
}

var errBreakpoints = errors.New("altitude breakpoints must be strictly increasing")

// Validate checks that the hue table is usable for interpolation.
func (m ColorModel) Validate() error {
	if len(m.Air.Hue) == 0 {
		return errors.New("altitude color table is empty")
	}
	for i := 1; i < len(m.Air.Hue); i++ {
		if !(m.Air.Hue[i].Alt > m.Air.Hue[i-1].Alt) {
			return fmt.Errorf("%w: %v after %v", errBreakpoints, m.Air.Hue[i].Alt, m.Air.Hue[i-1].Alt)
		}
	}
	return nil
}

// AltitudeColor maps an altitude to its base color. Altitudes at or below the
// first breakpoint take its hue, at or above the last take the last hue, and
// anything in between is interpolated linearly.
func (m ColorModel) AltitudeColor(altitudeFt float64, ground, unknown bool) HSL {
	switch {
	case unknown:
		return m.Unknown
	case ground:
		return m.Ground
	}

	c := HSL{S: m.Air.S, L: m.Air.L}
	bp := m.Air.Hue
	if len(bp) == 0 {
		return c
	}

	last := len(bp) - 1
	switch {
	case altitudeFt <= bp[0].Alt:
		c.H = bp[0].Hue
	case altitudeFt >= bp[last].Alt:
		c.H = bp[last].Hue
	default:
		for i := last - 1; i >= 0; i-- {
			if altitudeFt >= bp[i].Alt {
				frac := (altitudeFt - bp[i].Alt) / (bp[i+1].Alt - bp[i].Alt)
				c.H = bp[i].Hue + (bp[i+1].Hue-bp[i].Hue)*frac
				break
			}
		}
	}
	return c
}

// ApplyAdjustment adds delta to base and normalizes the result.
func ApplyAdjustment(base, delta HSL) HSL {
	return HSL{H: base.H + delta.H, S: base.S + delta.S, L: base.L + delta.L}.Normalize()
}

// Normalize wraps the hue into [0,360) and clamps saturation and lightness to
// [5,95].
func (c HSL) Normalize() HSL {
	c.H = wrapHue(c.H)
	c.S = clamp(c.S, 5, 95)
	c.L = clamp(c.L, 5, 95)
	return c
}

// Snap rounds every component to the nearest multiple of 5, the precision
// at which two marker colors are considered equal.
func (c HSL) Snap() HSL {
	return HSL{
		H: wrapHue(snap5(c.H)),
		S: snap5(c.S),
		L: snap5(c.L),
	}
}

// CSS formats the color as a CSS hsl() expression.
func (c HSL) CSS() string {
	return fmt.Sprintf("hsl(%.0f,%.0f%%,%.0f%%)", c.H, c.S, c.L)
}

// Hex converts the color to a #rrggbb string.
func (c HSL) Hex() string {
	return colorful.Hsl(c.H, c.S/100, c.L/100).Clamped().Hex()
}

func wrapHue(h float64) float64 {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	// math.Mod of a tiny negative value can round back up to 360.
	if h >= 360 {
		h = 0
	}
	return h
}

func snap5(v float64) float64 {
	return math.Round(v/5) * 5
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
