package overlay

import "math"

// MaxAltitudeFt is the ceiling applied to reported altitudes.
const MaxAltitudeFt = 60000.0

// LonLat is a geographic position in decimal degrees.
type LonLat struct {
	Lon float64 `json:"lon" msgpack:"lon"`
	Lat float64 `json:"lat" msgpack:"lat"`
}

// Valid reports whether the position lies within the WGS84 degree ranges.
func (p LonLat) Valid() bool {
	return finite(p.Lon) && finite(p.Lat) && math.Abs(p.Lon) <= 180 && math.Abs(p.Lat) <= 90
}

// AircraftState is one reading of the tracked aircraft as served by the
// position store. It is consumed once per poll and never retained beyond the
// latest value.
type AircraftState struct {
	Longitude        float64
	Latitude         float64
	AltitudeFt       float64
	AltitudeKnown    bool
	TrueHeadingDeg   float64
	GroundSpeedKt    float64
	VerticalSpeedFpm float64
}

// Position returns the state's longitude and latitude.
func (s AircraftState) Position() LonLat {
	return LonLat{Lon: s.Longitude, Lat: s.Latitude}
}

// Sanitize returns a copy of s with every field forced into its valid range.
// Out of range coordinates, headings and speeds are zeroed; altitudes above
// the ceiling are clamped. Nothing here ever fails: the overlay always renders
// a bounded state.
func Sanitize(s AircraftState) AircraftState {
	if !finite(s.Longitude) || math.Abs(s.Longitude) > 180 {
		s.Longitude = 0
	}
	if !finite(s.Latitude) || math.Abs(s.Latitude) > 90 {
		s.Latitude = 0
	}
	switch {
	case !finite(s.AltitudeFt):
		s.AltitudeFt = 0
	case s.AltitudeFt > MaxAltitudeFt:
		s.AltitudeFt = MaxAltitudeFt
	}
	if !finite(s.TrueHeadingDeg) || s.TrueHeadingDeg < 0 || s.TrueHeadingDeg > 360 {
		s.TrueHeadingDeg = 0
	}
	if !finite(s.GroundSpeedKt) || s.GroundSpeedKt < 0 {
		s.GroundSpeedKt = 0
	}
	if !finite(s.VerticalSpeedFpm) {
		s.VerticalSpeedFpm = 0
	}
	return s
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
