package overlay

import (
	"math"
	"strconv"

	geo "github.com/paulmach/go.geo"
	geojson "github.com/paulmach/go.geojson"
)

const (
	// EarthRadiusMeters matches the sphere used by web mercator tiles.
	EarthRadiusMeters = 6378137.0
	MetersPerNM       = 1852.0

	// DefaultRingPoints gives one vertex per degree of bearing.
	DefaultRingPoints = 360
	minRingPoints     = 3
)

// RingFeature is one range ring around the aircraft.
type RingFeature struct {
	RadiusNM    float64     `json:"radius_nm" msgpack:"radius_nm"`
	Label       string      `json:"label" msgpack:"label"`
	Stroke      string      `json:"stroke" msgpack:"stroke"`
	Coordinates [][]float64 `json:"coordinates" msgpack:"coordinates"`
}

// Ring approximates the circle of constant great-circle distance radiusNM
// around center with points segments. The returned path has points+1
// vertices; the last one repeats the first.
func Ring(center LonLat, radiusNM float64, points int) *geo.Path {
	if points < minRingPoints {
		points = minRingPoints
	}

	dist := radiusNM * MetersPerNM / EarthRadiusMeters
	lon1 := center.Lon * math.Pi / 180
	lat1 := center.Lat * math.Pi / 180
	sinLat1, cosLat1 := math.Sincos(lat1)
	sinDist, cosDist := math.Sincos(dist)

	path := geo.NewPath()
	for i := 0; i <= points; i++ {
		bearing := float64(i%points) * 2 * math.Pi / float64(points)

		lat2 := math.Asin(sinLat1*cosDist + cosLat1*sinDist*math.Cos(bearing))
		lon2 := lon1 + math.Atan2(math.Sin(bearing)*sinDist*cosLat1, cosDist-sinLat1*math.Sin(lat2))

		path.Push(geo.NewPoint(lon2*180/math.Pi, lat2*180/math.Pi))
	}
	return path
}

// BuildRings produces a fresh ring feature for every radius, in order.
func BuildRings(center LonLat, radii []float64, points int, stroke string) []RingFeature {
	rings := make([]RingFeature, 0, len(radii))
	for _, r := range radii {
		path := Ring(center, r, points)
		pts := path.Points()
		coords := make([][]float64, 0, len(pts))
		for _, p := range pts {
			coords = append(coords, []float64{p.Lng(), p.Lat()})
		}
		rings = append(rings, RingFeature{
			RadiusNM:    r,
			Label:       RingLabel(r),
			Stroke:      stroke,
			Coordinates: coords,
		})
	}
	return rings
}

// RingLabel is the text drawn next to a ring.
func RingLabel(radiusNM float64) string {
	return strconv.FormatFloat(radiusNM, 'f', -1, 64) + " NM"
}

// FrameGeoJSON renders the rings and the marker of f as a feature collection.
func FrameGeoJSON(f Frame) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, r := range f.Rings {
		feat := geojson.NewPolygonFeature([][][]float64{r.Coordinates})
		feat.SetProperty("kind", "ring")
		feat.SetProperty("label", r.Label)
		feat.SetProperty("radius_nm", r.RadiusNM)
		feat.SetProperty("stroke", r.Stroke)
		fc.AddFeature(feat)
	}
	if m := f.Marker; m != nil {
		feat := geojson.NewPointFeature([]float64{m.Position.Lon, m.Position.Lat})
		feat.SetProperty("kind", "aircraft")
		feat.SetProperty("label", m.Label)
		feat.SetProperty("heading", m.HeadingDeg)
		if m.Icon != nil {
			feat.SetProperty("icon", m.Icon.Src)
			feat.SetProperty("fill", m.Icon.Fill)
		}
		fc.AddFeature(feat)
	}
	return fc
}
