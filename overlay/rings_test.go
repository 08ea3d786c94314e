package overlay

import (
	"testing"

	geo "github.com/paulmach/go.geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingGeometry(t *testing.T) {
	centers := []LonLat{
		{Lon: 146, Lat: -6},
		{Lon: -12.5, Lat: 12.3},
		{Lon: 179.9, Lat: 0},
		{Lon: 8.5, Lat: 60},
	}
	for _, c := range centers {
		for _, nm := range []float64{2, 5, 10, 20} {
			path := Ring(c, nm, 72)
			require.Equal(t, 73, path.Length())

			pts := path.Points()
			assert.Equal(t, pts[0], pts[len(pts)-1], "ring not closed at %v r=%v", c, nm)

			center := geo.NewPoint(c.Lon, c.Lat)
			want := nm * MetersPerNM
			for i := range pts {
				d := center.GeoDistanceFrom(&pts[i], true)
				assert.InDelta(t, want, d, 0.5, "vertex %d of %v r=%v", i, c, nm)
			}
		}
	}
}

func TestRingMinimumPoints(t *testing.T) {
	assert.Equal(t, 4, Ring(LonLat{}, 1, 0).Length())
}

func TestBuildRings(t *testing.T) {
	center := LonLat{Lon: 146, Lat: -6}
	rings := BuildRings(center, []float64{2, 5, 2.5}, 36, "#202000")
	require.Len(t, rings, 3)

	assert.Equal(t, "2 NM", rings[0].Label)
	assert.Equal(t, "5 NM", rings[1].Label)
	assert.Equal(t, "2.5 NM", rings[2].Label)
	for _, r := range rings {
		assert.Len(t, r.Coordinates, 37)
		assert.Equal(t, "#202000", r.Stroke)
	}

	assert.Empty(t, BuildRings(center, nil, 36, ""))
}

func TestFrameGeoJSON(t *testing.T) {
	f := Frame{
		Rings: BuildRings(LonLat{Lon: 1, Lat: 2}, []float64{2, 5}, 8, "#202000"),
		Marker: &Marker{
			Position: LonLat{Lon: 1, Lat: 2},
			Label:    "100 FT",
			Icon:     &IconStyle{Src: "data:x", Fill: "#ffffff"},
		},
	}
	fc := FrameGeoJSON(f)
	require.Len(t, fc.Features, 3)

	ring := fc.Features[0]
	assert.True(t, ring.Geometry.IsPolygon())
	assert.Equal(t, "2 NM", ring.Properties["label"])
	assert.Len(t, ring.Geometry.Polygon[0], 9)

	marker := fc.Features[2]
	assert.True(t, marker.Geometry.IsPoint())
	assert.Equal(t, []float64{1, 2}, marker.Geometry.Point)
	assert.Equal(t, "data:x", marker.Properties["icon"])

	_, err := fc.MarshalJSON()
	assert.NoError(t, err)
}
