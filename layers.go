package main

import (
	"strconv"
	"strings"
)

// TileLayer describes one map layer offered to the web client.
//
// Proxied layers are fetched through /tiles/{name}/{z}/{x}/{y} so the
// browser never talks to the upstream directly. Layers with an empty URL are
// created client side (Bing needs its own imagery metadata handshake).
type TileLayer struct {
	Name        string  `json:"name"`
	Title       string  `json:"title"`
	Type        string  `json:"type"` // "base" or "overlay"
	Group       string  `json:"group"`
	URL         string  `json:"-"`
	Proxied     bool    `json:"proxied"`
	Imagery     string  `json:"imagery,omitempty"`
	MinZoom     int     `json:"min_zoom"`
	MaxZoom     int     `json:"max_zoom"`
	Opacity     float64 `json:"opacity"`
	Attribution string  `json:"attribution,omitempty"`
}

// OSMLayer is the OpenStreetMap standard tile layer and the default base map.
var OSMLayer = TileLayer{
	Name:        "osm",
	Title:       "OpenStreetMap",
	Type:        "base",
	Group:       "Worldwide",
	URL:         "https://tile.openstreetmap.org/{z}/{x}/{y}.png",
	Proxied:     true,
	MinZoom:     0,
	MaxZoom:     19,
	Opacity:     1,
	Attribution: "© OpenStreetMap contributors",
}

// TerrainLayer is a shaded relief base map.
var TerrainLayer = TileLayer{
	Name:        "terrain",
	Title:       "Terrain",
	Type:        "base",
	Group:       "Worldwide",
	URL:         "https://tile.opentopomap.org/{z}/{x}/{y}.png",
	Proxied:     true,
	MinZoom:     0,
	MaxZoom:     17,
	Opacity:     1,
	Attribution: "© OpenTopoMap (CC-BY-SA)",
}

// pngLayer is the scanned Papua New Guinea chart set served by the local tile
// service, drawn over the base map between zoom 6 and 12.
func pngLayer(service string) TileLayer {
	if !strings.HasSuffix(service, "/") {
		service += "/"
	}
	return TileLayer{
		Name:        "png",
		Title:       "PNG Map",
		Type:        "overlay",
		Group:       "Local Maps",
		URL:         service + "PNG/{z}/{x}/{y}.jpg",
		Proxied:     true,
		MinZoom:     6,
		MaxZoom:     12,
		Opacity:     0.9,
		Attribution: "PNG Map: Courtesy of the University of Texas Libraries",
	}
}

func bingLayers() []TileLayer {
	return []TileLayer{
		{Name: "bing_roads", Title: "Bing Roads", Type: "base", Group: "Worldwide", Imagery: "Road", MaxZoom: 19, Opacity: 1},
		{Name: "bing_aerial", Title: "Bing Aerial", Type: "base", Group: "Worldwide", Imagery: "Aerial", MaxZoom: 19, Opacity: 1},
	}
}

// buildLayers returns the layer catalog for cfg in client draw order. Bing
// layers are offered only when a key is configured; the local PNG overlay
// only when a tile service is.
func buildLayers(cfg TileConfig) []TileLayer {
	var layers []TileLayer
	if cfg.BingKey != "" {
		layers = append(layers, bingLayers()...)
	}
	layers = append(layers, TerrainLayer, OSMLayer)
	if cfg.Service != "" {
		layers = append(layers, pngLayer(cfg.Service))
	}
	return layers
}

// layerByName looks a layer up in the catalog.
func layerByName(layers []TileLayer, name string) (TileLayer, bool) {
	for _, l := range layers {
		if l.Name == name {
			return l, true
		}
	}
	return TileLayer{}, false
}

// tileURL expands the {z}/{x}/{y} template of l.
func (l TileLayer) tileURL(z, x, y int) string {
	return strings.NewReplacer(
		"{z}", strconv.Itoa(z),
		"{x}", strconv.Itoa(x),
		"{y}", strconv.Itoa(y),
	).Replace(l.URL)
}
