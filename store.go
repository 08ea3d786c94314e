package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
)

// Position is the single aircraft state held by the service. The JSON form
// is the wire format of GET /api/location.
type Position struct {
	Lon float64 `json:"pos_lon"`
	Lat float64 `json:"pos_lat"`
	Alt float64 `json:"alt_msl_ft"`
	Hdg float64 `json:"hdg_true_deg"`
	GS  float64 `json:"gs_kt"`
	VS  float64 `json:"vs_fpm"`
}

// DefaultPosition is where the aircraft sits until the first update arrives.
var DefaultPosition = Position{Lon: 146.0, Lat: -6.0, Alt: 8000, Hdg: 0, GS: 120, VS: 0}

// TrackUpdate is a parsed position update. Lat and Lon are mandatory; nil
// optional fields keep the stored value.
type TrackUpdate struct {
	Lat float64
	Lon float64
	Alt *float64
	Hdg *float64
	GS  *float64
	VS  *float64
}

// Apply merges u into p.
func (u TrackUpdate) Apply(p Position) Position {
	p.Lat = u.Lat
	p.Lon = u.Lon
	if u.Alt != nil {
		p.Alt = *u.Alt
	}
	if u.Hdg != nil {
		p.Hdg = *u.Hdg
	}
	if u.GS != nil {
		p.GS = *u.GS
	}
	if u.VS != nil {
		p.VS = *u.VS
	}
	return p
}

// errTrackUpdate marks every rejected update so handlers can answer with a
// client error.
var errTrackUpdate = errors.New("invalid track update")

// ParseTrackUpdate parses "lat,lon[,alt[,hdg[,gs[,vs]]]]".
//
// Fewer than two fields or a non-numeric lat/lon rejects the update. Optional
// fields that are empty or not numeric are skipped and leave the stored
// value untouched. Fields beyond the sixth are ignored.
//
// Example: "12.3,-12.5,2300,256,120,-200"
func ParseTrackUpdate(s string) (TrackUpdate, error) {
	para := strings.Split(s, ",")
	if len(para) < 2 {
		return TrackUpdate{}, fmt.Errorf("%w: need at least lat,lon", errTrackUpdate)
	}

	lat, ok := parseNumber(para[0])
	if !ok {
		return TrackUpdate{}, fmt.Errorf("%w: lat %q is not a number", errTrackUpdate, para[0])
	}
	lon, ok := parseNumber(para[1])
	if !ok {
		return TrackUpdate{}, fmt.Errorf("%w: lon %q is not a number", errTrackUpdate, para[1])
	}

	u := TrackUpdate{Lat: lat, Lon: lon}
	optional := []**float64{&u.Alt, &u.Hdg, &u.GS, &u.VS}
	for i, dst := range optional {
		if 2+i >= len(para) {
			break
		}
		if v, ok := parseNumber(para[2+i]); ok {
			*dst = &v
		}
	}
	return u, nil
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// PositionStore holds the latest aircraft position.
type PositionStore interface {
	// Position returns the stored position.
	Position(ctx context.Context) (Position, error)
	// Apply merges an update and returns the resulting position.
	Apply(ctx context.Context, u TrackUpdate) (Position, error)
	// Replace overwrites the whole position, e.g. when restoring a snapshot.
	Replace(ctx context.Context, p Position) error
	Close() error
}

// memoryStore keeps the position in process memory.
type memoryStore struct {
	mu  sync.RWMutex
	pos Position
}

func newMemoryStore(initial Position) *memoryStore {
	return &memoryStore{pos: initial}
}

func (m *memoryStore) Position(ctx context.Context) (Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pos, nil
}

func (m *memoryStore) Apply(ctx context.Context, u TrackUpdate) (Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos = u.Apply(m.pos)
	return m.pos, nil
}

func (m *memoryStore) Replace(ctx context.Context, p Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos = p
	return nil
}

func (m *memoryStore) Close() error { return nil }
