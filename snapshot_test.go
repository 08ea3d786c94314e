package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "position.parquet")
	want := Position{Lon: -12.5, Lat: 12.3, Alt: 2300, Hdg: 256, GS: 120, VS: -200}

	require.NoError(t, savePositionSnapshot(path, want))
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	got, err := loadPositionSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// a second save replaces the first
	want.Lat = 13
	require.NoError(t, savePositionSnapshot(path, want))
	got, err = loadPositionSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadSnapshotMissing(t *testing.T) {
	_, err := loadPositionSnapshot(filepath.Join(t.TempDir(), "none.parquet"))
	assert.ErrorIs(t, err, errNoSnapshot)
}

func TestRestoreSnapshot(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "position.parquet")
	want := Position{Lon: 147.2, Lat: -9.4, Alt: 4500, Hdg: 90, GS: 140, VS: 500}
	require.NoError(t, savePositionSnapshot(path, want))

	store := newMemoryStore(DefaultPosition)
	restoreSnapshot(ctx, path, store, discardLogger())
	p, err := store.Position(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, p)

	// garbage leaves the defaults in place
	bad := filepath.Join(dir, "bad.parquet")
	require.NoError(t, os.WriteFile(bad, []byte("not parquet"), 0o644))
	store = newMemoryStore(DefaultPosition)
	restoreSnapshot(ctx, bad, store, discardLogger())
	p, err = store.Position(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultPosition, p)
}

func TestSnapshotterFinalSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "position.parquet")
	store := newMemoryStore(DefaultPosition)
	u, err := ParseTrackUpdate("1,2,3")
	require.NoError(t, err)
	_, err = store.Apply(context.Background(), u)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runSnapshotter(ctx, path, time.Hour, store, discardLogger()) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("snapshotter did not stop")
	}

	got, err := loadPositionSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, Position{Lon: 2, Lat: 1, Alt: 3, Hdg: 0, GS: 120, VS: 0}, got)
}
