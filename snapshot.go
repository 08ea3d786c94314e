package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"
)

// PositionRecord is the Parquet schema of a position snapshot. A snapshot
// file holds exactly one row: the latest position.
type PositionRecord struct {
	SavedAt string  `parquet:"name=saved_at, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN"`
	Lon     float64 `parquet:"name=pos_lon, type=DOUBLE"`
	Lat     float64 `parquet:"name=pos_lat, type=DOUBLE"`
	Alt     float64 `parquet:"name=alt_msl_ft, type=DOUBLE"`
	Hdg     float64 `parquet:"name=hdg_true_deg, type=DOUBLE"`
	GS      float64 `parquet:"name=gs_kt, type=DOUBLE"`
	VS      float64 `parquet:"name=vs_fpm, type=DOUBLE"`
}

func recordFromPosition(p Position, at time.Time) PositionRecord {
	return PositionRecord{
		SavedAt: at.UTC().Format(time.RFC3339),
		Lon:     p.Lon, Lat: p.Lat, Alt: p.Alt, Hdg: p.Hdg, GS: p.GS, VS: p.VS,
	}
}

func (r PositionRecord) position() Position {
	return Position{Lon: r.Lon, Lat: r.Lat, Alt: r.Alt, Hdg: r.Hdg, GS: r.GS, VS: r.VS}
}

// savePositionSnapshot writes p to path as a ZSTD compressed Parquet file.
// The file is written next to path and renamed into place so a reader never
// sees a partial snapshot.
func savePositionSnapshot(path string, p Position) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return fmt.Errorf("creating snapshot directory: %w", err)
		}
	}
	tmp := path + ".tmp"

	fw, err := local.NewLocalFileWriter(tmp)
	if err != nil {
		return fmt.Errorf("creating Parquet file writer: %w", err)
	}

	pw, err := writer.NewParquetWriter(fw, new(PositionRecord), 1)
	if err != nil {
		fw.Close()
		return fmt.Errorf("initializing Parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_ZSTD

	if err := pw.Write(recordFromPosition(p, time.Now())); err != nil {
		fw.Close()
		return fmt.Errorf("writing position record: %w", err)
	}
	if err := pw.WriteStop(); err != nil {
		fw.Close()
		return fmt.Errorf("finalizing Parquet writer: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("closing snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// errNoSnapshot is returned by loadPositionSnapshot when there is nothing to
// restore.
var errNoSnapshot = errors.New("no position snapshot")

// loadPositionSnapshot reads the position saved at path.
func loadPositionSnapshot(path string) (Position, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return Position{}, errNoSnapshot
	}

	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return Position{}, fmt.Errorf("opening snapshot: %w", err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(PositionRecord), 1)
	if err != nil {
		return Position{}, fmt.Errorf("initializing Parquet reader: %w", err)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	if n == 0 {
		return Position{}, errNoSnapshot
	}
	rows := make([]PositionRecord, n)
	if err := pr.Read(&rows); err != nil {
		return Position{}, fmt.Errorf("reading snapshot: %w", err)
	}
	return rows[n-1].position(), nil
}

// restoreSnapshot loads the snapshot at path into store. Failures are logged
// and the store keeps its defaults.
func restoreSnapshot(ctx context.Context, path string, store PositionStore, logger *slog.Logger) {
	p, err := loadPositionSnapshot(path)
	switch {
	case errors.Is(err, errNoSnapshot):
		logger.Info("No position snapshot to restore", slog.String("path", path))
		return
	case err != nil:
		logger.Warn("Position snapshot unreadable, starting from defaults", slog.String("path", path), slog.Any("error", err))
		return
	}
	if err := store.Replace(ctx, p); err != nil {
		logger.Warn("Restoring position snapshot failed", slog.Any("error", err))
		return
	}
	logger.Info("Position restored from snapshot", slog.String("path", path),
		slog.Float64("lat", p.Lat), slog.Float64("lon", p.Lon))
}

// runSnapshotter saves the current position every interval and once more
// when ctx is cancelled. Write failures are logged and never stop the loop.
func runSnapshotter(ctx context.Context, path string, interval time.Duration, store PositionStore, logger *slog.Logger) error {
	logger.Info("Starting position snapshotter", slog.String("path", path), slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	save := func(ctx context.Context) {
		p, err := store.Position(ctx)
		if err != nil {
			logger.Warn("Snapshot skipped", slog.Any("error", err))
			return
		}
		start := time.Now()
		if err := savePositionSnapshot(path, p); err != nil {
			logger.Warn("Snapshot write failed", slog.String("path", path), slog.Any("error", err))
			return
		}
		logger.Debug("Snapshot written", slog.String("path", path), slog.Duration("took", time.Since(start)))
	}

	for {
		select {
		case <-ctx.Done():
			save(context.WithoutCancel(ctx))
			logger.Info("Stopping position snapshotter")
			return nil
		case <-ticker.C:
			save(ctx)
		}
	}
}
