package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb" // DuckDB driver for Go's database/sql
)

// duckStore keeps the position as the single row of an in-memory DuckDB
// table. Optional fields of an update are merged with COALESCE so a partial
// update is one statement.
type duckStore struct {
	db *sql.DB
}

const positionSchema = `
	CREATE TABLE IF NOT EXISTS aircraft_position (
		id           INTEGER PRIMARY KEY,
		pos_lon      DOUBLE NOT NULL,
		pos_lat      DOUBLE NOT NULL,
		alt_msl_ft   DOUBLE NOT NULL,
		hdg_true_deg DOUBLE NOT NULL,
		gs_kt        DOUBLE NOT NULL,
		vs_fpm       DOUBLE NOT NULL
	)`

// newDuckStore opens DuckDB in in-memory mode and seeds the position row.
func newDuckStore(initial Position) (*duckStore, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("DuckDB connection failed: %w", err)
	}
	// An in-memory database lives and dies with its connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(positionSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating position table: %w", err)
	}
	s := &duckStore{db: db}
	if _, err := db.Exec(`INSERT INTO aircraft_position VALUES (1, ?, ?, ?, ?, ?, ?)`,
		initial.Lon, initial.Lat, initial.Alt, initial.Hdg, initial.GS, initial.VS); err != nil {
		db.Close()
		return nil, fmt.Errorf("seeding position: %w", err)
	}
	return s, nil
}

func (s *duckStore) Position(ctx context.Context) (Position, error) {
	var p Position
	err := s.db.QueryRowContext(ctx, `
		SELECT pos_lon, pos_lat, alt_msl_ft, hdg_true_deg, gs_kt, vs_fpm
		FROM aircraft_position WHERE id = 1`).Scan(&p.Lon, &p.Lat, &p.Alt, &p.Hdg, &p.GS, &p.VS)
	if err != nil {
		return Position{}, fmt.Errorf("reading position: %w", err)
	}
	return p, nil
}

func (s *duckStore) Apply(ctx context.Context, u TrackUpdate) (Position, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE aircraft_position SET
			pos_lat      = ?,
			pos_lon      = ?,
			alt_msl_ft   = COALESCE(CAST(? AS DOUBLE), alt_msl_ft),
			hdg_true_deg = COALESCE(CAST(? AS DOUBLE), hdg_true_deg),
			gs_kt        = COALESCE(CAST(? AS DOUBLE), gs_kt),
			vs_fpm       = COALESCE(CAST(? AS DOUBLE), vs_fpm)
		WHERE id = 1`,
		u.Lat, u.Lon, nullable(u.Alt), nullable(u.Hdg), nullable(u.GS), nullable(u.VS))
	if err != nil {
		return Position{}, fmt.Errorf("updating position: %w", err)
	}
	return s.Position(ctx)
}

func (s *duckStore) Replace(ctx context.Context, p Position) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE aircraft_position SET pos_lon = ?, pos_lat = ?, alt_msl_ft = ?, hdg_true_deg = ?, gs_kt = ?, vs_fpm = ?
		WHERE id = 1`, p.Lon, p.Lat, p.Alt, p.Hdg, p.GS, p.VS)
	if err != nil {
		return fmt.Errorf("replacing position: %w", err)
	}
	return nil
}

func (s *duckStore) Close() error {
	return s.db.Close()
}

func nullable(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// openStore returns the configured position store backend.
func openStore(kind string, initial Position) (PositionStore, error) {
	switch kind {
	case "", "memory":
		return newMemoryStore(initial), nil
	case "duckdb":
		return newDuckStore(initial)
	default:
		return nil, fmt.Errorf("unknown store %q (want memory or duckdb)", kind)
	}
}
