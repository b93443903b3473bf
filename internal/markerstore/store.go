// Package markerstore persists buildings, scannable markers and staircases in
// sqlite and answers the engine's marker and building lookups.
package markerstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"indoornav/internal/building"
)

var (
	ErrNoBuilding      = errors.New("markerstore: no current building")
	ErrUnknownBuilding = errors.New("markerstore: unknown building")
)

const currentBuildingKey = "current_building"

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies pending
// migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("markerstore: path is required")
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("markerstore: open %s: %w", path, err)
	}
	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("markerstore: open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.migrateUp(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) UpsertBuilding(ctx context.Context, b building.Building) error {
	if err := b.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO buildings (alias, name, floors, has_lgf, altitude_delta, rotation_offset)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(alias) DO UPDATE SET
			name = excluded.name,
			floors = excluded.floors,
			has_lgf = excluded.has_lgf,
			altitude_delta = excluded.altitude_delta,
			rotation_offset = excluded.rotation_offset`,
		b.Alias, b.Name, b.Floors, b.HasLGF, b.AltitudeDelta, b.RotationOffset,
	)
	if err != nil {
		return fmt.Errorf("markerstore: upsert building %s: %w", b.Alias, err)
	}
	return nil
}

func (s *Store) Building(ctx context.Context, alias string) (building.Building, error) {
	var b building.Building
	err := s.db.QueryRowContext(ctx, `
		SELECT alias, name, floors, has_lgf, altitude_delta, rotation_offset
		FROM buildings WHERE alias = ?`, alias,
	).Scan(&b.Alias, &b.Name, &b.Floors, &b.HasLGF, &b.AltitudeDelta, &b.RotationOffset)
	if errors.Is(err, sql.ErrNoRows) {
		return building.Building{}, fmt.Errorf("%w: %s", ErrUnknownBuilding, alias)
	}
	if err != nil {
		return building.Building{}, fmt.Errorf("markerstore: building %s: %w", alias, err)
	}
	return b, nil
}

func (s *Store) AddMarker(ctx context.Context, m building.Marker) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("markerstore: %w", err)
	}
	b, err := s.Building(ctx, m.BuildingAlias)
	if err != nil {
		return err
	}
	if !b.HasFloor(m.FloorLevel) {
		return fmt.Errorf("markerstore: marker %q floor %d outside 1..%d", m.URL, m.FloorLevel, b.Floors)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO markers (url, building_alias, floor_level, x, y)
		VALUES (?, ?, ?, ?, ?)`,
		m.URL, m.BuildingAlias, m.FloorLevel, m.X, m.Y,
	)
	if err != nil {
		return fmt.Errorf("markerstore: add marker %q: %w", m.URL, err)
	}
	return nil
}

func (s *Store) AddStaircase(ctx context.Context, alias string, p building.Point) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO staircases (building_alias, floor_level, x, y)
		VALUES (?, ?, ?, ?)`,
		alias, p.FloorLevel, p.X, p.Y,
	)
	if err != nil {
		return fmt.Errorf("markerstore: add staircase: %w", err)
	}
	return nil
}

// SetCurrentBuilding selects the building used by CurrentBuilding. The
// building must exist.
func (s *Store) SetCurrentBuilding(ctx context.Context, alias string) error {
	if _, err := s.Building(ctx, alias); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		currentBuildingKey, alias,
	)
	if err != nil {
		return fmt.Errorf("markerstore: set current building: %w", err)
	}
	return nil
}

func (s *Store) CurrentBuilding(ctx context.Context) (building.Building, error) {
	var alias string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, currentBuildingKey).Scan(&alias)
	if errors.Is(err, sql.ErrNoRows) {
		return building.Building{}, ErrNoBuilding
	}
	if err != nil {
		return building.Building{}, fmt.Errorf("markerstore: current building: %w", err)
	}
	return s.Building(ctx, alias)
}

// LookupByURL returns every marker whose url equals url exactly.
func (s *Store) LookupByURL(ctx context.Context, url string) ([]building.Marker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT url, building_alias, floor_level, x, y
		FROM markers WHERE url = ? ORDER BY id`, url)
	if err != nil {
		return nil, fmt.Errorf("markerstore: lookup %q: %w", url, err)
	}
	defer rows.Close()

	var out []building.Marker
	for rows.Next() {
		var m building.Marker
		if err := rows.Scan(&m.URL, &m.BuildingAlias, &m.FloorLevel, &m.X, &m.Y); err != nil {
			return nil, fmt.Errorf("markerstore: lookup %q: %w", url, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Staircases lists the staircase landings on one floor of a building.
func (s *Store) Staircases(ctx context.Context, alias string, floor int) ([]building.Point, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT x, y, floor_level FROM staircases
		WHERE building_alias = ? AND floor_level = ? ORDER BY id`, alias, floor)
	if err != nil {
		return nil, fmt.Errorf("markerstore: staircases: %w", err)
	}
	defer rows.Close()

	var out []building.Point
	for rows.Next() {
		var p building.Point
		if err := rows.Scan(&p.X, &p.Y, &p.FloorLevel); err != nil {
			return nil, fmt.Errorf("markerstore: staircases: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
