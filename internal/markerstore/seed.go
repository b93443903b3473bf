package markerstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"indoornav/internal/building"
)

// SeedFile is the YAML layout used to provision a store:
//
//	current: MAIN
//	buildings: [{alias, name, floors, has_lgf, altitude_delta, rotation_offset}]
//	markers:   [{url, building_alias, floor, x, y}]
//	staircases: [{building_alias, floor, x, y}]
type SeedFile struct {
	Current    string              `yaml:"current"`
	Buildings  []building.Building `yaml:"buildings"`
	Markers    []building.Marker   `yaml:"markers"`
	Staircases []SeedStaircase     `yaml:"staircases"`
}

type SeedStaircase struct {
	BuildingAlias string  `yaml:"building_alias"`
	FloorLevel    int     `yaml:"floor"`
	X             float64 `yaml:"x"`
	Y             float64 `yaml:"y"`
}

func LoadSeedFile(path string) (SeedFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return SeedFile{}, err
	}
	var f SeedFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return SeedFile{}, fmt.Errorf("markerstore: parse seed %s: %w", path, err)
	}
	return f, nil
}

// Seed replaces the markers and staircases of every building listed in f and
// upserts the buildings themselves, all in one transaction.
func (s *Store) Seed(ctx context.Context, f SeedFile) error {
	for _, b := range f.Buildings {
		if err := b.Validate(); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("markerstore: seed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, b := range f.Buildings {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO buildings (alias, name, floors, has_lgf, altitude_delta, rotation_offset)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(alias) DO UPDATE SET
				name = excluded.name,
				floors = excluded.floors,
				has_lgf = excluded.has_lgf,
				altitude_delta = excluded.altitude_delta,
				rotation_offset = excluded.rotation_offset`,
			b.Alias, b.Name, b.Floors, b.HasLGF, b.AltitudeDelta, b.RotationOffset,
		); err != nil {
			return fmt.Errorf("markerstore: seed building %s: %w", b.Alias, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM markers WHERE building_alias = ?`, b.Alias); err != nil {
			return fmt.Errorf("markerstore: seed building %s: %w", b.Alias, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM staircases WHERE building_alias = ?`, b.Alias); err != nil {
			return fmt.Errorf("markerstore: seed building %s: %w", b.Alias, err)
		}
	}

	for _, m := range f.Markers {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("markerstore: seed: %w", err)
		}
		var floors int
		err := tx.QueryRowContext(ctx, `SELECT floors FROM buildings WHERE alias = ?`, m.BuildingAlias).Scan(&floors)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrUnknownBuilding, m.BuildingAlias)
		}
		if err != nil {
			return fmt.Errorf("markerstore: seed marker %q: %w", m.URL, err)
		}
		if m.FloorLevel > floors {
			return fmt.Errorf("markerstore: seed marker %q: floor %d outside 1..%d", m.URL, m.FloorLevel, floors)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO markers (url, building_alias, floor_level, x, y) VALUES (?, ?, ?, ?, ?)`,
			m.URL, m.BuildingAlias, m.FloorLevel, m.X, m.Y,
		); err != nil {
			return fmt.Errorf("markerstore: seed marker %q: %w", m.URL, err)
		}
	}
	for _, st := range f.Staircases {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO staircases (building_alias, floor_level, x, y) VALUES (?, ?, ?, ?)`,
			st.BuildingAlias, st.FloorLevel, st.X, st.Y,
		); err != nil {
			return fmt.Errorf("markerstore: seed staircase: %w", err)
		}
	}

	if f.Current != "" {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM buildings WHERE alias = ?`, f.Current).Scan(&n); err != nil {
			return fmt.Errorf("markerstore: seed current building: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrUnknownBuilding, f.Current)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO settings (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			currentBuildingKey, f.Current,
		); err != nil {
			return fmt.Errorf("markerstore: seed current building: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("markerstore: seed commit: %w", err)
	}
	return nil
}

func (s *Store) SeedFromFile(ctx context.Context, path string) error {
	f, err := LoadSeedFile(path)
	if err != nil {
		return err
	}
	return s.Seed(ctx, f)
}
