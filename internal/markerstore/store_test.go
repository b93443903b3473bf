package markerstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"indoornav/internal/building"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "markers.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var mainBuilding = building.Building{
	Alias: "MAIN", Name: "Main Hall", Floors: 4, HasLGF: true, AltitudeDelta: 3.2, RotationOffset: 12.5,
}

func TestOpen_AppliesMigrations(t *testing.T) {
	s := openTestStore(t)
	v, dirty, err := s.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
	assert.False(t, dirty)
}

func TestOpen_ReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "markers.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.UpsertBuilding(context.Background(), mainBuilding))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Building(context.Background(), "MAIN")
	require.NoError(t, err)
	assert.Equal(t, mainBuilding, got)
}

func TestCurrentBuilding(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.CurrentBuilding(ctx)
	require.ErrorIs(t, err, ErrNoBuilding)

	require.ErrorIs(t, s.SetCurrentBuilding(ctx, "MAIN"), ErrUnknownBuilding)

	require.NoError(t, s.UpsertBuilding(ctx, mainBuilding))
	require.NoError(t, s.SetCurrentBuilding(ctx, "MAIN"))
	got, err := s.CurrentBuilding(ctx)
	require.NoError(t, err)
	assert.Equal(t, mainBuilding, got)
}

func TestLookupByURL_ReturnsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.UpsertBuilding(ctx, mainBuilding))

	m := building.Marker{URL: "MAIN::3::roomA", BuildingAlias: "MAIN", FloorLevel: 3, X: 0.4, Y: 0.1}
	require.NoError(t, s.AddMarker(ctx, m))

	got, err := s.LookupByURL(ctx, m.URL)
	require.NoError(t, err)
	assert.Equal(t, []building.Marker{m}, got)

	require.NoError(t, s.AddMarker(ctx, m))
	got, err = s.LookupByURL(ctx, m.URL)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.LookupByURL(ctx, "MAIN::3::roomB")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAddMarker_RequiresKnownBuilding(t *testing.T) {
	s := openTestStore(t)
	err := s.AddMarker(context.Background(), building.Marker{URL: "X::1::a", BuildingAlias: "X", FloorLevel: 1})
	assert.Error(t, err)
}

func TestStaircases_FilterByFloor(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.UpsertBuilding(ctx, mainBuilding))
	require.NoError(t, s.AddStaircase(ctx, "MAIN", building.Point{X: 1, Y: 2, FloorLevel: 1}))
	require.NoError(t, s.AddStaircase(ctx, "MAIN", building.Point{X: 3, Y: 4, FloorLevel: 2}))
	require.NoError(t, s.AddStaircase(ctx, "MAIN", building.Point{X: 5, Y: 6, FloorLevel: 2}))

	got, err := s.Staircases(ctx, "MAIN", 2)
	require.NoError(t, err)
	assert.Equal(t, []building.Point{{X: 3, Y: 4, FloorLevel: 2}, {X: 5, Y: 6, FloorLevel: 2}}, got)
}

const seedYAML = `
current: MAIN
buildings:
  - alias: MAIN
    name: Main Hall
    floors: 4
    has_lgf: true
    altitude_delta: 3.2
    rotation_offset: 12.5
markers:
  - {url: "MAIN::3::roomA", building_alias: MAIN, floor: 3, x: 0.4, y: 0.1}
  - {url: "MAIN::1::lobby", building_alias: MAIN, floor: 1, x: 0.0, y: 0.0}
staircases:
  - {building_alias: MAIN, floor: 1, x: 0.2, y: 0.3}
`

func TestSeedFromFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "building.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o644))

	s := openTestStore(t)
	require.NoError(t, s.SeedFromFile(ctx, path))
	// Reseeding replaces rather than duplicates.
	require.NoError(t, s.SeedFromFile(ctx, path))

	b, err := s.CurrentBuilding(ctx)
	require.NoError(t, err)
	assert.Equal(t, mainBuilding, b)

	got, err := s.LookupByURL(ctx, "MAIN::3::roomA")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].FloorLevel)

	stairs, err := s.Staircases(ctx, "MAIN", 1)
	require.NoError(t, err)
	assert.Len(t, stairs, 1)
}

func TestSeed_RejectsUnknownCurrent(t *testing.T) {
	s := openTestStore(t)
	err := s.Seed(context.Background(), SeedFile{Current: "ANNEX", Buildings: []building.Building{mainBuilding}})
	require.ErrorIs(t, err, ErrUnknownBuilding)

	// The failed seed left nothing behind.
	_, err = s.Building(context.Background(), "MAIN")
	require.ErrorIs(t, err, ErrUnknownBuilding)
}

func TestAddMarker_RejectsFloorOutsideBuilding(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.UpsertBuilding(ctx, mainBuilding))

	for _, level := range []int{0, -1, 5} {
		err := s.AddMarker(ctx, building.Marker{URL: "MAIN::x::a", BuildingAlias: "MAIN", FloorLevel: level})
		assert.Error(t, err, "floor %d", level)
	}
	got, err := s.LookupByURL(ctx, "MAIN::x::a")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSeed_RejectsMarkerFloorOutsideBuilding(t *testing.T) {
	s := openTestStore(t)
	err := s.Seed(context.Background(), SeedFile{
		Buildings: []building.Building{mainBuilding},
		Markers:   []building.Marker{{URL: "MAIN::7::x", BuildingAlias: "MAIN", FloorLevel: 7}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floor 7 outside 1..4")

	_, err = s.Building(context.Background(), "MAIN")
	require.ErrorIs(t, err, ErrUnknownBuilding)
}
