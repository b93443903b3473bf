// Package recal resolves scanned marker payloads into absolute positions.
package recal

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"indoornav/internal/building"
)

var (
	ErrMalformedPayload = errors.New("recal: malformed payload")
	ErrNoUniqueMatch    = errors.New("recal: no unique marker match")
	ErrBuildingMismatch = errors.New("recal: marker belongs to another building")
)

const separator = "::"

// Store is the marker lookup side of the marker store.
type Store interface {
	LookupByURL(ctx context.Context, url string) ([]building.Marker, error)
}

// Payload is a decoded marker string: "<alias>::<floor>::<rest...>".
type Payload struct {
	Raw           string
	BuildingAlias string
	FloorLevel    int
	Rest          []string
}

func ParsePayload(raw string) (Payload, error) {
	parts := strings.Split(raw, separator)
	if len(parts) < 2 {
		return Payload{}, fmt.Errorf("%w: %q has no floor field", ErrMalformedPayload, raw)
	}
	level, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Payload{}, fmt.Errorf("%w: floor %q is not an integer", ErrMalformedPayload, parts[1])
	}
	return Payload{
		Raw:           raw,
		BuildingAlias: parts[0],
		FloorLevel:    level,
		Rest:          parts[2:],
	}, nil
}

// Result is a successful resolution. Position carries the marker's stored
// coordinates and floor, which are authoritative over the payload text.
type Result struct {
	Payload       Payload           `json:"-"`
	Marker        building.Marker   `json:"marker"`
	Building      building.Building `json:"-"`
	Position      building.Point    `json:"position"`
	PreviousFloor int               `json:"previous_floor"`
	FloorChanged  bool              `json:"floor_changed"`
	Message       string            `json:"message"`
}

type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve validates payload against the store and the building the session
// navigates. It does not touch any engine state; the caller applies the
// Result.
func (r *Resolver) Resolve(ctx context.Context, payload string, b building.Building, currentFloor int) (Result, error) {
	p, err := ParsePayload(payload)
	if err != nil {
		return Result{}, err
	}

	matches, err := r.store.LookupByURL(ctx, p.Raw)
	if err != nil {
		return Result{}, fmt.Errorf("recal: lookup: %w", err)
	}
	if len(matches) != 1 {
		return Result{}, fmt.Errorf("%w: %d markers for %q", ErrNoUniqueMatch, len(matches), p.Raw)
	}
	m := matches[0]

	if m.BuildingAlias != b.Alias {
		return Result{}, fmt.Errorf("%w: marker %s, active %s", ErrBuildingMismatch, m.BuildingAlias, b.Alias)
	}
	if !b.HasFloor(m.FloorLevel) {
		return Result{}, fmt.Errorf("%w: marker %q floor %d outside 1..%d", ErrNoUniqueMatch, m.URL, m.FloorLevel, b.Floors)
	}

	res := Result{
		Payload:       p,
		Marker:        m,
		Building:      b,
		Position:      building.Point{X: m.X, Y: m.Y, FloorLevel: m.FloorLevel},
		PreviousFloor: currentFloor,
		FloorChanged:  m.FloorLevel != currentFloor,
	}
	if res.FloorChanged {
		res.Message = fmt.Sprintf("You are currently on the %s. Your position has been fixed.",
			building.Ordinal(m.FloorLevel, b.HasLGF, false))
	} else {
		res.Message = "You are still on the same floor. Your position has been fixed."
	}
	return res, nil
}

// FailureMessage is a user-facing explanation for a Resolve error.
func FailureMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBuildingMismatch):
		return "The scanned QR code belongs to another building."
	case errors.Is(err, ErrMalformedPayload), errors.Is(err, ErrNoUniqueMatch):
		return "The scanned QR code could not be recognized."
	}
	return "The scanned QR code could not be checked. Please try again."
}
