package building

import (
	"fmt"
	"math"
	"strconv"
)

// Building is the read-only metadata of the building the engine navigates.
// Coordinates are in the building-local frame used by the floor plans.
type Building struct {
	Alias          string  `json:"alias" yaml:"alias"`
	Name           string  `json:"name" yaml:"name"`
	Floors         int     `json:"floors" yaml:"floors"`
	HasLGF         bool    `json:"has_lgf" yaml:"has_lgf"`
	AltitudeDelta  float64 `json:"altitude_delta" yaml:"altitude_delta"`
	RotationOffset float64 `json:"rotation_offset" yaml:"rotation_offset"`
}

// Validate reports whether b can drive a navigation session.
func (b Building) Validate() error {
	if b.Alias == "" {
		return fmt.Errorf("building: alias is required")
	}
	if b.Floors < 1 {
		return fmt.Errorf("building %s: floors must be >= 1", b.Alias)
	}
	if b.AltitudeDelta <= 0 {
		return fmt.Errorf("building %s: altitude_delta must be > 0", b.Alias)
	}
	return nil
}

// HasFloor reports whether level is one of b's floors.
func (b Building) HasFloor(level int) bool {
	return level >= 1 && level <= b.Floors
}

// Marker is a scannable location tag. URL is the decoded payload string;
// it is looked up verbatim and is not guaranteed unique in the store.
type Marker struct {
	URL           string  `json:"url" yaml:"url"`
	BuildingAlias string  `json:"building_alias" yaml:"building_alias"`
	FloorLevel    int     `json:"floor" yaml:"floor"`
	X             float64 `json:"x" yaml:"x"`
	Y             float64 `json:"y" yaml:"y"`
}

func (m Marker) Validate() error {
	if m.URL == "" {
		return fmt.Errorf("marker: url is required")
	}
	if m.FloorLevel < 1 {
		return fmt.Errorf("marker %q: floor must be >= 1", m.URL)
	}
	return nil
}

// Point is a position on a given floor.
type Point struct {
	X          float64 `json:"x" yaml:"x"`
	Y          float64 `json:"y" yaml:"y"`
	FloorLevel int     `json:"floor" yaml:"floor"`
}

// Distance is the planar distance between p and q, ignoring floors.
func (p Point) Distance(q Point) float64 {
	return math.Hypot(q.X-p.X, q.Y-p.Y)
}

// Ordinal names a floor level for display.
//
// Buildings with a lower ground floor number it as level 1 and the ground
// floor as level 2; the remaining levels shift down by one. Abbreviated names
// look like "LGF", "GF", "3F".
func Ordinal(level int, hasLGF, abbrev bool) string {
	n := level
	if hasLGF {
		switch level {
		case 1:
			if abbrev {
				return "LGF"
			}
			return "Lower Ground Floor"
		case 2:
			if abbrev {
				return "GF"
			}
			return "Ground Floor"
		}
		n = level - 1
	}
	if abbrev {
		return strconv.Itoa(n) + "F"
	}
	return ordinalSuffix(n) + " Floor"
}

func ordinalSuffix(n int) string {
	s := strconv.Itoa(n)
	if n%100 >= 11 && n%100 <= 13 {
		return s + "th"
	}
	switch n % 10 {
	case 1:
		return s + "st"
	case 2:
		return s + "nd"
	case 3:
		return s + "rd"
	}
	return s + "th"
}
