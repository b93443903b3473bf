// Package arrival decides when the user has reached, or is near, the
// destination and which side of the user the destination lies on.
package arrival

import (
	"indoornav/internal/building"
	"indoornav/internal/heading"
)

const (
	DefaultArrivedRadius  = 0.04
	DefaultVicinityRadius = 0.17
)

type Radii struct {
	Arrived  float64
	Vicinity float64
}

func DefaultRadii() Radii {
	return Radii{Arrived: DefaultArrivedRadius, Vicinity: DefaultVicinityRadius}
}

// Status is the outcome of evaluating one user position.
type Status struct {
	Distance   float64 `json:"distance"`
	SameFloor  bool    `json:"same_floor"`
	Arrived    bool    `json:"arrived"`
	InVicinity bool    `json:"in_vicinity"`
}

// Distance is the planar distance in building-local units. Floors are ignored.
func Distance(user, target building.Point) float64 {
	return user.Distance(target)
}

func Evaluate(user, dest building.Point, r Radii) Status {
	d := Distance(user, dest)
	same := user.FloorLevel == dest.FloorLevel
	return Status{
		Distance:   d,
		SameFloor:  same,
		Arrived:    same && d <= r.Arrived,
		InVicinity: same && d <= r.Vicinity,
	}
}

type Hint string

const (
	Left  Hint = "left"
	Right Hint = "right"
	Front Hint = "front"
)

// LeftOrRight tells which side of the user the destination is on.
//
// The user's true orientation (degrees, [0, 360)) selects one of four
// sectors, checked in order: West [225, 315], North [315, 360) and [0, 45),
// East [45, 135], South [135, 225]. Shared edges go to the sector listed
// first. West and East compare Y; North and South compare X. An orientation
// that falls in no sector (NaN) yields Front.
func LeftOrRight(orientation, offsetDeg float64, user, dest building.Point) Hint {
	t := heading.TrueHeadingDeg(orientation, offsetDeg)
	switch {
	case t >= 225 && t <= 315:
		if user.Y < dest.Y {
			return Right
		}
		return Left
	case (t >= 315 && t < 360) || (t >= 0 && t < 45):
		if user.X < dest.X {
			return Right
		}
		return Left
	case t >= 45 && t <= 135:
		if user.Y < dest.Y {
			return Left
		}
		return Right
	case t >= 135 && t <= 225:
		if user.X < dest.X {
			return Left
		}
		return Right
	}
	return Front
}

// NearestPoint returns the candidate closest to from, ignoring floors.
func NearestPoint(from building.Point, candidates []building.Point) (building.Point, bool) {
	if len(candidates) == 0 {
		return building.Point{}, false
	}
	best := candidates[0]
	bestD := Distance(from, best)
	for _, c := range candidates[1:] {
		if d := Distance(from, c); d < bestD {
			best, bestD = c, d
		}
	}
	return best, true
}
