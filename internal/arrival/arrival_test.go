package arrival

import (
	"math"
	"testing"

	"indoornav/internal/building"
	"indoornav/internal/heading"
)

func TestEvaluate(t *testing.T) {
	cases := []struct {
		name     string
		user     building.Point
		dest     building.Point
		arrived  bool
		vicinity bool
	}{
		{"inside arrival radius", building.Point{FloorLevel: 2}, building.Point{X: 0.03, Y: 0.02, FloorLevel: 2}, true, true},
		{"vicinity only", building.Point{FloorLevel: 2}, building.Point{X: 0.05, FloorLevel: 2}, false, true},
		{"too far", building.Point{FloorLevel: 2}, building.Point{X: 0.3, FloorLevel: 2}, false, false},
		{"other floor", building.Point{FloorLevel: 1}, building.Point{X: 0.01, FloorLevel: 2}, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := Evaluate(tc.user, tc.dest, DefaultRadii())
			if st.Arrived != tc.arrived || st.InVicinity != tc.vicinity {
				t.Fatalf("got=%+v want arrived=%v vicinity=%v", st, tc.arrived, tc.vicinity)
			}
		})
	}
}

func TestDistance(t *testing.T) {
	got := Distance(building.Point{}, building.Point{X: 0.03, Y: 0.02})
	if math.Abs(got-math.Sqrt(0.0013)) > 1e-15 {
		t.Fatalf("distance=%v", got)
	}
}

func TestLeftOrRight(t *testing.T) {
	user := building.Point{X: 1, Y: 0}
	pin := building.Point{X: 0, Y: 0}
	if got := LeftOrRight(0, 0, user, pin); got != Left {
		t.Fatalf("north, user right of pin: got=%v want left", got)
	}
	if got := LeftOrRight(0, 0, pin, user); got != Right {
		t.Fatalf("north, user left of pin: got=%v want right", got)
	}

	cases := []struct {
		heading float64
		user    building.Point
		pin     building.Point
		want    Hint
	}{
		{270, building.Point{Y: 0}, building.Point{Y: 1}, Right},
		{270, building.Point{Y: 1}, building.Point{Y: 0}, Left},
		{90, building.Point{Y: 0}, building.Point{Y: 1}, Left},
		{90, building.Point{Y: 1}, building.Point{Y: 0}, Right},
		{180, building.Point{X: 0}, building.Point{X: 1}, Left},
		{180, building.Point{X: 1}, building.Point{X: 0}, Right},
	}
	for _, tc := range cases {
		o := heading.Orientation(tc.heading, 15)
		if got := LeftOrRight(o, 15, tc.user, tc.pin); got != tc.want {
			t.Fatalf("heading %v: got=%v want %v", tc.heading, got, tc.want)
		}
	}

	if got := LeftOrRight(math.NaN(), 0, user, pin); got != Front {
		t.Fatalf("NaN orientation: got=%v want front", got)
	}
}

func TestSession_FiresOnce(t *testing.T) {
	var s Session
	near := Status{InVicinity: true}
	there := Status{Arrived: true, InVicinity: true}

	if a, v := s.Observe(near); a || !v {
		t.Fatalf("first vicinity: arrived=%v vicinity=%v", a, v)
	}
	if a, v := s.Observe(near); a || v {
		t.Fatalf("repeat vicinity fired: arrived=%v vicinity=%v", a, v)
	}
	if a, v := s.Observe(there); !a || v {
		t.Fatalf("arrival: arrived=%v vicinity=%v", a, v)
	}
	if a, _ := s.Observe(there); a {
		t.Fatalf("arrival fired twice")
	}

	s.Reset()
	if a, v := s.Observe(there); !a || !v {
		t.Fatalf("after reset: arrived=%v vicinity=%v", a, v)
	}
}

func TestNearestPoint(t *testing.T) {
	if _, ok := NearestPoint(building.Point{}, nil); ok {
		t.Fatalf("expected no point for empty candidates")
	}
	got, ok := NearestPoint(building.Point{X: 1, Y: 1}, []building.Point{
		{X: 5, Y: 5, FloorLevel: 2},
		{X: 1.2, Y: 0.9, FloorLevel: 2},
		{X: -1, Y: 0, FloorLevel: 2},
	})
	if !ok || got.X != 1.2 {
		t.Fatalf("nearest=%+v ok=%v", got, ok)
	}
}
