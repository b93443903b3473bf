package recal

// Rect is an axis-aligned region in decoder preview coordinates.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

func (r Rect) Contains(o Rect) bool {
	return o.W >= 0 && o.H >= 0 &&
		o.X >= r.X && o.Y >= r.Y &&
		o.X+o.W <= r.X+r.W && o.Y+o.H <= r.Y+r.H
}

// Guide is the on-screen capture frame. A candidate code is accepted only if
// it lies fully inside Frame and is at least MinWidth x MinHeight.
type Guide struct {
	Frame     Rect    `json:"frame"`
	MinWidth  float64 `json:"min_width"`
	MinHeight float64 `json:"min_height"`
}

func (g Guide) Accepts(region Rect) bool {
	return g.Frame.Contains(region) && region.W >= g.MinWidth && region.H >= g.MinHeight
}
