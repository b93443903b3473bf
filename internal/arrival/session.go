package arrival

// Session remembers which arrival notices were already reported so each fires
// at most once. Reset it on destination change, floor change and
// recalibration.
type Session struct {
	arrivedShown  bool
	vicinityShown bool
}

// Observe returns which notices should fire for st and marks them shown.
func (s *Session) Observe(st Status) (arrived, vicinity bool) {
	if st.Arrived && !s.arrivedShown {
		s.arrivedShown = true
		arrived = true
	}
	if st.InVicinity && !s.vicinityShown {
		s.vicinityShown = true
		vicinity = true
	}
	return arrived, vicinity
}

func (s *Session) Reset() {
	*s = Session{}
}
