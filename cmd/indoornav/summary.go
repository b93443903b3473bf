package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"indoornav/internal/floor"
	"indoornav/internal/replay"
)

type logSummary struct {
	Segments    int
	Records     int
	MaxDuration time.Duration
	KindCounts  map[replay.Kind]int
	Scans       []string
	AltErrors   int
	// AltitudeSpan is max minus min relative altitude in meters, baro
	// samples included.
	AltitudeSpan float64
}

func summarizeSensorLog(records []replay.Record) logSummary {
	s := logSummary{KindCounts: map[replay.Kind]int{}}
	if len(records) == 0 {
		return s
	}

	origin := time.Duration(0)
	hasRecords := false
	segments := 0
	var altMin, altMax float64
	haveAlt := false

	for _, r := range records {
		if r.Kind == replay.KindStart {
			segments++
			origin = r.At
			continue
		}
		hasRecords = true

		s.Records++
		s.KindCounts[r.Kind]++
		at := r.At - origin
		if at < 0 {
			at = 0
		}
		if at > s.MaxDuration {
			s.MaxDuration = at
		}

		var alt float64
		switch r.Kind {
		case replay.KindScan:
			s.Scans = append(s.Scans, r.Text)
			continue
		case replay.KindAltErr:
			s.AltErrors++
			continue
		case replay.KindAltitude:
			alt = r.Value
		case replay.KindBaro:
			alt = floor.PressureToAltitude(r.Value)
		default:
			continue
		}
		if !haveAlt || alt < altMin {
			altMin = alt
		}
		if !haveAlt || alt > altMax {
			altMax = alt
		}
		haveAlt = true
	}
	if segments == 0 && hasRecords {
		segments = 1
	}
	s.Segments = segments
	if haveAlt {
		s.AltitudeSpan = altMax - altMin
	}
	return s
}

func printLogSummary(w io.Writer, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("path is empty")
	}

	recs, err := replay.ReadFile(path)
	if err != nil {
		return err
	}

	s := summarizeSensorLog(recs)

	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "segments: %d\n", s.Segments)
	fmt.Fprintf(w, "records: %d\n", s.Records)
	fmt.Fprintf(w, "max_duration: %s\n", s.MaxDuration)
	fmt.Fprintf(w, "altitude_span_m: %.2f\n", s.AltitudeSpan)
	fmt.Fprintf(w, "altitude_errors: %d\n", s.AltErrors)

	keys := make([]string, 0, len(s.KindCounts))
	for k := range s.KindCounts {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	fmt.Fprintf(w, "kind_counts:\n")
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %d\n", k, s.KindCounts[replay.Kind(k)])
	}
	if len(s.Scans) > 0 {
		fmt.Fprintf(w, "scans:\n")
		for _, p := range s.Scans {
			fmt.Fprintf(w, "  %s\n", p)
		}
	}
	return nil
}
