package replay

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Log format: line-oriented text.
//
// - Blank lines ignored.
// - Lines starting with '#' ignored.
// - Line "START" resets the origin (next record time is relative to 0 again).
// - Data lines are: <t_ns>,<kind>,<fields...>
//
//	<t_ns>,heading,<deg>
//	<t_ns>,alt,<relative_m>
//	<t_ns>,alt_err,<message>
//	<t_ns>,baro,<pa>
//	<t_ns>,motion,<ax>,<ay>,<az>[,<m11>,...,<m33>]
//	<t_ns>,scan,<payload>
//
// t_ns is nanoseconds since START. Text fields run to end of line and may
// contain commas.

type Kind string

const (
	KindStart    Kind = "START"
	KindHeading  Kind = "heading"
	KindAltitude Kind = "alt"
	KindAltErr   Kind = "alt_err"
	KindBaro     Kind = "baro"
	KindMotion   Kind = "motion"
	KindScan     Kind = "scan"
)

type Record struct {
	At   time.Duration
	Kind Kind

	// Value is degrees for heading, meters for alt, pascals for baro.
	Value float64
	Accel [3]float64
	// Attitude is a row-major rotation matrix; nil means identity.
	Attitude []float64
	// Text carries the alt_err message or the scan payload.
	Text string
}

func Start(at time.Duration) Record { return Record{At: at, Kind: KindStart} }

func Heading(at time.Duration, deg float64) Record {
	return Record{At: at, Kind: KindHeading, Value: deg}
}

func Altitude(at time.Duration, m float64) Record {
	return Record{At: at, Kind: KindAltitude, Value: m}
}

func AltitudeError(at time.Duration, msg string) Record {
	return Record{At: at, Kind: KindAltErr, Text: msg}
}

func Pressure(at time.Duration, pa float64) Record {
	return Record{At: at, Kind: KindBaro, Value: pa}
}

func Motion(at time.Duration, accel [3]float64, attitude []float64) Record {
	return Record{At: at, Kind: KindMotion, Accel: accel, Attitude: attitude}
}

func Scan(at time.Duration, payload string) Record {
	return Record{At: at, Kind: KindScan, Text: payload}
}

type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (rr *Reader) ReadAll() ([]Record, error) {
	s := bufio.NewScanner(rr.r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	recs := make([]Record, 0, 1024)
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == string(KindStart) {
			recs = append(recs, Start(0))
			continue
		}
		rec, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		recs = append(recs, rec)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// ReadFile reads a whole sensor log from disk.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewReader(f).ReadAll()
}

func parseLine(line string) (Record, error) {
	parts := strings.SplitN(line, ",", 3)
	if len(parts) < 3 {
		return Record{}, fmt.Errorf("invalid replay line (want <t_ns>,<kind>,<fields>): %q", line)
	}
	tsStr := strings.TrimSpace(parts[0])
	tsNs, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid replay timestamp %q: %w", tsStr, err)
	}
	if tsNs < 0 {
		return Record{}, fmt.Errorf("invalid replay timestamp (negative): %d", tsNs)
	}
	at := time.Duration(tsNs)
	kind := Kind(strings.TrimSpace(parts[1]))
	rest := strings.TrimSpace(parts[2])
	if rest == "" {
		return Record{}, fmt.Errorf("invalid replay line (empty field): %q", line)
	}

	switch kind {
	case KindHeading, KindAltitude, KindBaro:
		v, err := strconv.ParseFloat(rest, 64)
		if err != nil {
			return Record{}, fmt.Errorf("invalid %s value %q: %w", kind, rest, err)
		}
		return Record{At: at, Kind: kind, Value: v}, nil
	case KindAltErr, KindScan:
		return Record{At: at, Kind: kind, Text: rest}, nil
	case KindMotion:
		fields := strings.Split(rest, ",")
		if len(fields) != 3 && len(fields) != 12 {
			return Record{}, fmt.Errorf("invalid motion line (want 3 or 12 values, got %d): %q", len(fields), line)
		}
		vals := make([]float64, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				return Record{}, fmt.Errorf("invalid motion value %q: %w", f, err)
			}
			vals[i] = v
		}
		rec := Record{At: at, Kind: KindMotion, Accel: [3]float64{vals[0], vals[1], vals[2]}}
		if len(vals) == 12 {
			rec.Attitude = vals[3:]
		}
		return rec, nil
	default:
		return Record{}, fmt.Errorf("unknown replay record kind %q", kind)
	}
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// Format renders r as a log line without the trailing newline. START
// markers render as "START".
func Format(r Record) (string, error) {
	ts := r.At.Nanoseconds()
	if ts < 0 {
		ts = 0
	}
	switch r.Kind {
	case KindStart:
		return string(KindStart), nil
	case KindHeading, KindAltitude, KindBaro:
		return fmt.Sprintf("%d,%s,%s", ts, r.Kind, formatFloat(r.Value)), nil
	case KindAltErr, KindScan:
		text := strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(r.Text))
		if text == "" {
			return "", fmt.Errorf("%s record has empty text", r.Kind)
		}
		return fmt.Sprintf("%d,%s,%s", ts, r.Kind, text), nil
	case KindMotion:
		var b strings.Builder
		fmt.Fprintf(&b, "%d,%s", ts, r.Kind)
		for _, v := range r.Accel {
			b.WriteByte(',')
			b.WriteString(formatFloat(v))
		}
		if r.Attitude != nil {
			if len(r.Attitude) != 9 {
				return "", fmt.Errorf("motion attitude must have 9 values, got %d", len(r.Attitude))
			}
			for _, v := range r.Attitude {
				b.WriteByte(',')
				b.WriteString(formatFloat(v))
			}
		}
		return b.String(), nil
	default:
		return "", fmt.Errorf("unknown replay record kind %q", r.Kind)
	}
}

// Writer records live sensor input. It is safe for concurrent use since
// samples arrive from several sources (web ingest, feeds).
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	start  time.Time
	closed bool
}

func CreateWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	if _, err := bw.WriteString("START\n"); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, w: bw, start: time.Now()}, nil
}

// Write appends r stamped with now relative to the writer's start. r.At is
// ignored.
func (ww *Writer) Write(now time.Time, r Record) error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return errors.New("replay writer is closed")
	}
	if r.Kind == KindStart {
		return errors.New("cannot write START marker")
	}

	// Use monotonic component of time when available.
	d := now.Sub(ww.start)
	if d < 0 {
		d = 0
	}
	r.At = d
	line, err := Format(r)
	if err != nil {
		return err
	}
	if _, err := ww.w.WriteString(line + "\n"); err != nil {
		return err
	}
	return nil
}

func (ww *Writer) Flush() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	ww.closed = true
	if err := ww.w.Flush(); err != nil {
		_ = ww.f.Close()
		return err
	}
	return ww.f.Close()
}

// WriteAll renders records, START markers included, to w.
func WriteAll(w io.Writer, records []Record) error {
	bw := bufio.NewWriter(w)
	for _, r := range records {
		line, err := Format(r)
		if err != nil {
			return err
		}
		if _, err := bw.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

type Sleeper interface {
	Sleep(d time.Duration)
}

type realSleeper struct{}

func (realSleeper) Sleep(d time.Duration) { time.Sleep(d) }

// Play replays records with their relative timing.
//
// The callback is invoked for each data record; START markers reset the
// origin. A callback error stops playback and is returned.
//
// speedMultiplier: 1.0 = real time, 2.0 = 2x speed (half waits), 0.5 = half speed.
func Play(records []Record, speedMultiplier float64, loop bool, sleeper Sleeper, cb func(Record) error) error {
	if speedMultiplier <= 0 {
		return fmt.Errorf("speedMultiplier must be > 0")
	}
	if sleeper == nil {
		sleeper = realSleeper{}
	}
	if cb == nil {
		return errors.New("callback is nil")
	}
	if len(records) == 0 {
		return errors.New("no records")
	}

	for {
		var origin time.Duration
		var lastAt time.Duration
		var haveLast bool

		for _, r := range records {
			if r.Kind == KindStart {
				origin = r.At
				lastAt = 0
				haveLast = false
				continue
			}

			at := r.At - origin
			if at < 0 {
				at = 0
			}
			if haveLast {
				wait := at - lastAt
				if wait < 0 {
					wait = 0
				}
				wait = time.Duration(float64(wait) / speedMultiplier)
				if wait > 0 {
					sleeper.Sleep(wait)
				}
			}

			if err := cb(r); err != nil {
				return err
			}

			lastAt = at
			haveLast = true
		}

		if !loop {
			return nil
		}
	}
}
