package replay

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type fakeSleeper struct {
	slept []time.Duration
}

func (fs *fakeSleeper) Sleep(d time.Duration) {
	fs.slept = append(fs.slept, d)
}

func TestReaderReadAll(t *testing.T) {
	in := strings.NewReader(`
# comment

START
0,heading,90
10,alt,1.5
20,motion,0.1,0,-0.2
30,scan,MAIN::3::room, with comma
40,alt_err,sensor offline
50,baro,101325
`)

	recs, err := NewReader(in).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	want := []Record{
		Start(0),
		Heading(0, 90),
		Altitude(10, 1.5),
		Motion(20, [3]float64{0.1, 0, -0.2}, nil),
		Scan(30, "MAIN::3::room, with comma"),
		AltitudeError(40, "sensor offline"),
		Pressure(50, 101325),
	}
	if diff := cmp.Diff(want, recs); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestReaderReadAll_MotionWithAttitude(t *testing.T) {
	in := strings.NewReader("5,motion,1,2,3,1,0,0,0,1,0,0,0,1\n")
	recs, err := NewReader(in).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if len(recs) != 1 || len(recs[0].Attitude) != 9 {
		t.Fatalf("recs=%+v", recs)
	}
	if !reflect.DeepEqual(recs[0].Attitude, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}) {
		t.Fatalf("attitude=%v", recs[0].Attitude)
	}
}

func TestReaderReadAll_InvalidLines(t *testing.T) {
	cases := []string{
		"not-a-valid-line\n",
		"x,heading,1\n",
		"-5,heading,1\n",
		"0,heading,abc\n",
		"0,motion,1,2\n",
		"0,teleport,1\n",
		"0,scan,\n",
	}
	for _, in := range cases {
		if _, err := NewReader(strings.NewReader(in)).ReadAll(); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestPlay_RespectsTimingAndStart(t *testing.T) {
	fs := &fakeSleeper{}
	var got []float64

	recs := []Record{
		Start(1 * time.Second),
		Heading(1*time.Second, 1),
		Heading(1*time.Second+100*time.Nanosecond, 2),
		Start(2 * time.Second),
		Heading(2*time.Second+50*time.Nanosecond, 3),
	}

	err := Play(recs, 1.0, false, fs, func(r Record) error {
		got = append(got, r.Value)
		return nil
	})
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if !reflect.DeepEqual(got, []float64{1, 2, 3}) {
		t.Fatalf("values=%v", got)
	}
	if !reflect.DeepEqual(fs.slept, []time.Duration{100 * time.Nanosecond}) {
		t.Fatalf("slept = %v, want [100ns]", fs.slept)
	}
}

func TestPlay_SpeedMultiplier(t *testing.T) {
	fs := &fakeSleeper{}
	recs := []Record{
		Heading(0, 1),
		Heading(100*time.Nanosecond, 2),
	}

	err := Play(recs, 2.0, false, fs, func(Record) error { return nil })
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if !reflect.DeepEqual(fs.slept, []time.Duration{50 * time.Nanosecond}) {
		t.Fatalf("slept = %v, want [50ns]", fs.slept)
	}
}

func TestPlay_CallbackErrorStopsLoop(t *testing.T) {
	recs := []Record{Heading(0, 1)}
	n := 0
	stop := os.ErrClosed
	err := Play(recs, 1, true, &fakeSleeper{}, func(Record) error {
		n++
		if n == 3 {
			return stop
		}
		return nil
	})
	if err != stop || n != 3 {
		t.Fatalf("err=%v n=%d", err, n)
	}
}

func TestPlay_InvalidArgs(t *testing.T) {
	recs := []Record{Heading(0, 1)}
	if err := Play(recs, 0, false, nil, func(Record) error { return nil }); err == nil {
		t.Fatalf("expected error for zero speed")
	}
	if err := Play(nil, 1, false, nil, func(Record) error { return nil }); err == nil {
		t.Fatalf("expected error for no records")
	}
	if err := Play(recs, 1, false, nil, nil); err == nil {
		t.Fatalf("expected error for nil callback")
	}
}

func TestWriter_WritesExpectedFormat(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "out.log")

	w, err := CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}
	w.start = time.Unix(0, 0)

	if err := w.Write(time.Unix(0, 20), Heading(0, 12.5)); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if err := w.Write(time.Unix(0, 30), Scan(0, "MAIN::1::a\nb")); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if err := w.Write(time.Unix(0, 40), Start(0)); err == nil {
		t.Fatalf("expected error writing START")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := w.Write(time.Unix(0, 50), Heading(0, 1)); err == nil {
		t.Fatalf("expected error after close")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if string(b) != "START\n20,heading,12.5\n30,scan,MAIN::1::a b\n" {
		t.Fatalf("unexpected file contents: %q", string(b))
	}
}

func TestWriteAll_RoundTrip(t *testing.T) {
	in := []Record{
		Start(0),
		Heading(0, 270),
		Motion(16_666_667, [3]float64{0.3, 0, 0.1}, []float64{0, -1, 0, 1, 0, 0, 0, 0, 1}),
		Altitude(33_333_333, -3.25),
		Scan(50_000_000, "MAIN::2::lobby"),
	}
	var buf bytes.Buffer
	if err := WriteAll(&buf, in); err != nil {
		t.Fatalf("WriteAll() error: %v", err)
	}
	out, err := NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}
