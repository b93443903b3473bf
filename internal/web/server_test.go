package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"indoornav/internal/building"
	"indoornav/internal/engine"
	"indoornav/internal/logging"
	"indoornav/internal/markerstore"
	"indoornav/internal/recal"
)

type fixture struct {
	eng *engine.Engine
	ts  *httptest.Server
}

func newFixture(t *testing.T, guide *recal.Guide, tail *logging.Tail) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := markerstore.Open(filepath.Join(t.TempDir(), "nav.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Seed(ctx, markerstore.SeedFile{
		Current:   "MAIN",
		Buildings: []building.Building{{Alias: "MAIN", Name: "Main", Floors: 4, AltitudeDelta: 3}},
		Markers: []building.Marker{
			{URL: "MAIN::3::roomA", BuildingAlias: "MAIN", FloorLevel: 3, X: 0.42, Y: -0.17},
		},
	}))

	eng := engine.New(engine.Config{Logger: logging.Discard(), ResumeAfterRecalibration: true}, store)
	require.NoError(t, eng.Start(ctx))
	t.Cleanup(eng.Close)

	ts := httptest.NewServer(Handler(Options{
		Nav:   eng,
		Logs:  tail,
		Guide: guide,
		Log:   logging.Discard(),
	}))
	t.Cleanup(ts.Close)
	return &fixture{eng: eng, ts: ts}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(bytes.TrimSpace(b)) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(b, &out), string(b))
	}
	return resp.StatusCode, out
}

const sessionBody = `{"start":{"x":0,"y":0,"floor":1},"destination":{"x":1,"y":1,"floor":1,"title":"Lab"}}`

func TestAPIStatus(t *testing.T) {
	f := newFixture(t, nil, nil)

	resp, err := http.Get(f.ts.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var snap StatusSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "indoornav", snap.Service)
	assert.Equal(t, engine.ModeIdle, snap.Engine.Mode)
	assert.NotEmpty(t, snap.Build.GoVersion)
}

func TestRootPage(t *testing.T) {
	f := newFixture(t, nil, nil)

	resp, err := http.Get(f.ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(b), "<title>indoornav</title>")

	resp2, err := http.Get(f.ts.URL + "/api/nope")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestSession_BeginAndEnd(t *testing.T) {
	f := newFixture(t, nil, nil)

	code, out := f.do(t, http.MethodPost, "/api/session", sessionBody)
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, true, out["ok"])
	snap := f.eng.Snapshot()
	assert.NotEmpty(t, snap.SessionID)
	require.NotNil(t, snap.Destination)
	assert.Equal(t, "Lab", snap.Destination.Title)

	code, _ = f.do(t, http.MethodDelete, "/api/session", "")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, f.eng.Snapshot().SessionID)

	code, _ = f.do(t, http.MethodPut, "/api/session", "")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestSession_BadRequests(t *testing.T) {
	f := newFixture(t, nil, nil)

	code, _ := f.do(t, http.MethodPost, "/api/session", "{not json")
	assert.Equal(t, http.StatusBadRequest, code)

	code, out := f.do(t, http.MethodPost, "/api/session", `{"start":{"x":0,"y":0,"floor":1}}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "start and destination are required", out["error"])

	code, _ = f.do(t, http.MethodPost, "/api/session", `{"start":{"x":0,"y":0,"floor":0},"destination":{"x":1,"y":1,"floor":1}}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/api/session", `{"start":{"x":0,"y":0,"floor":1},"destination":{"x":1,"y":1,"floor":1},"extra":1}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSensors_RequireSession(t *testing.T) {
	f := newFixture(t, nil, nil)

	code, _ := f.do(t, http.MethodPost, "/api/sensors/start", "")
	assert.Equal(t, http.StatusConflict, code)

	code, _ = f.do(t, http.MethodGet, "/api/sensors/start", "")
	assert.Equal(t, http.StatusMethodNotAllowed, code)

	code, _ = f.do(t, http.MethodPost, "/api/session", sessionBody)
	require.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodPost, "/api/sensors/start", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, engine.ModeLive, f.eng.Snapshot().Mode)

	code, _ = f.do(t, http.MethodPost, "/api/sensors/stop", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, engine.ModeIdle, f.eng.Snapshot().Mode)
}

func TestRecalibration_Flow(t *testing.T) {
	f := newFixture(t, nil, nil)

	code, _ := f.do(t, http.MethodPost, "/api/session", sessionBody)
	require.Equal(t, http.StatusOK, code)

	// Not capturing yet.
	code, _ = f.do(t, http.MethodPost, "/api/recalibration", `{"payload":"MAIN::3::roomA"}`)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = f.do(t, http.MethodPost, "/api/recalibration/start", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, engine.ModeCapturing, f.eng.Snapshot().Mode)

	code, out := f.do(t, http.MethodPost, "/api/recalibration", `{"payload":"garbage"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "The scanned QR code could not be recognized.", out["message"])
	assert.Equal(t, engine.ModeCapturing, f.eng.Snapshot().Mode)

	code, out = f.do(t, http.MethodPost, "/api/recalibration", `{"payload":"OTHER::3::roomA"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.NotEmpty(t, out["message"])

	code, out = f.do(t, http.MethodPost, "/api/recalibration", `{"payload":"MAIN::3::roomA"}`)
	require.Equal(t, http.StatusOK, code, out)
	res := out["result"].(map[string]any)
	assert.Equal(t, true, res["floor_changed"])

	pos := f.eng.CurrentPosition()
	assert.Equal(t, building.Point{X: 0.42, Y: -0.17, FloorLevel: 3}, pos)
	assert.Equal(t, engine.ModeLive, f.eng.Snapshot().Mode)
}

func TestRecalibration_CancelResumesSensors(t *testing.T) {
	f := newFixture(t, nil, nil)

	code, _ := f.do(t, http.MethodPost, "/api/session", sessionBody)
	require.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodPost, "/api/recalibration/start", "")
	require.Equal(t, http.StatusOK, code)

	code, _ = f.do(t, http.MethodPost, "/api/recalibration/cancel", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, engine.ModeLive, f.eng.Snapshot().Mode)
}

func TestRecalibration_GuideRejectsRegion(t *testing.T) {
	guide := &recal.Guide{Frame: recal.Rect{X: 0, Y: 0, W: 100, H: 100}, MinWidth: 20, MinHeight: 20}
	f := newFixture(t, guide, nil)

	code, _ := f.do(t, http.MethodPost, "/api/session", sessionBody)
	require.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodPost, "/api/recalibration/start", "")
	require.Equal(t, http.StatusOK, code)

	code, out := f.do(t, http.MethodPost, "/api/recalibration", `{"payload":"MAIN::3::roomA","region":{"x":90,"y":90,"w":30,"h":30}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "marker is outside the capture guide", out["error"])
	assert.Equal(t, engine.ModeCapturing, f.eng.Snapshot().Mode)

	code, _ = f.do(t, http.MethodPost, "/api/recalibration", `{"payload":"MAIN::3::roomA","region":{"x":10,"y":10,"w":30,"h":30}}`)
	assert.Equal(t, http.StatusOK, code)
}

func TestLogs(t *testing.T) {
	tail := logging.NewTail(10)
	_, _ = tail.Write([]byte("one\ntwo\nthree\n"))
	f := newFixture(t, nil, tail)

	code, out := f.do(t, http.MethodGet, "/api/logs?tail=2", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"two", "three"}, out["lines"])

	resp, err := http.Get(f.ts.URL + "/api/logs?format=text&tail=1")
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "three\n", string(b))

	resp, err = http.Get(f.ts.URL + "/api/logs?tail=0")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func dial(t *testing.T, f *fixture, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.ts.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	return conn
}

func TestEventsSocket_SnapshotThenEvents(t *testing.T) {
	f := newFixture(t, nil, nil)
	conn := dial(t, f, "/ws/events")

	var first streamMessage
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "snapshot", first.Type)
	require.NotNil(t, first.Snapshot)

	code, _ := f.do(t, http.MethodPost, "/api/session", sessionBody)
	require.Equal(t, http.StatusOK, code)

	for {
		var msg streamMessage
		require.NoError(t, conn.ReadJSON(&msg))
		require.Equal(t, "event", msg.Type)
		require.NotNil(t, msg.Event)
		if msg.Event.Kind == engine.EventSessionStarted {
			assert.NotEmpty(t, msg.Event.SessionID)
			return
		}
	}
}

func TestSensorsSocket_PushesSamples(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	require.NoError(t, f.eng.BeginSession(ctx, building.Point{FloorLevel: 1}, engine.Destination{X: 1, Y: 1, FloorLevel: 1}))
	require.NoError(t, f.eng.StartSensors(ctx))

	conn := dial(t, f, "/ws/sensors")
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "heading", "deg": 90}))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "motion", "accel": map[string]float64{"x": 0, "y": 0, "z": 0}}))
	// Samples are handled in order, so the ack for a bad message means the
	// earlier ones were pushed.
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "teleport"}))

	var ack sensorAck
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, `unknown sample type "teleport"`, ack.Error)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "motion", "accel": map[string]float64{"x": 0}, "attitude": []float64{1, 2}}))
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "attitude must have 9 values, got 2", ack.Error)

	// A no-op control call drains the inbox.
	require.NoError(t, f.eng.StartSensors(ctx))
	snap := f.eng.Snapshot()
	assert.Equal(t, uint64(1), snap.Sensors.Heading.Samples)
	assert.Equal(t, uint64(1), snap.Sensors.Motion.Samples)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{recal.ErrMalformedPayload, http.StatusUnprocessableEntity},
		{recal.ErrBuildingMismatch, http.StatusUnprocessableEntity},
		{engine.ErrInvalidSessionState, http.StatusConflict},
		{engine.ErrNoSession, http.StatusConflict},
		{engine.ErrInvalidArgument, http.StatusBadRequest},
		{engine.ErrClosed, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{io.EOF, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}
