package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"indoornav/internal/engine"
	"indoornav/internal/ingest"
)

const (
	socketBufferSize  = 1024
	eventBufferSize   = 64
	writeWait         = 5 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = 45 * time.Second
	maxSensorMsgBytes = 4096
)

var upgrader = &websocket.Upgrader{ReadBufferSize: socketBufferSize, WriteBufferSize: socketBufferSize}

// streamMessage is one frame on /ws/events. The first frame is always a
// snapshot.
type streamMessage struct {
	Type     string           `json:"type"`
	Snapshot *engine.Snapshot `json:"snapshot,omitempty"`
	Event    *engine.Event    `json:"event,omitempty"`
}

type eventsSocket struct {
	nav Navigator
	log *slog.Logger
}

func (s *eventsSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		s.log.Debug("events upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	id, events := s.nav.Subscribe(eventBufferSize)
	defer s.nav.Unsubscribe(id)
	s.log.Debug("events client joined", "remote", r.RemoteAddr)

	// Reader only watches for close and pongs.
	gone := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongWait)) })
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	snap := s.nav.Snapshot()
	if err := writeFrame(conn, streamMessage{Type: "snapshot", Snapshot: &snap}); err != nil {
		return
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			s.log.Debug("events client left", "remote", r.RemoteAddr)
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "engine stopped"),
					time.Now().Add(writeWait))
				return
			}
			if err := writeFrame(conn, streamMessage{Type: "event", Event: &ev}); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

type sensorAck struct {
	Error   string `json:"error,omitempty"`
	Dropped bool   `json:"dropped,omitempty"`
}

// sensorsSocket accepts ingest.Sample frames and forwards them to the engine.
type sensorsSocket struct {
	nav Navigator
	log *slog.Logger
}

func (s *sensorsSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("sensors upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxSensorMsgBytes)
	s.log.Info("sensor client connected", "remote", r.RemoteAddr)

	var n, dropped uint64
	defer func() {
		s.log.Info("sensor client disconnected", "remote", r.RemoteAddr, "samples", n, "dropped", dropped)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		m, err := ingest.Decode(data)
		if err != nil {
			if werr := writeFrame(conn, sensorAck{Error: "invalid json"}); werr != nil {
				return
			}
			continue
		}
		ok, err := ingest.Apply(s.nav, m)
		if err != nil {
			if werr := writeFrame(conn, sensorAck{Error: err.Error()}); werr != nil {
				return
			}
			continue
		}
		n++
		if !ok {
			dropped++
			if werr := writeFrame(conn, sensorAck{Dropped: true}); werr != nil {
				return
			}
		}
	}
}
