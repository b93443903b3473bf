// Package udp streams engine snapshots to a renderer as JSON datagrams.
package udp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"indoornav/internal/engine"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)

type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

type Sender struct {
	dest string
	conn udpConn
}

func NewSender(dest string) (*Sender, error) {
	return newSender(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	})
}

func newSender(dest string, resolve resolveFunc, dial dialFunc) (*Sender, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}

	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}
	return &Sender{dest: dest, conn: conn}, nil
}

func (s *Sender) Dest() string { return s.dest }

func (s *Sender) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	_, err := s.conn.Write(payload)
	return err
}

// SendSnapshot writes snap as one JSON datagram.
func (s *Sender) SendSnapshot(snap engine.Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	return s.Send(b)
}

func (s *Sender) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Stream sends a snapshot every interval until ctx is done. Snapshots whose
// UpdatedAt has not moved since the last send are skipped. Send errors are
// logged at most once per second and do not stop the stream.
func (s *Sender) Stream(ctx context.Context, interval time.Duration, snapshot func() engine.Snapshot, log *slog.Logger) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if log == nil {
		log = slog.Default()
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	var last time.Time
	var lastWarn time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		snap := snapshot()
		if !snap.UpdatedAt.After(last) {
			continue
		}
		if err := s.SendSnapshot(snap); err != nil {
			if now := time.Now(); now.Sub(lastWarn) >= time.Second {
				lastWarn = now
				log.Warn("udp send failed", "dest", s.dest, "err", err)
			}
			continue
		}
		last = snap.UpdatedAt
	}
}
