package ingest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// LinkState is the connection state of a Client.
type LinkState string

const (
	LinkStopped   LinkState = "stopped"
	LinkDialing   LinkState = "dialing"
	LinkConnected LinkState = "connected"
	// LinkBackoff means the last dial or session failed and the client is
	// waiting before the next attempt.
	LinkBackoff LinkState = "backoff"
)

type ClientConfig struct {
	Addr string

	// ReconnectDelay is the first wait after a failure. Consecutive dial
	// failures double it up to MaxReconnectDelay.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	MaxLineBytes      int
	DialTimeout       time.Duration
}

// Client dials a sensor bridge and reads newline-delimited JSON samples
// into a Sink, reconnecting until closed.
type Client struct {
	cfg ClientConfig

	mu    sync.RWMutex
	stats linkStats

	life    sync.Mutex
	running bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// linkStats is everything Snapshot reports, guarded by Client.mu.
type linkStats struct {
	state    LinkState
	lastErr  string
	lastSeen time.Time
	samples  uint64
	dropped  uint64
	rejected uint64
}

type ClientSnapshot struct {
	Addr        string `json:"addr"`
	State       string `json:"state"`
	LastError   string `json:"last_error,omitempty"`
	LastSeenUTC string `json:"last_seen_utc,omitempty"`
	Samples     uint64 `json:"samples"`
	Dropped     uint64 `json:"dropped"`
	Rejected    uint64 `json:"rejected"`
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("ingest: client addr is required")
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = 30 * time.Second
		if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
			cfg.MaxReconnectDelay = cfg.ReconnectDelay
		}
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = 4096
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	return &Client{cfg: cfg, stats: linkStats{state: LinkStopped}}, nil
}

// Start launches the reader in the background. It runs until ctx ends or
// Close is called; a Client cannot be restarted.
func (c *Client) Start(ctx context.Context, sink Sink) error {
	if sink == nil {
		return errors.New("ingest: sink is nil")
	}
	c.life.Lock()
	defer c.life.Unlock()
	switch {
	case c.closed:
		return errors.New("ingest: client is closed")
	case c.running:
		return errors.New("ingest: client already started")
	}
	c.running = true

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(runCtx, sink)
		c.transition(LinkStopped, nil)
	}()
	return nil
}

// Close stops the reader and waits for it. It is safe to call more than once.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.life.Lock()
	if c.closed {
		c.life.Unlock()
		return
	}
	c.closed = true
	cancel := c.cancel
	c.life.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

func (c *Client) Snapshot() ClientSnapshot {
	if c == nil {
		return ClientSnapshot{}
	}
	c.mu.RLock()
	st := c.stats
	c.mu.RUnlock()

	out := ClientSnapshot{
		Addr:      c.cfg.Addr,
		State:     string(st.state),
		LastError: st.lastErr,
		Samples:   st.samples,
		Dropped:   st.dropped,
		Rejected:  st.rejected,
	}
	if !st.lastSeen.IsZero() {
		out.LastSeenUTC = st.lastSeen.UTC().Format(time.RFC3339Nano)
	}
	return out
}

func (c *Client) run(ctx context.Context, sink Sink) {
	delay := c.cfg.ReconnectDelay
	for ctx.Err() == nil {
		if c.session(ctx, sink) {
			// A session that connected resets the backoff.
			delay = c.cfg.ReconnectDelay
		} else {
			delay = min(delay*2, c.cfg.MaxReconnectDelay)
		}
		if ctx.Err() != nil {
			return
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// session dials once and reads until the connection ends. It reports
// whether the dial succeeded.
func (c *Client) session(ctx context.Context, sink Sink) bool {
	c.transition(LinkDialing, nil)
	d := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		c.transition(LinkBackoff, err)
		return false
	}
	defer conn.Close()
	c.transition(LinkConnected, nil)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 512), c.cfg.MaxLineBytes)
	for sc.Scan() {
		c.consume(sink, bytes.TrimSpace(sc.Bytes()))
	}

	err = sc.Err()
	switch {
	case ctx.Err() != nil, err == nil, errors.Is(err, net.ErrClosed):
		c.transition(LinkBackoff, nil)
	case errors.Is(err, bufio.ErrTooLong):
		c.count(func(st *linkStats) { st.rejected++ })
		c.transition(LinkBackoff, fmt.Errorf("sample line longer than %d bytes", c.cfg.MaxLineBytes))
	default:
		c.transition(LinkBackoff, err)
	}
	return true
}

func (c *Client) consume(sink Sink, line []byte) {
	if len(line) == 0 {
		return
	}
	s, err := Decode(line)
	if err == nil {
		var ok bool
		if ok, err = Apply(sink, s); err == nil {
			now := time.Now()
			c.count(func(st *linkStats) {
				st.samples++
				st.lastSeen = now
				if !ok {
					st.dropped++
				}
			})
			return
		}
	}
	c.count(func(st *linkStats) {
		st.rejected++
		st.lastErr = err.Error()
	})
}

func (c *Client) count(f func(*linkStats)) {
	c.mu.Lock()
	f(&c.stats)
	c.mu.Unlock()
}

// transition records a state change. A nil err keeps the last error except
// when the link comes up or stops, which clears it.
func (c *Client) transition(to LinkState, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.state = to
	switch {
	case err != nil:
		c.stats.lastErr = err.Error()
	case to == LinkConnected, to == LinkStopped:
		c.stats.lastErr = ""
	}
}
