package web

import (
	"runtime"
	"runtime/debug"
	"sync/atomic"
	"time"

	"indoornav/internal/engine"
	"indoornav/internal/ingest"
)

// Status carries process-level facts shown next to the engine snapshot.
type Status struct {
	startUnixNano int64
	feed          atomic.Value // string
	udpDest       atomic.Value // string
	link          atomic.Pointer[func() ingest.ClientSnapshot]
	build         BuildInfo
}

type BuildInfo struct {
	GoVersion  string `json:"go_version"`
	ModulePath string `json:"module_path,omitempty"`
	Version    string `json:"version,omitempty"`
	Commit     string `json:"commit,omitempty"`
	Dirty      bool   `json:"dirty,omitempty"`
	BuildTime  string `json:"build_time,omitempty"`
}

type StatusSnapshot struct {
	Service   string                 `json:"service"`
	NowUTC    string                 `json:"now_utc"`
	UptimeSec int64                  `json:"uptime_sec"`
	Feed      string                 `json:"feed,omitempty"`
	UDPDest   string                 `json:"udp_dest,omitempty"`
	Link      *ingest.ClientSnapshot `json:"link,omitempty"`
	Build     BuildInfo              `json:"build"`
	Engine    engine.Snapshot        `json:"engine"`
}

func NewStatus() *Status {
	s := &Status{build: readBuildInfo()}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.feed.Store("")
	s.udpDest.Store("")
	return s
}

// SetStatic records the input feed ("live", "replay", "sim", "tcp") and the UDP
// renderer destination.
func (s *Status) SetStatic(feed, udpDest string) {
	if feed != "" {
		s.feed.Store(feed)
	}
	if udpDest != "" {
		s.udpDest.Store(udpDest)
	}
}

// SetLink reports the TCP sensor link alongside the status.
func (s *Status) SetLink(fn func() ingest.ClientSnapshot) {
	s.link.Store(&fn)
}

func (s *Status) Snapshot(nowUTC time.Time, snap engine.Snapshot) StatusSnapshot {
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()
	var link *ingest.ClientSnapshot
	if fn := s.link.Load(); fn != nil && *fn != nil {
		ls := (*fn)()
		link = &ls
	}
	return StatusSnapshot{
		Service:   "indoornav",
		NowUTC:    nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec: int64(nowUTC.Sub(start).Seconds()),
		Feed:      s.feed.Load().(string),
		UDPDest:   s.udpDest.Load().(string),
		Link:      link,
		Build:     s.build,
		Engine:    snap,
	}
}

func readBuildInfo() BuildInfo {
	out := BuildInfo{GoVersion: runtime.Version()}
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi == nil {
		return out
	}
	out.ModulePath = bi.Main.Path
	out.Version = bi.Main.Version
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			out.Commit = s.Value
		case "vcs.modified":
			out.Dirty = s.Value == "true"
		case "vcs.time":
			out.BuildTime = s.Value
		}
	}
	return out
}
