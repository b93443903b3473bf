package logging

import (
	"bytes"
	"strings"
	"sync"
)

// Tail keeps the most recent log lines in memory.
type Tail struct {
	mu      sync.Mutex
	max     int
	lines   []string
	partial []byte
	dropped uint64
}

func NewTail(maxLines int) *Tail {
	if maxLines <= 0 {
		maxLines = 2000
	}
	return &Tail{max: maxLines}
}

// Write implements io.Writer. Bytes after the last newline are held until
// the line is completed by a later write.
func (t *Tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	data := append(t.partial, p...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		t.appendLocked(string(data[:i]))
		data = data[i+1:]
	}
	t.partial = append([]byte(nil), data...)
	return len(p), nil
}

func (t *Tail) appendLocked(line string) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return
	}
	t.lines = append(t.lines, line)
	if over := len(t.lines) - t.max; over > 0 {
		t.lines = t.lines[over:]
		t.dropped += uint64(over)
	}
}

// Snapshot returns up to the last n complete lines and the count of lines
// evicted so far. n <= 0 means 200.
func (t *Tail) Snapshot(n int) (lines []string, dropped uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n <= 0 {
		n = 200
	}
	if n > len(t.lines) {
		n = len(t.lines)
	}
	lines = append([]string(nil), t.lines[len(t.lines)-n:]...)
	return lines, t.dropped
}
