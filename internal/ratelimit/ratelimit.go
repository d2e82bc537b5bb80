// Package ratelimit throttles failed authentication attempts against the
// update routes. Counters are persisted so a reboot does not hand an
// attacker a fresh window.
package ratelimit

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"trapmon/device/otad/internal/fsatomic"
)

type bucket struct {
	Failures    int       `json:"failures"`
	WindowStart time.Time `json:"window_start"`
}

type state struct {
	Version int               `json:"version"`
	Clients map[string]bucket `json:"clients"`
}

// Limiter applies a fixed window of allowed auth failures per client key
// (normally the remote IP).
type Limiter struct {
	path   string
	limit  int
	window time.Duration

	mu sync.Mutex
	st state
}

func New(path string, limit int, window time.Duration) *Limiter {
	l := &Limiter{path: path, limit: limit, window: window, st: state{Version: 1, Clients: map[string]bucket{}}}
	var st state
	if ok, err := fsatomic.LoadJSON(path, &st); err == nil && ok && st.Clients != nil {
		l.st = st
	}
	return l
}

// Blocked reports whether the client has exhausted its failure budget, and
// when the window resets.
func (l *Limiter) Blocked(key string) (bool, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.st.Clients[key]
	if !ok || time.Since(b.WindowStart) >= l.window {
		return false, time.Time{}
	}
	return b.Failures >= l.limit, b.WindowStart.Add(l.window)
}

// RecordFailure counts one failed attempt against the client.
func (l *Limiter) RecordFailure(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now().UTC()
	b := l.st.Clients[key]
	if b.WindowStart.IsZero() || now.Sub(b.WindowStart) >= l.window {
		b = bucket{WindowStart: now}
	}
	b.Failures++
	l.st.Clients[key] = b
	l.persistLocked()
}

// RecordSuccess clears the client's failure count.
func (l *Limiter) RecordSuccess(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.st.Clients[key]; !ok {
		return
	}
	delete(l.st.Clients, key)
	l.persistLocked()
}

func (l *Limiter) persistLocked() {
	if l.path == "" {
		return
	}
	_ = os.MkdirAll(filepath.Dir(l.path), 0o755)
	st := l.st
	_ = fsatomic.WithLock(l.path, func() error {
		return fsatomic.SaveJSON(l.path, st, fs.FileMode(0o600))
	})
}
