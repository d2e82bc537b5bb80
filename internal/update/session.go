// Package update implements the firmware upload session: the state machine
// owning one in-flight write transaction against the flash slot store.
package update

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"trapmon/device/otad/internal/flash"
)

// State of the process-wide update session.
type State string

const (
	StateIdle       State = "idle"
	StateReceiving  State = "receiving"
	StateFinalizing State = "finalizing"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
	StateAborted    State = "aborted"
)

var (
	// ErrBusy is returned by Begin while another upload holds the session.
	ErrBusy = errors.New("an update is already in progress")

	// ErrWatchdog marks attempts aborted because no chunk arrived in time.
	ErrWatchdog = errors.New("upload stalled, watchdog abort")

	// ErrStale is returned to a caller whose attempt is no longer the one
	// the session is running, e.g. after a watchdog abort let a new upload
	// begin. The stale caller must not touch the flash region again.
	ErrStale = errors.New("upload superseded")
)

// Policy tunes the per-chunk write behaviour.
type Policy struct {
	// StrictWrites turns a short flash write into an immediate abort instead
	// of the default log-and-continue.
	StrictWrites bool

	// WatchdogTimeout aborts a receiving session when no chunk arrives for
	// this long, so a stalled client cannot hold the flash region. Zero
	// disables the watchdog.
	WatchdogTimeout time.Duration
}

// Attempt is the record of one terminal session, handed to the recorder when
// the session resets.
type Attempt struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Bytes      int64
	State      State
	Version    string
	Mismatches int
	Error      string
}

// Session is the process-wide singleton guarding the flash write region.
// Exactly one upload may be between Begin and Reset at any time; concurrent
// Begin calls get ErrBusy.
type Session struct {
	logger   zerolog.Logger
	writer   flash.Writer
	policy   Policy
	recorder func(Attempt)

	mu           sync.Mutex
	state        State
	attemptID    string
	startedAt    time.Time
	bytesWritten int64
	expectedSize int64
	version      string
	mismatches   int
	lastErr      error
	watchdog     *time.Timer
}

func NewSession(writer flash.Writer, policy Policy, logger zerolog.Logger) *Session {
	return &Session{
		logger: logger.With().Str("component", "session").Logger(),
		writer: writer,
		policy: policy,
		state:  StateIdle,
	}
}

// SetRecorder registers a callback invoked with the finished Attempt each
// time a terminal session resets to idle. Must be called before serving.
func (s *Session) SetRecorder(fn func(Attempt)) { s.recorder = fn }

// Begin claims the session and opens the flash writer for a fresh image.
// The returned token identifies the attempt; every later call against the
// session must present it, so a caller reaped by the watchdog cannot write
// into a successor's image. A failed writer open moves the session straight
// to failed, still returning the token so the caller can Reset after
// responding.
func (s *Session) Begin(meta flash.ImageMeta) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return "", ErrBusy
	}
	s.attemptID = uuid.NewString()
	s.startedAt = time.Now().UTC()
	s.bytesWritten = 0
	s.expectedSize = meta.Size
	s.version = meta.Version
	s.mismatches = 0
	s.lastErr = nil
	if err := s.writer.Begin(meta); err != nil {
		s.state = StateFailed
		s.lastErr = err
		s.logger.Error().Err(err).Str("attempt", s.attemptID).Msg("flash open failed")
		return s.attemptID, err
	}
	s.state = StateReceiving
	s.armWatchdogLocked()
	s.logger.Info().Str("attempt", s.attemptID).Str("version", meta.Version).Int64("declared_size", meta.Size).Msg("upload started")
	return s.attemptID, nil
}

// ownsLocked reports whether token names the session's current attempt.
func (s *Session) ownsLocked(token string) bool {
	return token != "" && token == s.attemptID
}

// Write forwards one chunk to the flash writer. The byte counter advances by
// the full chunk length even on a short write; short writes are tolerated
// and counted unless the strict policy is set.
func (s *Session) Write(token string, p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ownsLocked(token) {
		return ErrStale
	}
	if s.state != StateReceiving {
		if s.lastErr != nil {
			return s.lastErr
		}
		return fmt.Errorf("session is %s, not receiving", s.state)
	}
	n, err := s.writer.Write(p)
	s.bytesWritten += int64(len(p))
	if err != nil {
		s.failLocked(fmt.Errorf("chunk write: %w", err))
		return s.lastErr
	}
	if n != len(p) {
		s.mismatches++
		s.logger.Warn().Str("attempt", s.attemptID).Int("expected", len(p)).Int("written", n).Msg("chunk write mismatch")
		if s.policy.StrictWrites {
			s.failLocked(fmt.Errorf("short write: %d of %d bytes", n, len(p)))
			return s.lastErr
		}
	}
	s.armWatchdogLocked()
	return nil
}

// Finish finalizes the image: validation, then flipping the bootable slot.
func (s *Session) Finish(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ownsLocked(token) {
		return ErrStale
	}
	if s.state != StateReceiving {
		if s.lastErr != nil {
			return s.lastErr
		}
		return fmt.Errorf("session is %s, not receiving", s.state)
	}
	s.state = StateFinalizing
	s.stopWatchdogLocked()
	if err := s.writer.End(true); err != nil {
		s.state = StateFailed
		s.lastErr = err
		s.logger.Error().Err(err).Str("attempt", s.attemptID).Int64("bytes", s.bytesWritten).Msg("finalize failed")
		return err
	}
	s.state = StateSucceeded
	s.logger.Info().Str("attempt", s.attemptID).Int64("bytes", s.bytesWritten).Int("mismatches", s.mismatches).Msg("update finalized")
	return nil
}

// Abort releases the flash region mid-stream, e.g. on client disconnect.
// No-op unless token names the current attempt and the session is receiving
// or finalizing.
func (s *Session) Abort(token string, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ownsLocked(token) {
		return
	}
	s.abortLocked(cause)
}

func (s *Session) abortLocked(cause error) {
	if s.state != StateReceiving && s.state != StateFinalizing {
		return
	}
	s.stopWatchdogLocked()
	s.writer.Abort()
	s.state = StateAborted
	s.lastErr = cause
	s.logger.Info().AnErr("cause", cause).Str("attempt", s.attemptID).Int64("bytes", s.bytesWritten).Msg("upload aborted")
}

// Reset returns a terminal session to idle so the next upload can begin,
// recording the finished attempt. Callers invoke it after the HTTP response
// for the upload has been sent. Tokens for a superseded attempt and idle
// sessions are both no-ops.
func (s *Session) Reset(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ownsLocked(token) {
		return
	}
	s.resetLocked()
}

func (s *Session) resetLocked() {
	switch s.state {
	case StateSucceeded, StateFailed, StateAborted:
	default:
		return
	}
	if s.recorder != nil {
		a := Attempt{
			ID:         s.attemptID,
			StartedAt:  s.startedAt,
			FinishedAt: time.Now().UTC(),
			Bytes:      s.bytesWritten,
			State:      s.state,
			Version:    s.version,
			Mismatches: s.mismatches,
		}
		if s.lastErr != nil {
			a.Error = s.lastErr.Error()
		}
		s.recorder(a)
	}
	s.state = StateIdle
	s.attemptID = ""
	s.startedAt = time.Time{}
	s.bytesWritten = 0
	s.expectedSize = 0
	s.version = ""
	s.mismatches = 0
	s.lastErr = nil
}

func (s *Session) failLocked(err error) {
	s.stopWatchdogLocked()
	s.writer.Abort()
	s.state = StateFailed
	s.lastErr = err
	s.logger.Error().Err(err).Str("attempt", s.attemptID).Msg("upload failed")
}

// armWatchdogLocked (re)starts the stall timer. On expiry the session aborts
// and resets itself; the blocked upload handler observes the state change on
// its next Write.
func (s *Session) armWatchdogLocked() {
	if s.policy.WatchdogTimeout <= 0 {
		return
	}
	s.stopWatchdogLocked()
	id := s.attemptID
	s.watchdog = time.AfterFunc(s.policy.WatchdogTimeout, func() { s.watchdogExpire(id) })
}

func (s *Session) stopWatchdogLocked() {
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
}

func (s *Session) watchdogExpire(attemptID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attemptID != attemptID || s.state != StateReceiving {
		return
	}
	s.abortLocked(ErrWatchdog)
	s.resetLocked()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) BytesWritten() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesWritten
}

func (s *Session) Mismatches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mismatches
}

func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}
