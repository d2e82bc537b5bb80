package flash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trapmon/device/otad/internal/fsatomic"
)

const (
	slotA = "a"
	slotB = "b"
)

// pointer is the persisted record of which slot holds the bootable image.
type pointer struct {
	Active    string    `json:"active"`
	Version   string    `json:"version,omitempty"`
	Size      int64     `json:"size,omitempty"`
	SHA256    string    `json:"sha256,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// SlotStore implements Writer over two slot files plus an atomically updated
// active-slot pointer. One SlotStore exists per process; it serializes claims
// internally but relies on the update session for at-most-one-upload.
type SlotStore struct {
	logger   zerolog.Logger
	dir      string
	capacity int64

	mu      sync.Mutex
	ptr     pointer
	claimed bool
	f       *os.File
	sum     hash.Hash
	written int64
	meta    ImageMeta
}

func NewSlotStore(dir string, capacity int64, logger zerolog.Logger) (*SlotStore, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("slot capacity must be positive, got %d", capacity)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create flash dir: %w", err)
	}
	s := &SlotStore{
		logger:   logger.With().Str("component", "flash").Logger(),
		dir:      dir,
		capacity: capacity,
		ptr:      pointer{Active: slotA},
	}
	if _, err := fsatomic.LoadJSON(s.pointerPath(), &s.ptr); err != nil {
		return nil, fmt.Errorf("load slot pointer: %w", err)
	}
	if s.ptr.Active != slotA && s.ptr.Active != slotB {
		s.ptr = pointer{Active: slotA}
	}
	return s, nil
}

func (s *SlotStore) pointerPath() string { return filepath.Join(s.dir, "active.json") }

func (s *SlotStore) slotPath(slot string) string {
	return filepath.Join(s.dir, "slot-"+slot+".bin")
}

func (s *SlotStore) inactive() string {
	if s.ptr.Active == slotA {
		return slotB
	}
	return slotA
}

// Active reports the bootable slot and the metadata recorded when it was
// last flipped.
func (s *SlotStore) Active() (slot, version string, updatedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ptr.Active, s.ptr.Version, s.ptr.UpdatedAt
}

func (s *SlotStore) Begin(meta ImageMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed {
		return fmt.Errorf("inactive slot already claimed")
	}
	if meta.Size > s.capacity {
		return fmt.Errorf("%w: declared %d bytes, capacity %d", ErrInsufficientSpace, meta.Size, s.capacity)
	}
	f, err := os.OpenFile(s.slotPath(s.inactive()), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("claim slot %s: %w", s.inactive(), err)
	}
	s.f = f
	s.sum = sha256.New()
	s.written = 0
	s.meta = meta
	s.claimed = true
	s.logger.Debug().Str("slot", s.inactive()).Int64("declared_size", meta.Size).Msg("slot claimed")
	return nil
}

// Write appends p to the claimed slot. When the slot capacity would be
// exceeded it writes only the bytes that fit and reports a short count, like
// a flash region running out of erased pages.
func (s *SlotStore) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.claimed {
		panic("flash: Write before Begin")
	}
	if s.written >= s.capacity {
		return 0, nil
	}
	if rem := s.capacity - s.written; int64(len(p)) > rem {
		p = p[:rem]
	}
	n, err := s.f.Write(p)
	s.sum.Write(p[:n])
	s.written += int64(n)
	if err != nil {
		return n, fmt.Errorf("write slot: %w", err)
	}
	return n, nil
}

func (s *SlotStore) End(validate bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.claimed {
		return fmt.Errorf("no slot claimed")
	}
	slot := s.inactive()
	release := func() {
		_ = s.f.Close()
		_ = os.Remove(s.slotPath(slot))
		s.f = nil
		s.claimed = false
	}

	if err := s.f.Sync(); err != nil {
		release()
		return fmt.Errorf("sync slot: %w", err)
	}
	if validate {
		if err := s.validateLocked(); err != nil {
			release()
			return err
		}
	}
	if err := s.f.Close(); err != nil {
		release()
		return fmt.Errorf("close slot: %w", err)
	}
	s.f = nil
	s.claimed = false

	next := pointer{
		Active:    slot,
		Version:   s.meta.Version,
		Size:      s.written,
		SHA256:    hex.EncodeToString(s.sum.Sum(nil)),
		UpdatedAt: time.Now().UTC(),
	}
	if err := fsatomic.SaveJSON(s.pointerPath(), next, 0o600); err != nil {
		// Pointer untouched on disk, old image remains bootable.
		return fmt.Errorf("mark slot bootable: %w", err)
	}
	s.ptr = next
	s.logger.Info().Str("slot", slot).Int64("bytes", next.Size).Str("version", next.Version).Msg("image marked bootable")
	return nil
}

func (s *SlotStore) validateLocked() error {
	if s.written == 0 {
		return fmt.Errorf("%w: empty image", ErrValidation)
	}
	if s.meta.Size > 0 && s.written != s.meta.Size {
		return fmt.Errorf("%w: wrote %d bytes, manifest declared %d", ErrValidation, s.written, s.meta.Size)
	}
	if s.meta.SHA256 != "" {
		got := hex.EncodeToString(s.sum.Sum(nil))
		if got != s.meta.SHA256 {
			return fmt.Errorf("%w: sha256 mismatch", ErrValidation)
		}
	}
	return nil
}

// Abort releases a claimed slot and discards the partial image. Safe to call
// at any time, including with nothing claimed.
func (s *SlotStore) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.claimed {
		return
	}
	slot := s.inactive()
	_ = s.f.Close()
	_ = os.Remove(s.slotPath(slot))
	s.f = nil
	s.claimed = false
	s.logger.Debug().Str("slot", slot).Int64("bytes", s.written).Msg("partial image discarded")
}
