package flash

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func newTestStore(t *testing.T, capacity int64) (*SlotStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSlotStore(dir, capacity, zerolog.Nop())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s, dir
}

func writeImage(t *testing.T, s *SlotStore, meta ImageMeta, chunks ...[]byte) error {
	t.Helper()
	if err := s.Begin(meta); err != nil {
		return err
	}
	for _, c := range chunks {
		if _, err := s.Write(c); err != nil {
			s.Abort()
			return err
		}
	}
	return s.End(true)
}

func TestWriteAndFlip(t *testing.T) {
	s, dir := newTestStore(t, 1<<20)
	img := []byte("firmware image v2")
	sum := sha256.Sum256(img)
	meta := ImageMeta{Version: "0.0.5", Size: int64(len(img)), SHA256: hex.EncodeToString(sum[:])}

	if err := writeImage(t, s, meta, img[:7], img[7:]); err != nil {
		t.Fatalf("write image: %v", err)
	}

	slot, version, _ := s.Active()
	if slot != "b" {
		t.Fatalf("expected flip to slot b, got %s", slot)
	}
	if version != "0.0.5" {
		t.Fatalf("version: got %q", version)
	}
	got, err := os.ReadFile(filepath.Join(dir, "slot-b.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(img) {
		t.Fatalf("slot content mismatch")
	}

	// Pointer survives a restart.
	s2, err := NewSlotStore(dir, 1<<20, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if slot, _, _ := s2.Active(); slot != "b" {
		t.Fatalf("pointer not persisted, got %s", slot)
	}
}

func TestBeginInsufficientSpace(t *testing.T) {
	s, _ := newTestStore(t, 16)
	err := s.Begin(ImageMeta{Size: 64})
	if !errors.Is(err, ErrInsufficientSpace) {
		t.Fatalf("expected ErrInsufficientSpace, got %v", err)
	}
	// Slot was never claimed, a fresh Begin succeeds.
	if err := s.Begin(ImageMeta{Size: 8}); err != nil {
		t.Fatalf("begin after rejection: %v", err)
	}
	s.Abort()
}

func TestCapacityShortWrite(t *testing.T) {
	s, _ := newTestStore(t, 10)
	if err := s.Begin(ImageMeta{}); err != nil {
		t.Fatal(err)
	}
	n, err := s.Write([]byte("0123456789abcdef"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != 10 {
		t.Fatalf("expected short write of 10, got %d", n)
	}
	n, err = s.Write([]byte("more"))
	if err != nil || n != 0 {
		t.Fatalf("expected 0-byte write past capacity, got n=%d err=%v", n, err)
	}
	s.Abort()
}

func TestValidationFailureKeepsActiveSlot(t *testing.T) {
	s, dir := newTestStore(t, 1<<20)
	err := writeImage(t, s, ImageMeta{Size: 999}, []byte("short"))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if slot, _, _ := s.Active(); slot != "a" {
		t.Fatalf("active slot moved on failed validation: %s", slot)
	}
	if _, err := os.Stat(filepath.Join(dir, "slot-b.bin")); !os.IsNotExist(err) {
		t.Fatalf("rejected image not discarded")
	}
	// Region released: next upload can begin.
	if err := s.Begin(ImageMeta{}); err != nil {
		t.Fatalf("begin after failed validation: %v", err)
	}
	s.Abort()
}

func TestChecksumMismatch(t *testing.T) {
	s, _ := newTestStore(t, 1<<20)
	meta := ImageMeta{SHA256: "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"}
	err := writeImage(t, s, meta, []byte("image"))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestEmptyImageRejected(t *testing.T) {
	s, _ := newTestStore(t, 1<<20)
	err := writeImage(t, s, ImageMeta{})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty image, got %v", err)
	}
}

func TestAbortReleasesSlot(t *testing.T) {
	s, dir := newTestStore(t, 1<<20)
	if err := s.Begin(ImageMeta{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Write([]byte("partial")); err != nil {
		t.Fatal(err)
	}
	s.Abort()
	if _, err := os.Stat(filepath.Join(dir, "slot-b.bin")); !os.IsNotExist(err) {
		t.Fatalf("partial image not removed")
	}
	if err := s.Begin(ImageMeta{}); err != nil {
		t.Fatalf("begin after abort: %v", err)
	}
	s.Abort()
	// Abort with nothing claimed is a no-op.
	s.Abort()
}

func TestWriteBeforeBeginPanics(t *testing.T) {
	s, _ := newTestStore(t, 1<<20)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on Write before Begin")
		}
	}()
	_, _ = s.Write([]byte("x"))
}

func TestAlternatingSlots(t *testing.T) {
	s, _ := newTestStore(t, 1<<20)
	if err := writeImage(t, s, ImageMeta{}, []byte("first")); err != nil {
		t.Fatal(err)
	}
	if slot, _, _ := s.Active(); slot != "b" {
		t.Fatalf("after first update: %s", slot)
	}
	if err := writeImage(t, s, ImageMeta{}, []byte("second")); err != nil {
		t.Fatal(err)
	}
	if slot, _, _ := s.Active(); slot != "a" {
		t.Fatalf("after second update: %s", slot)
	}
}
