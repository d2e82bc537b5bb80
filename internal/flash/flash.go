// Package flash owns the persistent firmware write target. The device keeps
// two fixed-capacity image slots; writes always go to the inactive slot and
// the active-slot pointer is flipped only after a completed image validates.
package flash

import (
	"errors"
)

var (
	// ErrInsufficientSpace is returned by Begin when the declared image size
	// exceeds the slot capacity.
	ErrInsufficientSpace = errors.New("insufficient space in firmware slot")

	// ErrValidation is returned by End when the completed image fails its
	// integrity check. The previously active image stays bootable.
	ErrValidation = errors.New("image validation failed")
)

// ImageMeta describes the incoming image as far as it is known up front.
// Size and SHA256 come from the upload manifest and may be absent (zero/"")
// when the client did not declare them.
type ImageMeta struct {
	Version string
	Size    int64
	SHA256  string
}

// Writer is the write contract for one firmware image. Calls must follow
// Begin, zero or more Writes in stream order, then exactly one of End or
// Abort. Write before a successful Begin is a programming error and panics:
// the caller owns sequencing.
type Writer interface {
	Begin(meta ImageMeta) error
	Write(p []byte) (int, error)
	End(validate bool) error
	Abort()
}
