package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"trapmon/device/otad/internal/config"
	"trapmon/device/otad/internal/firmware"
	"trapmon/device/otad/internal/flash"
	"trapmon/device/otad/internal/power"
	"trapmon/device/otad/internal/update"
	"trapmon/device/otad/pkg/httpx"
)

// uploadChunkSize bounds how much of the image sits in memory at once; a
// multi-megabyte upload is fed to the flash writer in pieces of this size.
const uploadChunkSize = 32 << 10

// SlotInfo is the read-only view of the slot store the status pages need.
type SlotInfo interface {
	Active() (slot, version string, updatedAt time.Time)
}

// UpdateHandler serves the firmware upload routes and the status surface.
type UpdateHandler struct {
	cfg    config.Config
	deps   Deps
	slots  SlotInfo
	logger zerolog.Logger
}

func NewUpdateHandler(cfg config.Config, deps Deps) *UpdateHandler {
	return &UpdateHandler{
		cfg:    cfg,
		deps:   deps,
		slots:  deps.Slots,
		logger: Logger(cfg).With().Str("component", "update").Logger(),
	}
}

// UploadForm renders the firmware upload page.
func (h *UpdateHandler) UploadForm(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = formTmpl.Execute(w, nil)
}

// Upload streams a multipart firmware image into the flash writer. Parts are
// processed in order: an optional "manifest" JSON part, then the "firmware"
// image part. The response is the plain-text result contract; on success the
// reboot is scheduled only after the response has been flushed.
//
// The session hands Begin's caller a token; any premature return after that
// point aborts through it so the flash slot is freed and the deferred Reset
// can record the attempt. Without the abort, a malformed-but-authenticated
// request would leave the session stuck in receiving.
func (h *UpdateHandler) Upload(w http.ResponseWriter, r *http.Request) {
	sess := h.deps.Session
	var token string
	defer func() { sess.Reset(token) }()

	mr, err := r.MultipartReader()
	if err != nil {
		httpx.WriteTypedError(w, http.StatusBadRequest, "update.bad_request", "multipart/form-data body required", 0)
		return
	}

	var meta flash.ImageMeta
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Transport died between parts. Nobody is listening anymore.
			sess.Abort(token, err)
			return
		}
		switch part.FormName() {
		case "manifest":
			if token != "" {
				sess.Abort(token, errors.New("manifest after firmware part"))
				httpx.WriteTypedError(w, http.StatusBadRequest, "update.manifest_order", "manifest must precede the firmware part", 0)
				return
			}
			m, perr := firmware.Parse(part)
			if perr != nil {
				httpx.WriteTypedError(w, http.StatusBadRequest, "update.invalid_manifest", perr.Error(), 0)
				return
			}
			meta = m.Meta()
		case "firmware":
			if token != "" {
				sess.Abort(token, errors.New("duplicate firmware part"))
				httpx.WriteTypedError(w, http.StatusBadRequest, "update.duplicate_firmware", "only one firmware part is allowed", 0)
				return
			}
			tok, err := sess.Begin(meta)
			token = tok
			if err != nil {
				if errors.Is(err, update.ErrBusy) {
					httpx.WriteTypedError(w, http.StatusConflict, "update.busy", "an update is already in progress", 0)
					return
				}
				// Flash open failure: terminal, previous image stays active.
				h.writeResult(w, resultFailed)
				return
			}
			if done := h.streamImage(w, sess, token, part); done {
				return
			}
		default:
			_, _ = io.Copy(io.Discard, part)
		}
	}

	if token == "" {
		httpx.WriteTypedError(w, http.StatusBadRequest, "update.missing_firmware", "firmware field required", 0)
		return
	}
	if err := sess.Finish(token); err != nil {
		h.writeResult(w, resultFailed)
		return
	}
	h.writeResult(w, resultOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	if h.deps.Rebooter != nil {
		power.Schedule(h.deps.Rebooter, h.cfg.RebootDelay, h.logger)
	}
}

// streamImage pushes the firmware part into the session chunk by chunk.
// It reports true when it already wrote the HTTP response (or the client is
// gone) and the caller should stop.
func (h *UpdateHandler) streamImage(w http.ResponseWriter, sess *update.Session, token string, part io.Reader) bool {
	buf := make([]byte, uploadChunkSize)
	for {
		n, rerr := part.Read(buf)
		if n > 0 {
			if werr := sess.Write(token, buf[:n]); werr != nil {
				h.writeResult(w, resultFailed)
				return true
			}
		}
		if errors.Is(rerr, io.EOF) {
			return false
		}
		if rerr != nil {
			sess.Abort(token, rerr)
			return true
		}
	}
}

func (h *UpdateHandler) writeResult(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// History returns the most recent finished attempts from the journal.
func (h *UpdateHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.deps.History == nil {
		writeJSON(w, []any{})
		return
	}
	attempts, err := h.deps.History.Recent(20)
	if err != nil {
		httpx.WriteTypedError(w, http.StatusInternalServerError, "history.unavailable", "could not read update history", 0)
		return
	}
	out := make([]map[string]any, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, map[string]any{
			"id":          a.ID,
			"started_at":  a.StartedAt,
			"finished_at": a.FinishedAt,
			"bytes":       a.Bytes,
			"state":       a.State,
			"version":     a.Version,
			"error":       a.Error,
		})
	}
	writeJSON(w, out)
}
