package flash

import (
	"bytes"
)

// MemWriter is an in-memory Writer for tests. The failure knobs mimic the
// error paths of a real flash target.
type MemWriter struct {
	Buf bytes.Buffer

	BeginErr error // returned by Begin
	WriteErr error // returned by every Write
	EndErr   error // returned by End
	ShortBy  int   // each Write reports len(p)-ShortBy bytes written

	Meta       ImageMeta
	BeginCalls int
	EndCalls   int
	AbortCalls int
	Validated  bool
	began      bool
}

func (m *MemWriter) Begin(meta ImageMeta) error {
	m.BeginCalls++
	if m.BeginErr != nil {
		return m.BeginErr
	}
	m.Meta = meta
	m.Buf.Reset()
	m.began = true
	return nil
}

func (m *MemWriter) Write(p []byte) (int, error) {
	if !m.began {
		panic("flash: Write before Begin")
	}
	if m.WriteErr != nil {
		return 0, m.WriteErr
	}
	n := len(p)
	if m.ShortBy > 0 && n > m.ShortBy {
		n -= m.ShortBy
	}
	m.Buf.Write(p[:n])
	return n, nil
}

func (m *MemWriter) End(validate bool) error {
	m.EndCalls++
	m.Validated = validate
	m.began = false
	if m.EndErr != nil {
		return m.EndErr
	}
	return nil
}

func (m *MemWriter) Abort() {
	m.AbortCalls++
	m.began = false
}
