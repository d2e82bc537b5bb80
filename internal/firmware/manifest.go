// Package firmware handles the optional manifest a client may send ahead of
// the image bytes. The manifest declares what the device should expect so the
// finalize step can check the completed image against it.
package firmware

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"trapmon/device/otad/internal/flash"
)

// maxManifestBytes bounds the manifest part so a client cannot stream the
// image into it.
const maxManifestBytes = 4 << 10

const manifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["size"],
  "additionalProperties": false,
  "properties": {
    "version": {"type": "string", "maxLength": 64},
    "size": {"type": "integer", "minimum": 1},
    "sha256": {"type": "string", "pattern": "^[0-9a-f]{64}$"}
  }
}`

var schema = gojsonschema.NewStringLoader(manifestSchema)

// Manifest declares the incoming image. Size is required; sha256 and version
// are optional. Without a sha256 the finalize check is size-only.
type Manifest struct {
	Version string `json:"version,omitempty"`
	Size    int64  `json:"size"`
	SHA256  string `json:"sha256,omitempty"`
}

// Parse reads, schema-validates and decodes one manifest document.
func Parse(r io.Reader) (*Manifest, error) {
	doc, err := io.ReadAll(io.LimitReader(r, maxManifestBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if len(doc) > maxManifestBytes {
		return nil, fmt.Errorf("manifest exceeds %d bytes", maxManifestBytes)
	}
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("validate manifest: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("invalid manifest: %s", strings.Join(msgs, "; "))
	}
	var m Manifest
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// Meta converts the manifest into the flash writer's view of the image.
func (m *Manifest) Meta() flash.ImageMeta {
	return flash.ImageMeta{Version: m.Version, Size: m.Size, SHA256: m.SHA256}
}
