// Package itemcodec decodes the opaque item blobs carried by the upstream
// feed into structured item descriptors.
package itemcodec

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/skyblockd/skyblockd/internal/domain"
)

// maxDecodedSize bounds decompression of untrusted feed payloads.
const maxDecodedSize = 1 << 20

// GzipDecoder decodes gzip-compressed item payloads. The full binary item
// format is handled upstream of this service; the decoder only exposes the
// envelope-level fields clients need.
type GzipDecoder struct{}

// New returns the default item decoder.
func New() *GzipDecoder {
	return &GzipDecoder{}
}

// Decode implements domain.Decoder.
func (d *GzipDecoder) Decode(raw []byte) (*domain.ItemData, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("decode item: empty payload")
	}

	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode item: open gzip stream: %w", err)
	}
	defer zr.Close()

	payload, err := io.ReadAll(io.LimitReader(zr, maxDecodedSize))
	if err != nil {
		return nil, fmt.Errorf("decode item: decompress: %w", err)
	}

	return &domain.ItemData{
		Count:  1,
		ItemID: "",
		Attributes: map[string]any{
			"payload_size": len(payload),
		},
	}, nil
}
