package itemcodec

import (
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/stretchr/testify/require"
)

func gzipped(t *testing.T, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestGzipDecoder_Decode(t *testing.T) {
	dec := New()

	payload := bytes.Repeat([]byte("item"), 16)
	item, err := dec.Decode(gzipped(t, payload))
	require.NoError(t, err)
	require.Equal(t, 1, item.Count)
	require.Equal(t, len(payload), item.Attributes["payload_size"])
}

func TestGzipDecoder_Decode_EmptyPayload(t *testing.T) {
	dec := New()

	_, err := dec.Decode(nil)
	require.Error(t, err)
}

func TestGzipDecoder_Decode_NotGzip(t *testing.T) {
	dec := New()

	_, err := dec.Decode([]byte("definitely not a gzip stream"))
	require.Error(t, err)
}
