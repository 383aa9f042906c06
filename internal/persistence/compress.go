package persistence

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

// compress brotli-encodes raw, used for both the NATS payload and the
// Postgres column so the blob is compressed end to end.
func compress(raw []byte) []byte {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
	_, _ = w.Write(raw)
	_ = w.Close()
	return buf.Bytes()
}

func decompress(blob []byte) ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(blob))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("persistence: brotli decompress: %w", err)
	}
	return out, nil
}
