package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	raw := []byte(`{"root":{"type":"object","fields":{}}}`)

	compressed := compress(raw)
	assert.NotEqual(t, raw, compressed)

	out, err := decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}

func TestDecompressRejectsGarbage(t *testing.T) {
	_, err := decompress([]byte("not brotli"))
	assert.Error(t, err)
}

func TestEnvelopeRoundTripsThroughJSON(t *testing.T) {
	envelope := Envelope{RoomID: "room-1", Clock: 42, CompressedBlob: compress([]byte("snapshot"))}

	b, err := marshalEnvelope(envelope)
	require.NoError(t, err)

	decoded, err := unmarshalEnvelope(b)
	require.NoError(t, err)
	assert.Equal(t, envelope.RoomID, decoded.RoomID)
	assert.Equal(t, envelope.Clock, decoded.Clock)

	raw, err := decompress(decoded.CompressedBlob)
	require.NoError(t, err)
	assert.Equal(t, "snapshot", string(raw))
}
