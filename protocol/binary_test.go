package protocol

import (
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klique/models"
)

func TestEncodeBinaryLayout(t *testing.T) {
	meta := Metadata{
		ID:         "m1",
		SenderID:   7,
		SenderName: "Alice",
		Type:       models.ItemImage,
		Timestamp:  1000,
		Status:     models.StatusSending,
	}
	frame := EncodeBinary(meta, []byte{0x01, 0x02, 0x03})

	wantMeta := "m1;7;Alice;image;1000;sending"
	require.GreaterOrEqual(t, len(frame), 4)
	assert.Equal(t, uint32(len(wantMeta)), binary.BigEndian.Uint32(frame[:4]))
	assert.Equal(t, wantMeta, string(frame[4:4+len(wantMeta)]))
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, frame[4+len(wantMeta):])
}

func TestDecodeBinaryRoundTrip(t *testing.T) {
	meta := Metadata{
		ID:         "m1",
		SenderID:   7,
		SenderName: "Alice",
		Type:       models.ItemVideo,
		Timestamp:  1000,
		Status:     models.StatusSent,
	}
	payload := []byte("raw media bytes")

	got, gotPayload, err := DecodeBinary(EncodeBinary(meta, payload))
	require.NoError(t, err)
	assert.Equal(t, meta, got)
	assert.Equal(t, payload, gotPayload)
}

func TestDecodeBinaryEmptyPayload(t *testing.T) {
	meta := Metadata{ID: "m1", SenderID: 1, SenderName: "A", Type: models.ItemImage, Timestamp: 1, Status: models.StatusSent}
	got, payload, err := DecodeBinary(EncodeBinary(meta, nil))
	require.NoError(t, err)
	assert.Equal(t, meta, got)
	assert.Empty(t, payload)
}

func TestDecodeBinaryShortFrame(t *testing.T) {
	_, _, err := DecodeBinary([]byte{0x00, 0x01})
	assert.ErrorIs(t, errors.Cause(err), ErrShortFrame)
}

func TestDecodeBinaryLengthBeyondFrame(t *testing.T) {
	frame := make([]byte, 8)
	binary.BigEndian.PutUint32(frame[:4], 100)
	_, _, err := DecodeBinary(frame)
	assert.ErrorIs(t, errors.Cause(err), ErrShortFrame)
}

func TestDecodeBinaryBadMetadata(t *testing.T) {
	cases := map[string]string{
		"too few fields":  "m1;7;Alice",
		"bad sender id":   "m1;x;Alice;image;1000;sent",
		"bad timestamp":   "m1;7;Alice;image;x;sent",
		"too many fields": "m1;7;Alice;image;1000;sent;extra",
	}
	for name, meta := range cases {
		frame := make([]byte, 4+len(meta))
		binary.BigEndian.PutUint32(frame[:4], uint32(len(meta)))
		copy(frame[4:], meta)
		_, _, err := DecodeBinary(frame)
		assert.ErrorIs(t, errors.Cause(err), ErrBadMetadata, name)
	}
}

// Sender names may contain the separator when typed by users; the codec
// keeps the field count fixed, so such a name breaks the frame and must
// surface as an error rather than a scrambled item.
func TestDecodeBinarySeparatorInName(t *testing.T) {
	meta := Metadata{ID: "m1", SenderID: 7, SenderName: "A;B", Type: models.ItemImage, Timestamp: 1, Status: models.StatusSent}
	_, _, err := DecodeBinary(EncodeBinary(meta, nil))
	assert.ErrorIs(t, errors.Cause(err), ErrBadMetadata)
}
