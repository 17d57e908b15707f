package protocol

import (
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"klique/models"
)

// Binary frames carry media attachments: a 4-byte big-endian length of a
// UTF-8 metadata string "id;senderId;senderName;type;timestamp;status",
// followed by the raw payload bytes.

const metadataFields = 6

var (
	ErrShortFrame  = errors.New("binary frame too short")
	ErrBadMetadata = errors.New("malformed binary metadata")
)

// TypeBinaryItem tags decoded binary frames for routing. It never appears
// on the wire; binary frames are distinguished by the websocket frame type.
const TypeBinaryItem = "binaryItem"

// BinaryItem is a decoded inbound binary frame. The metadata carries no
// channel id, so the handler correlates by item id.
type BinaryItem struct {
	Meta    Metadata
	Payload []byte
}

func (*BinaryItem) EventType() string { return TypeBinaryItem }

// Metadata describes the media item a binary frame carries.
type Metadata struct {
	ID         string
	SenderID   int64
	SenderName string
	Type       models.ItemType
	Timestamp  int64
	Status     models.DeliveryStatus
}

// String renders the metadata in wire order.
func (m Metadata) String() string {
	return strings.Join([]string{
		m.ID,
		strconv.FormatInt(m.SenderID, 10),
		m.SenderName,
		string(m.Type),
		strconv.FormatInt(m.Timestamp, 10),
		string(m.Status),
	}, ";")
}

// EncodeBinary builds one outbound binary frame.
func EncodeBinary(meta Metadata, payload []byte) []byte {
	metaBytes := []byte(meta.String())
	frame := make([]byte, 4+len(metaBytes)+len(payload))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(metaBytes)))
	copy(frame[4:], metaBytes)
	copy(frame[4+len(metaBytes):], payload)
	return frame
}

// DecodeBinary splits an inbound binary frame into metadata and payload.
// The payload slice aliases the input.
func DecodeBinary(frame []byte) (Metadata, []byte, error) {
	if len(frame) < 4 {
		return Metadata{}, nil, ErrShortFrame
	}
	metaLen := int(binary.BigEndian.Uint32(frame[:4]))
	if metaLen < 0 || len(frame)-4 < metaLen {
		return Metadata{}, nil, errors.Wrapf(ErrShortFrame, "metadata length %d exceeds frame", metaLen)
	}
	fields := strings.Split(string(frame[4:4+metaLen]), ";")
	if len(fields) != metadataFields {
		return Metadata{}, nil, errors.Wrapf(ErrBadMetadata, "%d fields", len(fields))
	}
	senderID, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Metadata{}, nil, errors.Wrap(ErrBadMetadata, "sender id")
	}
	timestamp, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return Metadata{}, nil, errors.Wrap(ErrBadMetadata, "timestamp")
	}
	meta := Metadata{
		ID:         fields[0],
		SenderID:   senderID,
		SenderName: fields[2],
		Type:       models.ItemType(fields[3]),
		Timestamp:  timestamp,
		Status:     models.DeliveryStatus(fields[5]),
	}
	return meta, frame[4+metaLen:], nil
}
