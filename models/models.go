package models

// Identity is the logged-in user as supplied by the authentication layer.
// The token is opaque to this package; it is only forwarded on connect.
type Identity struct {
	UserID      int64
	DisplayName string
	Token       string
}

// DeliveryStatus tracks a message through its client-side lifecycle.
// Sending is set locally at creation time; Sent and later transitions
// are driven by server acknowledgements.
type DeliveryStatus string

const (
	StatusSending   DeliveryStatus = "sending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
)

// ItemType is the kind of content a message carries.
type ItemType string

const (
	ItemText   ItemType = "text"
	ItemImage  ItemType = "image"
	ItemAudio  ItemType = "audio"
	ItemVideo  ItemType = "video"
	ItemInvite ItemType = "invite"
)

// Message is one unit of conversation content. IDs are client-generated
// for locally-authored messages and server-provided otherwise; they must
// be unique within a conversation so acknowledgements can be correlated.
type Message struct {
	ID         string
	ChannelID  string
	SenderID   int64
	SenderName string
	Content    string
	Media      []byte // raw payload for image/audio/video items
	Type       ItemType
	Timestamp  int64 // unix milliseconds
	Status     DeliveryStatus
}

// CliqueRequest is a pending friend request shown on the social feed.
type CliqueRequest struct {
	UserID     int64
	Name       string
	ProfileURL string
	Verified   bool
}

// ChannelInfo describes a group channel (gist) the user created or joined.
type ChannelInfo struct {
	ID               string
	Topic            string
	Description      string
	StartedBy        string
	StartedByID      int64
	ActiveSpectators int
	ImageURL         string
	IsOwner          bool
	IsSpeaker        bool
}
