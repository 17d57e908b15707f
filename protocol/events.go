package protocol

import "klique/models"

// Event type tags as they appear in the wire "type" field.
const (
	// outbound
	TypeCreateGist          = "createGist"
	TypeJoinGist            = "joinGist"
	TypeExitGist            = "exitGist"
	TypeLoadMessages        = "loadMessages"
	TypeLoadOlderMessages   = "loadOlderMessages"
	TypeMessage             = "message"
	TypeChatRoomText        = "chatRoomText"
	TypeDMRoomText          = "dmRoomText"
	TypeDeliveryAck         = "deliveryAck"
	TypeSubscribePresence   = "subscribePresence"
	TypeUnsubscribePresence = "unsubscribePresence"
	TypeFetchCliqueRequests = "fetchCliqueRequests"

	// inbound
	TypeStatus           = "status"
	TypeGistCreated      = "gistCreated"
	TypeGistError        = "gistError"
	TypePreviousMessages = "previousMessages"
	TypeOlderMessages    = "olderMessages"
	TypeMessageAck       = "messageAck"
	TypeImage            = "image"
	TypeImageAck         = "imageAck"
	TypeChatRoomAck      = "chatRoomAck"
	TypeDMAck            = "dmAck"
	TypeSpectatorUpdate  = "spectatorUpdate"
	TypeCliqueRequests   = "cliqueRequests"
	TypeCliqueDecline    = "cliqueDecline"
	TypeOnlineContacts   = "onlineContacts"
	TypeContactOnline    = "contactOnline"
	TypeContactOffline   = "contactOffline"
)

// Event is one decoded wire message. The concrete type is determined by
// the "type" discriminant.
type Event interface {
	EventType() string
}

// CreateGist opens a new group channel.
type CreateGist struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	Sender      string `json:"sender"`
	Topic       string `json:"topic"`
	Description string `json:"description"`
}

func (*CreateGist) EventType() string { return TypeCreateGist }

// JoinGist subscribes the session to an existing group channel.
type JoinGist struct {
	Type   string `json:"type"`
	GistID string `json:"gistId"`
	ID     string `json:"id"`
	Sender string `json:"sender"`
}

func (*JoinGist) EventType() string { return TypeJoinGist }

// ExitGist leaves the current group channel. Sent by the client and
// echoed by the server to confirm the teardown.
type ExitGist struct {
	Type   string `json:"type"`
	GistID string `json:"gistId"`
}

func (*ExitGist) EventType() string { return TypeExitGist }

// LoadMessages requests the full history replay for a channel.
type LoadMessages struct {
	Type   string `json:"type"`
	GistID string `json:"gistId"`
}

func (*LoadMessages) EventType() string { return TypeLoadMessages }

// LoadOlderMessages requests history older than the given timestamp.
type LoadOlderMessages struct {
	Type   string `json:"type"`
	GistID string `json:"gistId"`
	Before int64  `json:"before"`
}

func (*LoadOlderMessages) EventType() string { return TypeLoadOlderMessages }

// Message is a text item on a group channel. Used in both directions:
// the client sends its own messages and receives other members' ones.
type Message struct {
	Type        string `json:"type"`
	GistID      string `json:"gistId"`
	MessageID   string `json:"messageId"`
	SenderID    int64  `json:"senderId"`
	SenderName  string `json:"senderName"`
	Content     string `json:"content"`
	MessageType string `json:"messageType"`
	Timestamp   int64  `json:"timeStamp"`
}

func (*Message) EventType() string { return TypeMessage }

// ChatRoomText is a text item on a chat room channel.
type ChatRoomText struct {
	Type       string `json:"type"`
	RoomID     string `json:"roomId"`
	MessageID  string `json:"messageId"`
	SenderID   int64  `json:"senderId"`
	SenderName string `json:"senderName"`
	Content    string `json:"content"`
	Timestamp  int64  `json:"timeStamp"`
}

func (*ChatRoomText) EventType() string { return TypeChatRoomText }

// DMRoomText is a text item on a direct-message thread.
type DMRoomText struct {
	Type       string `json:"type"`
	ThreadID   string `json:"threadId"`
	MessageID  string `json:"messageId"`
	SenderID   int64  `json:"senderId"`
	SenderName string `json:"senderName"`
	Content    string `json:"content"`
	Timestamp  int64  `json:"timeStamp"`
}

func (*DMRoomText) EventType() string { return TypeDMRoomText }

// DeliveryAck reports to the server that an inbound item reached this
// device, so the sender can see a delivered/read receipt.
type DeliveryAck struct {
	Type      string `json:"type"`
	ChannelID string `json:"channelId"`
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

func (*DeliveryAck) EventType() string { return TypeDeliveryAck }

// SubscribePresence asks for live online/offline updates about a user.
type SubscribePresence struct {
	Type   string `json:"type"`
	UserID int64  `json:"userId"`
}

func (*SubscribePresence) EventType() string { return TypeSubscribePresence }

// UnsubscribePresence cancels a presence subscription.
type UnsubscribePresence struct {
	Type   string `json:"type"`
	UserID int64  `json:"userId"`
}

func (*UnsubscribePresence) EventType() string { return TypeUnsubscribePresence }

// FetchCliqueRequests asks the server to replay pending friend requests.
type FetchCliqueRequests struct {
	Type string `json:"type"`
}

func (*FetchCliqueRequests) EventType() string { return TypeFetchCliqueRequests }

// Status is a presence snapshot for a single user.
type Status struct {
	Type   string `json:"type"`
	UserID int64  `json:"userId"`
	Online bool   `json:"online"`
}

func (*Status) EventType() string { return TypeStatus }

// GistCreated confirms a createGist or joinGist and carries the channel
// metadata the client needs to render the header.
type GistCreated struct {
	Type             string `json:"type"`
	GistID           string `json:"gistId"`
	Topic            string `json:"topic"`
	Description      string `json:"description"`
	StartedBy        string `json:"startedBy"`
	StartedByID      int64  `json:"startedById"`
	ActiveSpectators int    `json:"activeSpectators"`
	ImageURL         string `json:"gistImageUrl"`
	IsOwner          bool   `json:"isOwner"`
	IsSpeaker        bool   `json:"isSpeaker"`
}

func (*GistCreated) EventType() string { return TypeGistCreated }

// GistError reports a failed createGist/joinGist.
type GistError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (*GistError) EventType() string { return TypeGistError }

// WireMessage is one history entry inside a replay payload.
type WireMessage struct {
	MessageID   string `json:"messageId"`
	SenderID    int64  `json:"senderId"`
	SenderName  string `json:"senderName"`
	Content     string `json:"content"`
	MessageType string `json:"messageType"`
	Timestamp   int64  `json:"timeStamp"`
	Status      string `json:"status"`
}

// Model converts a history entry into the domain message for channelID.
func (w WireMessage) Model(channelID string) models.Message {
	status := models.DeliveryStatus(w.Status)
	if status == "" {
		status = models.StatusSent
	}
	itemType := models.ItemType(w.MessageType)
	if itemType == "" {
		itemType = models.ItemText
	}
	return models.Message{
		ID:         w.MessageID,
		ChannelID:  channelID,
		SenderID:   w.SenderID,
		SenderName: w.SenderName,
		Content:    UnescapeContent(w.Content),
		Type:       itemType,
		Timestamp:  w.Timestamp,
		Status:     status,
	}
}

// PreviousMessages is the full-history replay for a channel.
type PreviousMessages struct {
	Type     string        `json:"type"`
	GistID   string        `json:"gistId"`
	Messages []WireMessage `json:"messages"`
}

func (*PreviousMessages) EventType() string { return TypePreviousMessages }

// OlderMessages is a paged replay of history older than what the client has.
type OlderMessages struct {
	Type     string        `json:"type"`
	GistID   string        `json:"gistId"`
	Messages []WireMessage `json:"messages"`
}

func (*OlderMessages) EventType() string { return TypeOlderMessages }

// MessageAck confirms receipt of a previously sent item, correlated by
// (channel id, message id).
type MessageAck struct {
	Type      string `json:"type"`
	ChannelID string `json:"channelId"`
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

func (*MessageAck) EventType() string { return TypeMessageAck }

// Image is an inbound media item. MessageType distinguishes image, audio
// and video; Content carries the download URL.
type Image struct {
	Type        string `json:"type"`
	ChannelID   string `json:"channelId"`
	MessageID   string `json:"messageId"`
	SenderID    int64  `json:"senderId"`
	SenderName  string `json:"senderName"`
	Content     string `json:"content"`
	MessageType string `json:"messageType"`
	Timestamp   int64  `json:"timeStamp"`
}

func (*Image) EventType() string { return TypeImage }

// ImageAck confirms receipt of a previously sent binary item.
type ImageAck struct {
	Type      string `json:"type"`
	ChannelID string `json:"channelId"`
	MessageID string `json:"messageId"`
}

func (*ImageAck) EventType() string { return TypeImageAck }

// ChatRoomAck confirms a chat room item.
type ChatRoomAck struct {
	Type      string `json:"type"`
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
}

func (*ChatRoomAck) EventType() string { return TypeChatRoomAck }

// DMAck confirms a direct-message item.
type DMAck struct {
	Type      string `json:"type"`
	ThreadID  string `json:"threadId"`
	MessageID string `json:"messageId"`
}

func (*DMAck) EventType() string { return TypeDMAck }

// SpectatorUpdate carries the live viewer count of a group channel.
type SpectatorUpdate struct {
	Type             string `json:"type"`
	GistID           string `json:"gistId"`
	ActiveSpectators int    `json:"activeSpectators"`
}

func (*SpectatorUpdate) EventType() string { return TypeSpectatorUpdate }

// WireCliqueRequest is one entry of a cliqueRequests payload.
type WireCliqueRequest struct {
	UserID     int64  `json:"userId"`
	Name       string `json:"name"`
	ProfileURL string `json:"profilePicture"`
	Verified   bool   `json:"isVerified"`
}

// Model converts a wire request into the domain entity.
func (w WireCliqueRequest) Model() models.CliqueRequest {
	return models.CliqueRequest{
		UserID:     w.UserID,
		Name:       w.Name,
		ProfileURL: w.ProfileURL,
		Verified:   w.Verified,
	}
}

// CliqueRequests replays the pending friend requests.
type CliqueRequests struct {
	Type     string              `json:"type"`
	Requests []WireCliqueRequest `json:"cliqueRequests"`
}

func (*CliqueRequests) EventType() string { return TypeCliqueRequests }

// CliqueDecline removes a request after the other side withdrew it.
type CliqueDecline struct {
	Type   string `json:"type"`
	UserID int64  `json:"userId"`
}

func (*CliqueDecline) EventType() string { return TypeCliqueDecline }

// OnlineContacts is the presence snapshot sent right after connect.
type OnlineContacts struct {
	Type    string  `json:"type"`
	UserIDs []int64 `json:"onlineContacts"`
}

func (*OnlineContacts) EventType() string { return TypeOnlineContacts }

// ContactOnline signals a subscribed contact coming online.
type ContactOnline struct {
	Type   string `json:"type"`
	UserID int64  `json:"userId"`
}

func (*ContactOnline) EventType() string { return TypeContactOnline }

// ContactOffline signals a subscribed contact going offline.
type ContactOffline struct {
	Type   string `json:"type"`
	UserID int64  `json:"userId"`
}

func (*ContactOffline) EventType() string { return TypeContactOffline }
