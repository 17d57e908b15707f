// Package session ties the transport, the wire codec and the
// conversation stores into one per-login object. It replaces the global
// singletons of earlier clients: everything hangs off a Session value
// constructed at login and torn down at logout.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"klique/client"
	"klique/config"
	"klique/conversation"
	"klique/models"
	"klique/protocol"
)

// HistoryCache is the narrow interface to the local persistent store.
// Implementations keep channel metadata and cached history keyed by
// channel id; cache.New provides the sqlite-backed one.
type HistoryCache interface {
	SaveChannel(info models.ChannelInfo) error
	Channels() ([]models.ChannelInfo, error)
	ReplaceHistory(channelID string, msgs []models.Message) error
	AppendMessage(msg models.Message) error
	History(channelID string, limit int) ([]models.Message, error)
	DeleteChannel(channelID string) error
}

// Notifier receives lifecycle changes, newly arrived messages and events
// no registered listener consumed, so surfaces outside the feature
// handlers (badges, system notifications) can react.
type Notifier interface {
	StateChanged(s client.State)
	MessageReceived(msg models.Message)
	UnhandledEvent(listenerID string, ev protocol.Event)
}

// Deps are the external collaborators a session works with. All fields
// are optional.
type Deps struct {
	Tokens   client.TokenSource
	Cache    HistoryCache
	Notifier Notifier
}

// Session owns one logged-in user's realtime state: the websocket
// client, the per-feature conversation stores and the presence tracker.
type Session struct {
	identity models.Identity
	deps     Deps

	cli *client.Client
	ids *idGenerator

	gists   *conversation.Store
	rooms   *conversation.Store
	directs *conversation.Store

	requests *conversation.RequestList
	presence *conversation.Tracker

	mu           sync.Mutex
	activeGist   models.ChannelInfo
	presenceSubs map[int64]struct{}
}

// New builds a session for identity. Call Start to connect.
func New(cfg *config.Config, identity models.Identity, deps Deps) *Session {
	s := &Session{
		identity:     identity,
		deps:         deps,
		ids:          newIDGenerator(),
		requests:     conversation.NewRequestList(),
		presence:     conversation.NewTracker(),
		presenceSubs: make(map[int64]struct{}),
	}
	s.gists = conversation.NewStore(s.ids.NextID)
	s.rooms = conversation.NewStore(s.ids.NextID)
	s.directs = conversation.NewStore(s.ids.NextID)

	registry := client.NewRegistry()
	opts := client.Options{
		URL:                  cfg.WSURL,
		Identity:             identity,
		Tokens:               deps.Tokens,
		PingInterval:         cfg.PingInterval,
		PongTimeout:          cfg.PongTimeout,
		ReconnectInitialWait: cfg.ReconnectInitialWait,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		OnOpen:               s.onOpen,
		OnState:              s.onState,
		OnUnhandled:          s.onUnhandled,
	}
	s.cli = client.New(opts, registry)

	registry.Register(&gistHandler{s})
	registry.Register(&roomHandler{s})
	registry.Register(&directHandler{s})
	registry.Register(&cliqueHandler{s})
	return s
}

// Start opens the connection. Completion of the handshake is observable
// through State and the notifier; Start itself only fails on an
// immediate dial error, after which the backoff schedule keeps trying.
func (s *Session) Start(ctx context.Context) error {
	return s.cli.Connect(ctx)
}

// Close tears the connection down and stops reconnection. Idempotent.
func (s *Session) Close() {
	s.cli.Close()
}

// State reports the transport lifecycle state.
func (s *Session) State() client.State { return s.cli.State() }

// Client exposes the underlying transport, mainly so UI surfaces can
// register additional listeners.
func (s *Session) Client() *client.Client { return s.cli }

// Identity returns the logged-in user.
func (s *Session) Identity() models.Identity { return s.identity }

// GistMessages returns the current gist conversation snapshot.
func (s *Session) GistMessages() []models.Message {
	s.mu.Lock()
	id := s.activeGist.ID
	s.mu.Unlock()
	return s.gists.Messages(id)
}

// RoomMessages returns the chat room conversation snapshot.
func (s *Session) RoomMessages(roomID string) []models.Message {
	return s.rooms.Messages(roomID)
}

// DirectMessages returns the direct-message thread snapshot.
func (s *Session) DirectMessages(threadID string) []models.Message {
	return s.directs.Messages(threadID)
}

// CliqueRequests returns the pending friend requests.
func (s *Session) CliqueRequests() []models.CliqueRequest {
	return s.requests.Snapshot()
}

// Presence returns the online-contact tracker.
func (s *Session) Presence() *conversation.Tracker { return s.presence }

// ActiveGist returns the metadata of the joined gist, if any.
func (s *Session) ActiveGist() (models.ChannelInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeGist, s.activeGist.ID != ""
}

// CreateGist asks the server to open a new group channel. The channel
// becomes active when the gistCreated confirmation arrives.
func (s *Session) CreateGist(topic, description string) error {
	return s.cli.Send(&protocol.CreateGist{
		ID:          s.ids.NextID(),
		Sender:      s.identity.DisplayName,
		Topic:       topic,
		Description: description,
	})
}

// JoinGist subscribes to an existing group channel.
func (s *Session) JoinGist(gistID string) error {
	return s.cli.Send(&protocol.JoinGist{
		GistID: gistID,
		ID:     s.ids.NextID(),
		Sender: s.identity.DisplayName,
	})
}

// ExitGist leaves the active group channel. Local state is cleared when
// the server echoes the exit.
func (s *Session) ExitGist() error {
	s.mu.Lock()
	gistID := s.activeGist.ID
	s.mu.Unlock()
	if gistID == "" {
		return nil
	}
	return s.cli.Send(&protocol.ExitGist{GistID: gistID})
}

// SendGistText posts a text message to the active gist. The returned
// message is already inserted in Sending state; when the connection is
// down it stays pending and is retried on the next reconnect.
func (s *Session) SendGistText(content string) (models.Message, error) {
	s.mu.Lock()
	gistID := s.activeGist.ID
	s.mu.Unlock()
	if gistID == "" {
		return models.Message{}, errNoActiveGist
	}
	msg := s.gists.CreateLocal(gistID, content, models.ItemText, s.identity)
	err := s.cli.Send(gistTextEvent(msg))
	return msg, err
}

// SendRoomText posts a text message to a chat room.
func (s *Session) SendRoomText(roomID, content string) (models.Message, error) {
	msg := s.rooms.CreateLocal(roomID, content, models.ItemText, s.identity)
	err := s.cli.Send(roomTextEvent(msg))
	return msg, err
}

// SendDirectText posts a text message to a direct-message thread.
func (s *Session) SendDirectText(threadID, content string) (models.Message, error) {
	msg := s.directs.CreateLocal(threadID, content, models.ItemText, s.identity)
	err := s.cli.Send(directTextEvent(msg))
	return msg, err
}

// SendGistMedia posts a binary attachment (image, audio or video) to the
// active gist using the length-prefixed binary framing.
func (s *Session) SendGistMedia(itemType models.ItemType, payload []byte) (models.Message, error) {
	s.mu.Lock()
	gistID := s.activeGist.ID
	s.mu.Unlock()
	if gistID == "" {
		return models.Message{}, errNoActiveGist
	}
	msg := models.Message{
		ID:         s.ids.NextID(),
		ChannelID:  gistID,
		SenderID:   s.identity.UserID,
		SenderName: s.identity.DisplayName,
		Media:      payload,
		Type:       itemType,
		Timestamp:  time.Now().UnixMilli(),
		Status:     models.StatusSending,
	}
	s.gists.AppendReceived(msg)
	frame := protocol.EncodeBinary(protocol.Metadata{
		ID:         msg.ID,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Type:       msg.Type,
		Timestamp:  msg.Timestamp,
		Status:     msg.Status,
	}, payload)
	return msg, s.cli.SendBinary(frame)
}

// LoadHistory requests the full history replay for the active gist.
func (s *Session) LoadHistory() error {
	s.mu.Lock()
	gistID := s.activeGist.ID
	s.mu.Unlock()
	if gistID == "" {
		return errNoActiveGist
	}
	return s.cli.Send(&protocol.LoadMessages{GistID: gistID})
}

// LoadOlder requests history older than the given timestamp.
func (s *Session) LoadOlder(before int64) error {
	s.mu.Lock()
	gistID := s.activeGist.ID
	s.mu.Unlock()
	if gistID == "" {
		return errNoActiveGist
	}
	return s.cli.Send(&protocol.LoadOlderMessages{GistID: gistID, Before: before})
}

// SubscribePresence asks for live status updates about a contact. The
// subscription is renewed automatically after reconnects.
func (s *Session) SubscribePresence(userID int64) error {
	s.mu.Lock()
	s.presenceSubs[userID] = struct{}{}
	s.mu.Unlock()
	return s.cli.SendQueued(&protocol.SubscribePresence{UserID: userID})
}

// UnsubscribePresence cancels a presence subscription.
func (s *Session) UnsubscribePresence(userID int64) error {
	s.mu.Lock()
	delete(s.presenceSubs, userID)
	s.mu.Unlock()
	return s.cli.Send(&protocol.UnsubscribePresence{UserID: userID})
}

// AckDelivery reports an inbound item as delivered or read.
func (s *Session) AckDelivery(channelID, messageID string, status models.DeliveryStatus) error {
	return s.cli.Send(&protocol.DeliveryAck{
		ChannelID: channelID,
		MessageID: messageID,
		Status:    string(status),
	})
}

// onOpen restores the server-side subscriptions and retries pending
// optimistic items after every (re)connect.
func (s *Session) onOpen(reconnect bool) {
	_ = s.cli.SendQueued(&protocol.FetchCliqueRequests{})

	s.mu.Lock()
	gistID := s.activeGist.ID
	subs := make([]int64, 0, len(s.presenceSubs))
	for id := range s.presenceSubs {
		subs = append(subs, id)
	}
	s.mu.Unlock()

	for _, userID := range subs {
		_ = s.cli.Send(&protocol.SubscribePresence{UserID: userID})
	}

	if !reconnect {
		return
	}
	if gistID != "" {
		_ = s.cli.Send(&protocol.JoinGist{GistID: gistID, ID: s.ids.NextID(), Sender: s.identity.DisplayName})
		_ = s.cli.Send(&protocol.LoadMessages{GistID: gistID})
	}
	s.retryPending()
}

// retryPending re-sends every item still in Sending state. The server
// dedupes by message id, so a retry racing a late acknowledgement is
// harmless.
func (s *Session) retryPending() {
	for _, channelID := range s.gists.Channels() {
		for _, msg := range s.gists.Pending(channelID) {
			if len(msg.Media) > 0 {
				frame := protocol.EncodeBinary(protocol.Metadata{
					ID:         msg.ID,
					SenderID:   msg.SenderID,
					SenderName: msg.SenderName,
					Type:       msg.Type,
					Timestamp:  msg.Timestamp,
					Status:     msg.Status,
				}, msg.Media)
				_ = s.cli.SendBinary(frame)
				continue
			}
			_ = s.cli.Send(gistTextEvent(msg))
		}
	}
	for _, channelID := range s.rooms.Channels() {
		for _, msg := range s.rooms.Pending(channelID) {
			_ = s.cli.Send(roomTextEvent(msg))
		}
	}
	for _, channelID := range s.directs.Channels() {
		for _, msg := range s.directs.Pending(channelID) {
			_ = s.cli.Send(directTextEvent(msg))
		}
	}
}

func (s *Session) onState(st client.State) {
	if s.deps.Notifier != nil {
		s.deps.Notifier.StateChanged(st)
	}
}

func (s *Session) notifyMessage(msg models.Message) {
	if s.deps.Notifier != nil {
		s.deps.Notifier.MessageReceived(msg)
	}
}

func (s *Session) onUnhandled(listenerID string, ev protocol.Event) {
	if s.deps.Notifier != nil {
		s.deps.Notifier.UnhandledEvent(listenerID, ev)
	}
}

func gistTextEvent(msg models.Message) *protocol.Message {
	return &protocol.Message{
		GistID:      msg.ChannelID,
		MessageID:   msg.ID,
		SenderID:    msg.SenderID,
		SenderName:  msg.SenderName,
		Content:     msg.Content,
		MessageType: string(msg.Type),
		Timestamp:   msg.Timestamp,
	}
}

func roomTextEvent(msg models.Message) *protocol.ChatRoomText {
	return &protocol.ChatRoomText{
		RoomID:     msg.ChannelID,
		MessageID:  msg.ID,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Content:    msg.Content,
		Timestamp:  msg.Timestamp,
	}
}

func directTextEvent(msg models.Message) *protocol.DMRoomText {
	return &protocol.DMRoomText{
		ThreadID:   msg.ChannelID,
		MessageID:  msg.ID,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Content:    msg.Content,
		Timestamp:  msg.Timestamp,
	}
}

func (s *Session) saveToCache(fn func(HistoryCache) error) {
	if s.deps.Cache == nil {
		return
	}
	if err := fn(s.deps.Cache); err != nil {
		log.Warn().Err(err).Msg("history cache write failed")
	}
}
