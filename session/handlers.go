package session

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"klique/client"
	"klique/models"
	"klique/protocol"
)

var errNoActiveGist = errors.New("no active gist")

// gistHandler applies group-channel events to the gist store and keeps
// the active-channel metadata current.
type gistHandler struct{ s *Session }

func (h *gistHandler) ListenerID() string { return client.ListenerGist }

func (h *gistHandler) OnEvent(ev protocol.Event) {
	s := h.s
	switch e := ev.(type) {
	case *protocol.GistCreated:
		info := models.ChannelInfo{
			ID:               e.GistID,
			Topic:            e.Topic,
			Description:      e.Description,
			StartedBy:        e.StartedBy,
			StartedByID:      e.StartedByID,
			ActiveSpectators: e.ActiveSpectators,
			ImageURL:         e.ImageURL,
			IsOwner:          e.IsOwner,
			IsSpeaker:        e.IsSpeaker,
		}
		s.mu.Lock()
		s.activeGist = info
		s.mu.Unlock()
		s.saveToCache(func(c HistoryCache) error { return c.SaveChannel(info) })
		if err := s.cli.Send(&protocol.LoadMessages{GistID: e.GistID}); err != nil {
			log.Warn().Err(err).Str("gist", e.GistID).Msg("history request failed")
		}

	case *protocol.GistError:
		log.Warn().Str("reason", e.Message).Msg("gist create/join rejected")

	case *protocol.PreviousMessages:
		items := make([]models.Message, 0, len(e.Messages))
		for _, w := range e.Messages {
			items = append(items, w.Model(e.GistID))
		}
		s.gists.ReplaceAll(e.GistID, items)
		s.saveToCache(func(c HistoryCache) error { return c.ReplaceHistory(e.GistID, items) })

	case *protocol.OlderMessages:
		for _, w := range e.Messages {
			s.gists.AppendReceived(w.Model(e.GistID))
		}

	case *protocol.Message:
		msg := models.Message{
			ID:         e.MessageID,
			ChannelID:  e.GistID,
			SenderID:   e.SenderID,
			SenderName: e.SenderName,
			Content:    e.Content,
			Type:       itemType(e.MessageType),
			Timestamp:  e.Timestamp,
			Status:     models.StatusSent,
		}
		if s.gists.AppendReceived(msg) {
			s.saveToCache(func(c HistoryCache) error { return c.AppendMessage(msg) })
			s.notifyMessage(msg)
			if msg.SenderID != s.identity.UserID {
				_ = s.AckDelivery(msg.ChannelID, msg.ID, models.StatusDelivered)
			}
		}

	case *protocol.MessageAck:
		s.gists.Acknowledge(e.ChannelID, e.MessageID, ackStatus(e.Status))

	case *protocol.Image:
		msg := models.Message{
			ID:         e.MessageID,
			ChannelID:  e.ChannelID,
			SenderID:   e.SenderID,
			SenderName: e.SenderName,
			Content:    e.Content,
			Type:       itemType(e.MessageType),
			Timestamp:  e.Timestamp,
			Status:     models.StatusSent,
		}
		if s.gists.AppendReceived(msg) {
			s.notifyMessage(msg)
		}

	case *protocol.ImageAck:
		s.gists.Acknowledge(e.ChannelID, e.MessageID, models.StatusSent)

	case *protocol.BinaryItem:
		// The binary metadata carries no channel id; media frames are
		// only relayed for the channel the session is subscribed to.
		s.mu.Lock()
		gistID := s.activeGist.ID
		s.mu.Unlock()
		if gistID == "" {
			log.Debug().Str("item", e.Meta.ID).Msg("binary item with no active gist, dropping")
			return
		}
		item := models.Message{
			ID:         e.Meta.ID,
			ChannelID:  gistID,
			SenderID:   e.Meta.SenderID,
			SenderName: e.Meta.SenderName,
			Media:      e.Payload,
			Type:       e.Meta.Type,
			Timestamp:  e.Meta.Timestamp,
			Status:     models.StatusSent,
		}
		if s.gists.AppendReceived(item) {
			s.notifyMessage(item)
		}

	case *protocol.SpectatorUpdate:
		s.mu.Lock()
		if s.activeGist.ID == e.GistID {
			s.activeGist.ActiveSpectators = e.ActiveSpectators
		}
		s.mu.Unlock()

	case *protocol.ExitGist:
		s.mu.Lock()
		leaving := s.activeGist.ID == e.GistID
		if leaving {
			s.activeGist = models.ChannelInfo{}
		}
		s.mu.Unlock()
		if leaving {
			s.gists.Clear(e.GistID)
			s.saveToCache(func(c HistoryCache) error { return c.DeleteChannel(e.GistID) })
		}
	}
}

// roomHandler applies chat room events to the room store.
type roomHandler struct{ s *Session }

func (h *roomHandler) ListenerID() string { return client.ListenerRoom }

func (h *roomHandler) OnEvent(ev protocol.Event) {
	s := h.s
	switch e := ev.(type) {
	case *protocol.ChatRoomText:
		msg := models.Message{
			ID:         e.MessageID,
			ChannelID:  e.RoomID,
			SenderID:   e.SenderID,
			SenderName: e.SenderName,
			Content:    e.Content,
			Type:       models.ItemText,
			Timestamp:  e.Timestamp,
			Status:     models.StatusSent,
		}
		if s.rooms.AppendReceived(msg) {
			s.notifyMessage(msg)
		}
	case *protocol.ChatRoomAck:
		s.rooms.Acknowledge(e.RoomID, e.MessageID, models.StatusSent)
	}
}

// directHandler applies direct-message events to the direct store.
type directHandler struct{ s *Session }

func (h *directHandler) ListenerID() string { return client.ListenerDirect }

func (h *directHandler) OnEvent(ev protocol.Event) {
	s := h.s
	switch e := ev.(type) {
	case *protocol.DMRoomText:
		msg := models.Message{
			ID:         e.MessageID,
			ChannelID:  e.ThreadID,
			SenderID:   e.SenderID,
			SenderName: e.SenderName,
			Content:    e.Content,
			Type:       models.ItemText,
			Timestamp:  e.Timestamp,
			Status:     models.StatusSent,
		}
		if s.directs.AppendReceived(msg) {
			s.saveToCache(func(c HistoryCache) error { return c.AppendMessage(msg) })
			s.notifyMessage(msg)
			if msg.SenderID != s.identity.UserID {
				_ = s.AckDelivery(msg.ChannelID, msg.ID, models.StatusDelivered)
			}
		}
	case *protocol.DMAck:
		s.directs.Acknowledge(e.ThreadID, e.MessageID, models.StatusSent)
	}
}

// cliqueHandler applies social-feed and presence events.
type cliqueHandler struct{ s *Session }

func (h *cliqueHandler) ListenerID() string { return client.ListenerClique }

func (h *cliqueHandler) OnEvent(ev protocol.Event) {
	s := h.s
	switch e := ev.(type) {
	case *protocol.CliqueRequests:
		reqs := make([]models.CliqueRequest, 0, len(e.Requests))
		for _, w := range e.Requests {
			reqs = append(reqs, w.Model())
		}
		s.requests.Add(reqs...)
	case *protocol.CliqueDecline:
		s.requests.Remove(e.UserID)
	case *protocol.OnlineContacts:
		s.presence.SetAll(e.UserIDs)
	case *protocol.ContactOnline:
		s.presence.Online(e.UserID)
	case *protocol.ContactOffline:
		s.presence.Offline(e.UserID)
	case *protocol.Status:
		if e.Online {
			s.presence.Online(e.UserID)
		} else {
			s.presence.Offline(e.UserID)
		}
	}
}

func itemType(wire string) models.ItemType {
	switch models.ItemType(wire) {
	case models.ItemImage, models.ItemAudio, models.ItemVideo, models.ItemInvite:
		return models.ItemType(wire)
	default:
		return models.ItemText
	}
}

func ackStatus(wire string) models.DeliveryStatus {
	switch models.DeliveryStatus(wire) {
	case models.StatusDelivered, models.StatusRead:
		return models.DeliveryStatus(wire)
	default:
		return models.StatusSent
	}
}
