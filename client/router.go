package client

import "klique/protocol"

// Listener ids for the feature areas multiplexed over one connection.
const (
	ListenerGist   = "gist"
	ListenerRoom   = "room"
	ListenerDirect = "direct"
	ListenerClique = "clique"
)

// eventRoutes maps inbound event types to the listener id that owns them.
// Several types target the same listener; item-level events additionally
// carry a channel id the handler uses to pick the right store. Types not
// listed here are dropped by the read loop.
var eventRoutes = map[string]string{
	protocol.TypeGistCreated:      ListenerGist,
	protocol.TypeGistError:        ListenerGist,
	protocol.TypePreviousMessages: ListenerGist,
	protocol.TypeOlderMessages:    ListenerGist,
	protocol.TypeMessage:          ListenerGist,
	protocol.TypeMessageAck:       ListenerGist,
	protocol.TypeImage:            ListenerGist,
	protocol.TypeImageAck:         ListenerGist,
	protocol.TypeBinaryItem:       ListenerGist,
	protocol.TypeSpectatorUpdate:  ListenerGist,
	protocol.TypeExitGist:         ListenerGist,

	protocol.TypeChatRoomText: ListenerRoom,
	protocol.TypeChatRoomAck:  ListenerRoom,

	protocol.TypeDMRoomText: ListenerDirect,
	protocol.TypeDMAck:      ListenerDirect,

	protocol.TypeCliqueRequests: ListenerClique,
	protocol.TypeCliqueDecline:  ListenerClique,
	protocol.TypeOnlineContacts: ListenerClique,
	protocol.TypeContactOnline:  ListenerClique,
	protocol.TypeContactOffline: ListenerClique,
	protocol.TypeStatus:         ListenerClique,
}

// routeEvent resolves the listener id for a decoded event.
func routeEvent(ev protocol.Event) (string, bool) {
	id, ok := eventRoutes[ev.EventType()]
	return id, ok
}
