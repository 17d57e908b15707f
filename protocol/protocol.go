// Package protocol implements the JSON wire codec shared with the chat
// backend: a tagged union of events discriminated by a "type" field, plus
// the content-level escaping convention and the binary attachment framing.
package protocol

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrUnknownType marks a frame whose "type" tag is not recognized.
	// Callers log it and drop the frame; it is never fatal.
	ErrUnknownType = errors.New("unknown event type")

	// ErrMissingType marks a frame without a "type" discriminant.
	ErrMissingType = errors.New("missing event type")
)

// eventFactories maps the wire discriminant to a fresh instance of the
// matching event struct.
var eventFactories = map[string]func() Event{
	TypeCreateGist:          func() Event { return &CreateGist{} },
	TypeJoinGist:            func() Event { return &JoinGist{} },
	TypeExitGist:            func() Event { return &ExitGist{} },
	TypeLoadMessages:        func() Event { return &LoadMessages{} },
	TypeLoadOlderMessages:   func() Event { return &LoadOlderMessages{} },
	TypeMessage:             func() Event { return &Message{} },
	TypeChatRoomText:        func() Event { return &ChatRoomText{} },
	TypeDMRoomText:          func() Event { return &DMRoomText{} },
	TypeDeliveryAck:         func() Event { return &DeliveryAck{} },
	TypeSubscribePresence:   func() Event { return &SubscribePresence{} },
	TypeUnsubscribePresence: func() Event { return &UnsubscribePresence{} },
	TypeFetchCliqueRequests: func() Event { return &FetchCliqueRequests{} },
	TypeStatus:              func() Event { return &Status{} },
	TypeGistCreated:         func() Event { return &GistCreated{} },
	TypeGistError:           func() Event { return &GistError{} },
	TypePreviousMessages:    func() Event { return &PreviousMessages{} },
	TypeOlderMessages:       func() Event { return &OlderMessages{} },
	TypeMessageAck:          func() Event { return &MessageAck{} },
	TypeImage:               func() Event { return &Image{} },
	TypeImageAck:            func() Event { return &ImageAck{} },
	TypeChatRoomAck:         func() Event { return &ChatRoomAck{} },
	TypeDMAck:               func() Event { return &DMAck{} },
	TypeSpectatorUpdate:     func() Event { return &SpectatorUpdate{} },
	TypeCliqueRequests:      func() Event { return &CliqueRequests{} },
	TypeCliqueDecline:       func() Event { return &CliqueDecline{} },
	TypeOnlineContacts:      func() Event { return &OnlineContacts{} },
	TypeContactOnline:       func() Event { return &ContactOnline{} },
	TypeContactOffline:      func() Event { return &ContactOffline{} },
}

type envelope struct {
	Type string `json:"type"`
}

// Encode serializes an event to its wire form, filling in the "type"
// discriminant and applying the content escaping convention to
// text-bearing events.
func Encode(ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case *Message:
		c := *e
		c.Type = TypeMessage
		c.Content = EscapeContent(c.Content)
		return json.Marshal(&c)
	case *ChatRoomText:
		c := *e
		c.Type = TypeChatRoomText
		c.Content = EscapeContent(c.Content)
		return json.Marshal(&c)
	case *DMRoomText:
		c := *e
		c.Type = TypeDMRoomText
		c.Content = EscapeContent(c.Content)
		return json.Marshal(&c)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return nil, errors.Wrap(err, "encode event")
	}
	// Ensure the discriminant is present even when the struct's Type
	// field was left empty by the caller.
	var check envelope
	if err := json.Unmarshal(data, &check); err == nil && check.Type == "" {
		patched := map[string]json.RawMessage{}
		if err := json.Unmarshal(data, &patched); err == nil {
			patched["type"] = json.RawMessage(`"` + ev.EventType() + `"`)
			return json.Marshal(patched)
		}
	}
	return data, nil
}

// Decode parses one text frame into its typed event. Malformed JSON and
// unrecognized type tags are reported as errors so the transport can log
// and drop the frame without touching any store.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, "decode frame")
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}
	factory, ok := eventFactories[env.Type]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownType, "%q", env.Type)
	}
	ev := factory()
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, errors.Wrapf(err, "decode %s", env.Type)
	}
	unescapeEvent(ev)
	return ev, nil
}

// unescapeEvent reverses the content escaping on text-bearing events.
// Replay payloads are handled in WireMessage.Model instead, so list
// entries are only unescaped once.
func unescapeEvent(ev Event) {
	switch e := ev.(type) {
	case *Message:
		e.Content = UnescapeContent(e.Content)
	case *ChatRoomText:
		e.Content = UnescapeContent(e.Content)
	case *DMRoomText:
		e.Content = UnescapeContent(e.Content)
	}
}

var contentEscaper = strings.NewReplacer(
	"\\", "\\\\",
	"\"", "\\\"",
	"\n", "\\n",
	"\r", "\\r",
	"\t", "\\t",
	"\b", "\\b",
)

// EscapeContent applies the backend's content escaping convention. This
// is in addition to JSON string escaping: the server stores and relays
// content with these sequences intact.
func EscapeContent(s string) string {
	return contentEscaper.Replace(s)
}

// UnescapeContent is the inverse of EscapeContent.
func UnescapeContent(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i == len(s)-1 {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'b':
			b.WriteByte('\b')
		case '"':
			b.WriteByte('"')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
