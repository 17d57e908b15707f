package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klique/models"
	"klique/protocol"
)

// testServer is an in-process websocket endpoint. Accepted connections
// and their handshake queries are handed to the test over channels.
type testServer struct {
	*httptest.Server
	conns   chan *websocket.Conn
	queries chan url.Values
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ts := &testServer{
		conns:   make(chan *websocket.Conn, 8),
		queries: make(chan url.Values, 8),
	}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.queries <- r.URL.Query()
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.conns <- ws
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func (ts *testServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case ws := <-ts.conns:
		t.Cleanup(func() { ws.Close() })
		return ws
	case <-time.After(5 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func readFrame(t *testing.T, ws *websocket.Conn) (int, []byte) {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	msgType, data, err := ws.ReadMessage()
	require.NoError(t, err)
	return msgType, data
}

func testIdentity() models.Identity {
	return models.Identity{UserID: 7, DisplayName: "Alice", Token: "tok-1"}
}

func TestConnectSendsIdentityQuery(t *testing.T) {
	ts := newTestServer(t)
	c := New(Options{URL: ts.wsURL(), Identity: testIdentity()}, NewRegistry())
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, StateOpen, c.State())

	q := <-ts.queries
	assert.Equal(t, "7", q.Get("customer_id"))
	assert.Equal(t, "Alice", q.Get("full_name"))
	assert.Equal(t, "tok-1", q.Get("token"))
	assert.NotEmpty(t, q.Get("conn_ref"))
}

func TestConnectTwiceIsNoop(t *testing.T) {
	ts := newTestServer(t)
	c := New(Options{URL: ts.wsURL(), Identity: testIdentity()}, NewRegistry())
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))
	ts.accept(t)

	select {
	case <-ts.conns:
		t.Fatal("second physical connection opened")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSendDeliversEncodedEvent(t *testing.T) {
	ts := newTestServer(t)
	c := New(Options{URL: ts.wsURL(), Identity: testIdentity()}, NewRegistry())
	defer c.Close()
	require.NoError(t, c.Connect(context.Background()))
	server := ts.accept(t)

	require.NoError(t, c.Send(&protocol.JoinGist{GistID: "g1", ID: "m1", Sender: "Alice"}))

	msgType, data := readFrame(t, server)
	assert.Equal(t, websocket.TextMessage, msgType)
	ev, err := protocol.Decode(data)
	require.NoError(t, err)
	join, ok := ev.(*protocol.JoinGist)
	require.True(t, ok)
	assert.Equal(t, "g1", join.GistID)
}

func TestSendWhileDisconnected(t *testing.T) {
	c := New(Options{URL: "ws://127.0.0.1:1/ws", Identity: testIdentity()}, NewRegistry())
	defer c.Close()

	err := c.Send(&protocol.JoinGist{GistID: "g1"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSendQueuedFlushedInOrder(t *testing.T) {
	ts := newTestServer(t)
	c := New(Options{URL: ts.wsURL(), Identity: testIdentity()}, NewRegistry())
	defer c.Close()

	require.NoError(t, c.SendQueued(&protocol.SubscribePresence{UserID: 1}))
	require.NoError(t, c.SendQueued(&protocol.SubscribePresence{UserID: 2}))

	require.NoError(t, c.Connect(context.Background()))
	server := ts.accept(t)

	for _, want := range []int64{1, 2} {
		_, data := readFrame(t, server)
		ev, err := protocol.Decode(data)
		require.NoError(t, err)
		sub, ok := ev.(*protocol.SubscribePresence)
		require.True(t, ok)
		assert.Equal(t, want, sub.UserID)
	}
}

func TestSendBinary(t *testing.T) {
	ts := newTestServer(t)
	c := New(Options{URL: ts.wsURL(), Identity: testIdentity()}, NewRegistry())
	defer c.Close()
	require.NoError(t, c.Connect(context.Background()))
	server := ts.accept(t)

	frame := protocol.EncodeBinary(protocol.Metadata{
		ID: "m1", SenderID: 7, SenderName: "Alice",
		Type: models.ItemImage, Timestamp: 1000, Status: models.StatusSending,
	}, []byte{0xAA})
	require.NoError(t, c.SendBinary(frame))

	msgType, data := readFrame(t, server)
	assert.Equal(t, websocket.BinaryMessage, msgType)
	assert.Equal(t, frame, data)
}

func TestInboundDispatch(t *testing.T) {
	ts := newTestServer(t)
	registry := NewRegistry()
	room := &captureListener{id: ListenerRoom}
	registry.Register(room)

	c := New(Options{URL: ts.wsURL(), Identity: testIdentity()}, registry)
	defer c.Close()
	require.NoError(t, c.Connect(context.Background()))
	server := ts.accept(t)

	err := server.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"chatRoomText","roomId":"r1","messageId":"m1","content":"hi"}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return room.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	room.mu.Lock()
	text := room.events[0].(*protocol.ChatRoomText)
	room.mu.Unlock()
	assert.Equal(t, "hi", text.Content)
}

func TestInboundBinaryDispatch(t *testing.T) {
	ts := newTestServer(t)
	registry := NewRegistry()
	gist := &captureListener{id: ListenerGist}
	registry.Register(gist)

	c := New(Options{URL: ts.wsURL(), Identity: testIdentity()}, registry)
	defer c.Close()
	require.NoError(t, c.Connect(context.Background()))
	server := ts.accept(t)

	frame := protocol.EncodeBinary(protocol.Metadata{
		ID: "m1", SenderID: 9, SenderName: "Bob",
		Type: models.ItemImage, Timestamp: 1000, Status: models.StatusSent,
	}, []byte{0x01, 0x02})
	require.NoError(t, server.WriteMessage(websocket.BinaryMessage, frame))

	require.Eventually(t, func() bool { return gist.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	gist.mu.Lock()
	item := gist.events[0].(*protocol.BinaryItem)
	gist.mu.Unlock()
	assert.Equal(t, "m1", item.Meta.ID)
	assert.Equal(t, []byte{0x01, 0x02}, item.Payload)
}

func TestUnknownInboundTypeTolerated(t *testing.T) {
	ts := newTestServer(t)
	registry := NewRegistry()
	clique := &captureListener{id: ListenerClique}
	registry.Register(clique)

	c := New(Options{URL: ts.wsURL(), Identity: testIdentity()}, registry)
	defer c.Close()
	require.NoError(t, c.Connect(context.Background()))
	server := ts.accept(t)

	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":"futureFeature","x":1}`)))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":"contactOnline","userId":5}`)))

	require.Eventually(t, func() bool { return clique.count() == 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestUnhandledEventCallback(t *testing.T) {
	ts := newTestServer(t)

	var mu sync.Mutex
	var unhandled []string
	c := New(Options{
		URL:      ts.wsURL(),
		Identity: testIdentity(),
		OnUnhandled: func(listenerID string, ev protocol.Event) {
			mu.Lock()
			unhandled = append(unhandled, listenerID+":"+ev.EventType())
			mu.Unlock()
		},
	}, NewRegistry())
	defer c.Close()
	require.NoError(t, c.Connect(context.Background()))
	server := ts.accept(t)

	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(`{"type":"dmAck","threadId":"t1","messageId":"m1"}`)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(unhandled) == 1
	}, 5*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, "direct:dmAck", unhandled[0])
	mu.Unlock()
}

func TestReconnectAfterDrop(t *testing.T) {
	ts := newTestServer(t)

	var mu sync.Mutex
	var opens []bool
	c := New(Options{
		URL:                  ts.wsURL(),
		Identity:             testIdentity(),
		ReconnectInitialWait: 10 * time.Millisecond,
		OnOpen: func(reconnect bool) {
			mu.Lock()
			opens = append(opens, reconnect)
			mu.Unlock()
		},
	}, NewRegistry())
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))
	first := ts.accept(t)
	first.Close()

	// The dropped connection triggers the backoff schedule, which dials
	// again and reports a reconnect open.
	ts.accept(t)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(opens) == 2
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []bool{false, true}, opens)
	mu.Unlock()
	assert.Equal(t, StateOpen, c.State())
}

func TestQueuedFramesSurviveReconnect(t *testing.T) {
	ts := newTestServer(t)
	c := New(Options{
		URL:                  ts.wsURL(),
		Identity:             testIdentity(),
		ReconnectInitialWait: 300 * time.Millisecond,
	}, NewRegistry())
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))
	first := ts.accept(t)
	first.Close()

	// The backoff wait keeps the client disconnected long enough to
	// observe the gap and queue a frame into it.
	require.Eventually(t, func() bool { return c.State() != StateOpen }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, c.SendQueued(&protocol.FetchCliqueRequests{}))

	second := ts.accept(t)
	_, data := readFrame(t, second)
	ev, err := protocol.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeFetchCliqueRequests, ev.EventType())
}

func TestCloseStopsClient(t *testing.T) {
	ts := newTestServer(t)
	c := New(Options{URL: ts.wsURL(), Identity: testIdentity()}, NewRegistry())
	require.NoError(t, c.Connect(context.Background()))
	server := ts.accept(t)

	c.Close()
	c.Close()
	assert.Equal(t, StateClosed, c.State())
	assert.ErrorIs(t, c.Send(&protocol.FetchCliqueRequests{}), ErrClosed)
	assert.ErrorIs(t, c.Connect(context.Background()), ErrClosed)

	// The server observes a normal closure, not an abrupt drop.
	server.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := server.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.CloseNormalClosure, ce.Code)
}

type fakeTokens struct {
	mu        sync.Mutex
	token     string
	refreshed int
}

func (f *fakeTokens) Token() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, nil
}

func (f *fakeTokens) Refresh() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed++
	f.token = "tok-2"
	return f.token, nil
}

func TestTokenExpiredRefreshesAndReconnects(t *testing.T) {
	ts := newTestServer(t)
	tokens := &fakeTokens{token: "tok-1"}
	c := New(Options{
		URL:      ts.wsURL(),
		Identity: testIdentity(),
		Tokens:   tokens,
	}, NewRegistry())
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))
	first := ts.accept(t)
	<-ts.queries

	deadline := time.Now().Add(time.Second)
	require.NoError(t, first.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(4401, "token expired"), deadline))
	first.Close()

	ts.accept(t)
	q := <-ts.queries
	assert.Equal(t, "tok-2", q.Get("token"))
	tokens.mu.Lock()
	assert.Equal(t, 1, tokens.refreshed)
	tokens.mu.Unlock()
}

func TestTokenForbiddenStopsClient(t *testing.T) {
	ts := newTestServer(t)
	c := New(Options{
		URL:                  ts.wsURL(),
		Identity:             testIdentity(),
		ReconnectInitialWait: 10 * time.Millisecond,
	}, NewRegistry())
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))
	server := ts.accept(t)

	deadline := time.Now().Add(time.Second)
	require.NoError(t, server.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(4403, "forbidden"), deadline))
	server.Close()

	require.Eventually(t, func() bool { return c.State() == StateClosed }, 5*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, c.Send(&protocol.FetchCliqueRequests{}), ErrClosed)

	// No further dial attempts.
	select {
	case <-ts.conns:
		t.Fatal("client reconnected after forbidden close")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestStateCallback(t *testing.T) {
	ts := newTestServer(t)

	var mu sync.Mutex
	var states []State
	c := New(Options{
		URL:      ts.wsURL(),
		Identity: testIdentity(),
		OnState: func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	}, NewRegistry())

	require.NoError(t, c.Connect(context.Background()))
	ts.accept(t)
	c.Close()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) >= 3
	}, 5*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Contains(t, states, StateConnecting)
	assert.Contains(t, states, StateOpen)
	assert.Contains(t, states, StateClosed)
	mu.Unlock()
}
