package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	server := NewServer(ServerConfig{PingInterval: 50 * time.Millisecond, PingTimeout: 500 * time.Millisecond}, zerolog.Nop())
	httpServer := httptest.NewServer(server)
	t.Cleanup(func() {
		server.Close()
		httpServer.Close()
	})
	return server, httpServer
}

func dialTestClient(t *testing.T, url string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := Dial(ctx, url)
	if err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func receive(t *testing.T, ch <-chan json.RawMessage) json.RawMessage {
	t.Helper()
	select {
	case payload := <-ch:
		return payload
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return nil
}

func TestClientServerEventRoundTrip(t *testing.T) {
	server, httpServer := newTestServer(t)
	server.On("ping_me", func(socket *Socket, args []json.RawMessage) {
		var body struct {
			Text string `json:"text"`
		}
		_ = json.Unmarshal(args[0], &body)
		_ = socket.Emit("pong_you", map[string]string{"text": body.Text + "!", "sid": socket.ID()})
	})

	client := dialTestClient(t, httpServer.URL)
	if client.ID() == "" {
		t.Fatalf("expected socket id after connect")
	}

	replies := make(chan json.RawMessage, 1)
	client.On("pong_you", func(args []json.RawMessage) { replies <- args[0] })

	if err := client.Emit("ping_me", map[string]string{"text": "hola"}); err != nil {
		t.Fatalf("Emit error: %v", err)
	}
	var reply struct {
		Text string `json:"text"`
		SID  string `json:"sid"`
	}
	if err := json.Unmarshal(receive(t, replies), &reply); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if reply.Text != "hola!" {
		t.Fatalf("unexpected reply %q", reply.Text)
	}
	if reply.SID != client.ID() {
		t.Fatalf("server sid %q does not match client id %q", reply.SID, client.ID())
	}
}

func TestRoomBroadcastReachesMembersOnly(t *testing.T) {
	server, httpServer := newTestServer(t)
	server.On("join", func(socket *Socket, args []json.RawMessage) {
		var room string
		_ = json.Unmarshal(args[0], &room)
		socket.Join(room)
		_ = server.To(room).Emit("joined", socket.ID())
	})

	alice := dialTestClient(t, httpServer.URL)
	bob := dialTestClient(t, httpServer.URL)

	aliceEvents := make(chan json.RawMessage, 4)
	bobEvents := make(chan json.RawMessage, 4)
	alice.On("joined", func(args []json.RawMessage) { aliceEvents <- args[0] })
	bob.On("joined", func(args []json.RawMessage) { bobEvents <- args[0] })

	_ = alice.Emit("join", "ROOM01")
	receive(t, aliceEvents)
	_ = bob.Emit("join", "ROOM02")
	receive(t, bobEvents)

	select {
	case payload := <-aliceEvents:
		t.Fatalf("alice received broadcast for another room: %s", payload)
	case <-time.After(100 * time.Millisecond):
	}

	if members := server.RoomMembers("ROOM01"); len(members) != 1 || members[0] != alice.ID() {
		t.Fatalf("unexpected ROOM01 members %v", members)
	}
}

func TestSubscriptionCloseRemovesHandlers(t *testing.T) {
	_, httpServer := newTestServer(t)
	client := dialTestClient(t, httpServer.URL)

	noop := func([]json.RawMessage) {}
	sub := Subscribe(client, map[string]Handler{
		"new_message":      noop,
		"update_user_list": noop,
	})
	other := client.On("new_message", noop)
	if got := client.HandlerCount("new_message"); got != 2 {
		t.Fatalf("expected 2 handlers, got %d", got)
	}

	sub.Close()
	sub.Close()
	if !sub.Closed() {
		t.Fatalf("subscription should report closed")
	}
	if got := client.HandlerCount("new_message"); got != 1 {
		t.Fatalf("expected unrelated handler to survive, got %d", got)
	}
	if got := client.HandlerCount("update_user_list"); got != 0 {
		t.Fatalf("expected no update_user_list handlers, got %d", got)
	}
	other()
	other()
	if got := client.HandlerCount("new_message"); got != 0 {
		t.Fatalf("expected no handlers, got %d", got)
	}
}

func TestDisconnectRunsServerHookAndClosesClient(t *testing.T) {
	server, httpServer := newTestServer(t)
	disconnected := make(chan string, 1)
	server.OnDisconnect(func(socket *Socket, reason string) { disconnected <- reason })

	client := dialTestClient(t, httpServer.URL)
	if err := client.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	select {
	case <-client.Done():
	case <-time.After(time.Second):
		t.Fatalf("client Done not closed")
	}
	if !errors.Is(client.Err(), ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", client.Err())
	}
	if err := client.Emit("late", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("emit after close should fail with ErrClosed, got %v", err)
	}

	select {
	case reason := <-disconnected:
		if reason != "client namespace disconnect" {
			t.Fatalf("unexpected reason %q", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not observe disconnect")
	}
}

func TestCloseDoesNotWaitForWriter(t *testing.T) {
	_, httpServer := newTestServer(t)
	client := dialTestClient(t, httpServer.URL)

	// Hold the write lock as a stalled network write would.
	client.writeMutex.Lock()
	start := time.Now()
	if err := client.Close(); err != nil {
		client.writeMutex.Unlock()
		t.Fatalf("Close error: %v", err)
	}
	elapsed := time.Since(start)
	if err := client.Emit("late", nil); !errors.Is(err, ErrClosed) {
		client.writeMutex.Unlock()
		t.Fatalf("emit after close should fail with ErrClosed, got %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	client.writeMutex.Unlock()

	if elapsed > 50*time.Millisecond {
		t.Fatalf("Close blocked for %v while a write was in flight", elapsed)
	}
	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("client Done not closed after the writer resumed")
	}
	if !errors.Is(client.Err(), ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", client.Err())
	}
}

func TestCloseFlushesQueuedEvents(t *testing.T) {
	server, httpServer := newTestServer(t)
	seen := make(chan string, 2)
	server.On("bye", func(socket *Socket, args []json.RawMessage) { seen <- "bye" })
	server.OnDisconnect(func(socket *Socket, reason string) { seen <- reason })

	client := dialTestClient(t, httpServer.URL)
	if err := client.Emit("bye", nil); err != nil {
		t.Fatalf("Emit error: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	for _, want := range []string{"bye", "client namespace disconnect"} {
		select {
		case got := <-seen:
			if got != want {
				t.Fatalf("server saw %q, want %q", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("server never saw %q", want)
		}
	}
}

func TestServerDisconnectEndsClient(t *testing.T) {
	server, httpServer := newTestServer(t)
	client := dialTestClient(t, httpServer.URL)

	deadline := time.Now().Add(time.Second)
	for server.Socket(client.ID()) == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	socket := server.Socket(client.ID())
	if socket == nil {
		t.Fatalf("server does not know socket %s", client.ID())
	}
	socket.Disconnect()

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("client did not notice server disconnect")
	}
	if client.Err() == nil || errors.Is(client.Err(), ErrClosed) {
		t.Fatalf("expected a remote disconnect error, got %v", client.Err())
	}
}

func TestHeartbeatKeepsConnectionAlive(t *testing.T) {
	server, httpServer := newTestServer(t)
	client := dialTestClient(t, httpServer.URL)

	// several ping intervals; the client must answer each ping
	time.Sleep(700 * time.Millisecond)
	select {
	case <-client.Done():
		t.Fatalf("connection dropped: %v", client.Err())
	default:
	}
	if server.Count() != 1 {
		t.Fatalf("expected one live socket, got %d", server.Count())
	}
}
