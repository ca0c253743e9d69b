package websocket

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/quizrace/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// newTestClient builds a client with a queue but no network connection;
// the protocol never touches the conn.
func newTestClient(h *Hub) *Client {
	return &Client{id: "test", hub: h, send: make(chan []byte, 8), logger: h.logger}
}

func recvMessage(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data := <-c.send:
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message queued")
	}
	return Message{}
}

func waitForSubscriber(t *testing.T, h *Hub, roundID string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if h.GetSubscriberCount(roundID) > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no subscriber registered for %s", roundID)
}

func TestHandleClientCommandSubscribeFlow(t *testing.T) {
	h := NewHub(testLogger())
	go h.Run()
	defer h.Stop()

	c := newTestClient(h)
	h.Register(c)

	h.handleClientCommand(c, []byte(`{"type":"subscribe","round_id":"r1"}`))
	if msg := recvMessage(t, c); msg.Type != "subscribed" || msg.RoundID != "r1" {
		t.Errorf("ack = %+v, want subscribed to r1", msg)
	}
	waitForSubscriber(t, h, "r1")

	h.handleClientCommand(c, []byte(`{"type":"unsubscribe","round_id":"r1"}`))
	if msg := recvMessage(t, c); msg.Type != "unsubscribed" || msg.RoundID != "r1" {
		t.Errorf("ack = %+v, want unsubscribed from r1", msg)
	}
}

func TestHandleClientCommandSubscribeRequiresRound(t *testing.T) {
	h := NewHub(testLogger())
	c := newTestClient(h)

	h.handleClientCommand(c, []byte(`{"type":"subscribe"}`))
	if msg := recvMessage(t, c); msg.Type != MessageTypeError {
		t.Errorf("message = %+v, want an error reply", msg)
	}
}

func TestHandleClientCommandMalformedFrame(t *testing.T) {
	h := NewHub(testLogger())
	c := newTestClient(h)

	h.handleClientCommand(c, []byte(`{not json`))
	if msg := recvMessage(t, c); msg.Type != MessageTypeError {
		t.Errorf("message = %+v, want an error reply", msg)
	}
}

func TestHandleClientCommandPing(t *testing.T) {
	h := NewHub(testLogger())
	c := newTestClient(h)

	h.handleClientCommand(c, []byte(`{"type":"ping"}`))
	if msg := recvMessage(t, c); msg.Type != MessageTypePong {
		t.Errorf("message = %+v, want pong", msg)
	}
}

func TestBroadcastGameEventRoundScoped(t *testing.T) {
	h := NewHub(testLogger())
	go h.Run()
	defer h.Stop()

	sub := newTestClient(h)
	other := newTestClient(h)
	h.Register(sub)
	h.Register(other)
	h.Subscribe(sub, "r1")
	h.Subscribe(other, "r2")
	waitForSubscriber(t, h, "r1")
	waitForSubscriber(t, h, "r2")

	h.BroadcastGameEvent("r1", domain.GameEvent{Type: domain.EventAnswerSubmitted, RoundID: "r1"})

	msg := recvMessage(t, sub)
	if msg.Type != MessageTypeGameEvent || msg.RoundID != "r1" {
		t.Errorf("message = %+v, want a game event for r1", msg)
	}

	select {
	case data := <-other.send:
		t.Errorf("r2 subscriber received %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}
