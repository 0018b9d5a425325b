package streaming

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/claudecluster/core/internal/common/logger"
	"github.com/claudecluster/core/internal/driver/progress"
)

func testStreamingLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}
	return log
}

// runHub starts a Hub's event loop for the duration of the test and returns
// it once it is safe to Register/Unregister/Broadcast against.
func runHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(testStreamingLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub
}

func waitForClientCount(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		if hub.ClientCount() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("got client count %d after timeout, want %d", hub.ClientCount(), want)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestHub_RegisterAndUnregister(t *testing.T) {
	hub := runHub(t)
	client := NewClient("c-1", nil, hub, testStreamingLogger(t))

	hub.Register(client)
	waitForClientCount(t, hub, 1)

	hub.Unregister(client)
	waitForClientCount(t, hub, 0)
}

func TestHub_SubscribeAndUnsubscribeClient(t *testing.T) {
	hub := runHub(t)
	client := NewClient("c-1", nil, hub, testStreamingLogger(t))

	hub.SubscribeClient(client, "t-1")
	if got := hub.TaskSubscriberCount("t-1"); got != 1 {
		t.Fatalf("got %d subscribers, want 1", got)
	}

	hub.UnsubscribeClient(client, "t-1")
	if got := hub.TaskSubscriberCount("t-1"); got != 0 {
		t.Fatalf("got %d subscribers after unsubscribe, want 0", got)
	}
}

func TestHub_BroadcastDeliversToSubscribedClientOnly(t *testing.T) {
	hub := runHub(t)
	subscribed := NewClient("c-1", nil, hub, testStreamingLogger(t))
	other := NewClient("c-2", nil, hub, testStreamingLogger(t))

	hub.Register(subscribed)
	hub.Register(other)
	waitForClientCount(t, hub, 2)

	hub.SubscribeClient(subscribed, "t-1")

	hub.Broadcast(&progress.Message{Type: progress.MessageTypeProgress, TaskID: "t-1", Data: map[string]interface{}{"progress": 0.5}})

	select {
	case data := <-subscribed.send:
		var msg progress.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("failed to decode delivered message: %v", err)
		}
		if msg.TaskID != "t-1" {
			t.Fatalf("got task id %q, want t-1", msg.TaskID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the subscribed client to receive the broadcast")
	}

	select {
	case <-other.send:
		t.Fatal("expected the unsubscribed client to receive nothing")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_UnregisterRemovesFromTaskSubscriptions(t *testing.T) {
	hub := runHub(t)
	client := NewClient("c-1", nil, hub, testStreamingLogger(t))

	hub.Register(client)
	waitForClientCount(t, hub, 1)
	hub.SubscribeClient(client, "t-1")

	hub.Unregister(client)
	waitForClientCount(t, hub, 0)

	if got := hub.TaskSubscriberCount("t-1"); got != 0 {
		t.Fatalf("got %d subscribers after unregister, want 0", got)
	}
}

func TestHub_BroadcastToUnknownTaskIsNoop(t *testing.T) {
	hub := runHub(t)
	hub.Broadcast(&progress.Message{Type: progress.MessageTypeLog, TaskID: "never-subscribed"})
	// No assertion beyond "does not panic or block" — deliver returns early
	// when taskClients has no entry for the message's task id.
	time.Sleep(10 * time.Millisecond)
}

func TestClient_SubscribeUnsubscribeIsSubscribed(t *testing.T) {
	hub := runHub(t)
	client := NewClient("c-1", nil, hub, testStreamingLogger(t))

	client.Subscribe("t-1")
	if !client.IsSubscribed("t-1") {
		t.Fatal("expected client to report subscribed after Subscribe")
	}

	client.Unsubscribe("t-1")
	if client.IsSubscribed("t-1") {
		t.Fatal("expected client to report not subscribed after Unsubscribe")
	}
}
