package live

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"tripsync/models"
)

func TestHubRegisterBroadcastUnregister(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	client := &Client{
		Send: make(chan []byte, 10),
		Room: "room1",
	}
	hub.register <- client

	data, _ := json.Marshal(outboundPayload{Action: "row", Row: &models.ItineraryRecord{ItineraryID: "room1"}})
	hub.broadcast <- broadcastMsg{Room: "room1", Data: data}

	select {
	case got := <-client.Send:
		if string(got) != string(data) {
			t.Fatalf("expected %s, got %s", data, got)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for message")
	}

	hub.unregister <- client
	select {
	case _, ok := <-client.Send:
		if ok {
			t.Fatal("send channel still open after unregister")
		}
	case <-time.After(1 * time.Second):
		t.Fatal("send channel not closed")
	}
	// a second unregister of the same client must not panic
	hub.unregister <- client
}

func TestHubDropsSlowClientOnce(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	slow := &Client{Send: make(chan []byte), Room: "r"}
	hub.register <- slow
	hub.broadcast <- broadcastMsg{Room: "r", Data: []byte("x")}
	hub.unregister <- slow

	if n := hub.Subscribers("r"); n != 0 {
		t.Fatalf("subscribers = %d", n)
	}
}

func TestHubPublishSubscribe(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	got := make(chan models.ItineraryRecord, 4)
	unsub, err := hub.Subscribe("trip-1", func(rec models.ItineraryRecord) { got <- rec })
	if err != nil {
		t.Fatal(err)
	}
	other := make(chan models.ItineraryRecord, 4)
	if _, err := hub.Subscribe("trip-2", func(rec models.ItineraryRecord) { other <- rec }); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := hub.Publish(ctx, models.ItineraryRecord{ItineraryID: "trip-1", Destination: "Tulum"}); err != nil {
		t.Fatal(err)
	}
	select {
	case rec := <-got:
		if rec.Destination != "Tulum" {
			t.Fatalf("rec = %+v", rec)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for row")
	}
	select {
	case rec := <-other:
		t.Fatalf("row leaked into another room: %+v", rec)
	case <-time.After(20 * time.Millisecond):
	}

	unsub()
	unsub()
	deadline := time.After(time.Second)
	for hub.Subscribers("trip-1") != 0 {
		select {
		case <-deadline:
			t.Fatal("subscriber not removed")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestHubStopped(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	hub.Stop()
	hub.Stop()

	if _, err := hub.Subscribe("x", func(models.ItineraryRecord) {}); err != ErrStopped {
		t.Fatalf("subscribe after stop: %v", err)
	}
	if err := hub.Publish(context.Background(), models.ItineraryRecord{ItineraryID: "x"}); err != ErrStopped {
		t.Fatalf("publish after stop: %v", err)
	}
}

func TestSlowSubscriberRejoins(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	release := make(chan struct{})
	got := make(chan string, 2*subscriberBuffer)
	first := true
	unsub, err := hub.Subscribe("trip-1", func(rec models.ItineraryRecord) {
		if first {
			first = false
			<-release
		}
		got <- rec.Destination
	})
	if err != nil {
		t.Fatal(err)
	}
	defer unsub()

	ctx := context.Background()
	for i := 0; i < subscriberBuffer+2; i++ {
		if err := hub.Publish(ctx, models.ItineraryRecord{ItineraryID: "trip-1", Destination: "burst"}); err != nil {
			t.Fatal(err)
		}
	}
	waitSubscribers(t, hub, "trip-1", 0)

	close(release)
	waitSubscribers(t, hub, "trip-1", 1)

	if err := hub.Publish(ctx, models.ItineraryRecord{ItineraryID: "trip-1", Destination: "after"}); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(time.Second)
	for {
		select {
		case dest := <-got:
			if dest == "after" {
				return
			}
		case <-deadline:
			t.Fatal("rejoined subscriber missed the next row")
		}
	}
}

func waitSubscribers(t *testing.T, hub *Hub, room string, want int) {
	t.Helper()
	deadline := time.After(time.Second)
	for hub.Subscribers(room) != want {
		select {
		case <-deadline:
			t.Fatalf("subscribers in %s = %d, want %d", room, hub.Subscribers(room), want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}
