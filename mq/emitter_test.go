package mq

import (
	"context"
	"errors"
	"sync"
	"testing"

	"tripsync/db"
	"tripsync/models"
)

type recordingPublisher struct {
	mu   sync.Mutex
	rows []models.ItineraryRecord
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, rec models.ItineraryRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rows = append(p.rows, rec)
	return p.err
}

func TestNotifierPublishesWrites(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	n := NewNotifier(db.NewMemoryStore(), pub)

	row, err := n.Insert(ctx, models.ItineraryRecord{Destination: "Tulum", UserID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	row.Destination = "Bacalar"
	if _, err := n.Update(ctx, row); err != nil {
		t.Fatal(err)
	}
	if _, err := n.SetShare(ctx, row.ItineraryID, "tok", true); err != nil {
		t.Fatal(err)
	}
	if _, err := n.Get(ctx, row.ItineraryID); err != nil {
		t.Fatal(err)
	}

	if len(pub.rows) != 3 {
		t.Fatalf("published %d rows, want 3", len(pub.rows))
	}
	if pub.rows[1].Destination != "Bacalar" || pub.rows[2].ShareToken != "tok" {
		t.Fatalf("rows = %+v", pub.rows)
	}
}

func TestNotifierSkipsFailedWrites(t *testing.T) {
	pub := &recordingPublisher{}
	n := NewNotifier(db.NewMemoryStore(), pub)
	if _, err := n.Update(context.Background(), models.ItineraryRecord{ItineraryID: "missing"}); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if len(pub.rows) != 0 {
		t.Fatal("failed write was published")
	}
}

func TestNotifierKeepsWriteWhenPublishFails(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("redis down")}
	n := NewNotifier(db.NewMemoryStore(), pub)
	row, err := n.Insert(context.Background(), models.ItineraryRecord{Destination: "Hvar"})
	if err != nil || row.ItineraryID == "" {
		t.Fatalf("row = %+v err = %v", row, err)
	}
}

func TestChannelName(t *testing.T) {
	if got := channelName("abc"); got != "itinerary:abc" {
		t.Fatalf("channelName = %q", got)
	}
}
