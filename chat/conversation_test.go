package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"tripsync/apperr"
	"tripsync/models"
	"tripsync/store"
)

type fakeStreamer struct {
	fragments []string
	err       error
	block     chan struct{}
	got       [][]models.Message
}

func (f *fakeStreamer) Stream(ctx context.Context, messages []models.Message, onUpdate func(string)) (string, error) {
	f.got = append(f.got, messages)
	if f.block != nil {
		<-f.block
	}
	var acc strings.Builder
	for _, frag := range f.fragments {
		acc.WriteString(frag)
		onUpdate(acc.String())
	}
	return acc.String(), f.err
}

func TestSendStreamsReply(t *testing.T) {
	local := store.NewMemory()
	s := &fakeStreamer{fragments: []string{"Welcome ", "to ", "Tulum!"}}
	c := New(s, Options{Store: local, StoreKey: "chat"})

	var updates []string
	reply, err := c.Send(context.Background(), "  plan Tulum ", func(p string) { updates = append(updates, p) })
	if err != nil {
		t.Fatal(err)
	}
	if reply != "Welcome to Tulum!" || len(updates) != 3 {
		t.Fatalf("reply = %q updates = %q", reply, updates)
	}
	tr := c.Transcript()
	if len(tr) != 2 || tr[0].Content != "plan Tulum" || tr[1].Role != models.RoleAssistant || tr[1].Content != reply {
		t.Fatalf("transcript = %+v", tr)
	}
	if len(s.got[0]) != 1 || s.got[0][0].Role != models.RoleUser {
		t.Errorf("upstream history = %+v", s.got[0])
	}

	restored := New(s, Options{Store: local, StoreKey: "chat"})
	if err := restored.Restore(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(restored.Transcript()) != 2 {
		t.Errorf("restored = %+v", restored.Transcript())
	}
}

func TestSendFailureRollsBackReply(t *testing.T) {
	c := New(&fakeStreamer{fragments: []string{"Half a rep"}, err: apperr.Network("lost", errors.New("reset"))}, Options{})
	_, err := c.Send(context.Background(), "hello", nil)
	if !apperr.Is(err, apperr.KindNetwork) {
		t.Fatalf("err = %v", err)
	}
	tr := c.Transcript()
	if len(tr) != 1 || tr[0].Role != models.RoleUser {
		t.Fatalf("transcript = %+v", tr)
	}
	if c.Busy() {
		t.Error("still busy after failure")
	}
}

func TestSendEmptyReplyIsNoData(t *testing.T) {
	c := New(&fakeStreamer{}, Options{})
	_, err := c.Send(context.Background(), "hello", nil)
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Kind != apperr.KindNoData || !ae.Retryable {
		t.Fatalf("err = %v", err)
	}
	if len(c.Transcript()) != 1 {
		t.Fatalf("transcript = %+v", c.Transcript())
	}
}

func TestSendRejectsEmptyAndBusy(t *testing.T) {
	s := &fakeStreamer{fragments: []string{"ok"}, block: make(chan struct{})}
	c := New(s, Options{})
	if _, err := c.Send(context.Background(), "   ", nil); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("empty: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "first", nil)
		done <- err
	}()
	deadline := time.After(time.Second)
	for !c.Busy() {
		select {
		case <-deadline:
			t.Fatal("first send never started")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if _, err := c.Send(context.Background(), "second", nil); !errors.Is(err, ErrBusy) {
		t.Fatalf("second: %v", err)
	}
	close(s.block)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestClearDiscardsStreamingReply(t *testing.T) {
	local := store.NewMemory()
	s := &fakeStreamer{fragments: []string{"late"}, block: make(chan struct{})}
	c := New(s, Options{Store: local, StoreKey: "chat"})

	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "hello", nil)
		done <- err
	}()
	for !c.Busy() {
		time.Sleep(5 * time.Millisecond)
	}
	if err := c.Clear(context.Background()); err != nil {
		t.Fatal(err)
	}
	close(s.block)

	if err := <-done; !errors.Is(err, ErrCleared) {
		t.Fatalf("err = %v", err)
	}
	if len(c.Transcript()) != 0 {
		t.Fatalf("transcript = %+v", c.Transcript())
	}
	if _, err := local.Load(context.Background(), "chat"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("stored transcript survived clear: %v", err)
	}
}

func TestTruncateKeepsTail(t *testing.T) {
	msgs := make([]models.Message, 30)
	for i := range msgs {
		msgs[i].Content = string(rune('a' + i%26))
	}
	got := truncate(msgs, 5)
	if len(got) != 5 || got[4].Content != msgs[29].Content {
		t.Fatalf("got = %+v", got)
	}
}
