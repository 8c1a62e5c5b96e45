package syncer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tripsync/apperr"
	"tripsync/db"
	"tripsync/models"
)

type fakeChannel struct {
	mu   sync.Mutex
	subs map[string]map[int]func(models.ItineraryRecord)
	next int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{subs: map[string]map[int]func(models.ItineraryRecord){}}
}

func (f *fakeChannel) Subscribe(id string, fn func(models.ItineraryRecord)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs[id] == nil {
		f.subs[id] = map[int]func(models.ItineraryRecord){}
	}
	f.next++
	key := f.next
	f.subs[id][key] = fn
	return func() {
		f.mu.Lock()
		delete(f.subs[id], key)
		f.mu.Unlock()
	}, nil
}

func (f *fakeChannel) deliver(rec models.ItineraryRecord) {
	f.mu.Lock()
	var fns []func(models.ItineraryRecord)
	for _, fn := range f.subs[rec.ItineraryID] {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(rec)
	}
}

func (f *fakeChannel) subscribers(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[id])
}

// echoRepo publishes every stored row, the way the realtime backend reflects writes.
type echoRepo struct {
	*db.MemoryStore
	ch *fakeChannel
}

func (e echoRepo) Insert(ctx context.Context, rec models.ItineraryRecord) (models.ItineraryRecord, error) {
	row, err := e.MemoryStore.Insert(ctx, rec)
	if err == nil {
		e.ch.deliver(row)
	}
	return row, err
}

func (e echoRepo) Update(ctx context.Context, rec models.ItineraryRecord) (models.ItineraryRecord, error) {
	row, err := e.MemoryStore.Update(ctx, rec)
	if err == nil {
		e.ch.deliver(row)
	}
	return row, err
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func seed(t *testing.T, store *db.MemoryStore) models.Itinerary {
	t.Helper()
	row, err := store.Insert(context.Background(), models.ItineraryRecord{
		Destination: "Tulum",
		StartDate:   "2026-10-15",
		EndDate:     "2026-10-17",
		UserID:      "owner",
		Document: []models.ItineraryDay{
			{Date: "2026-10-15", Title: "Day 1", Items: []models.ItineraryItem{{ID: "i1", Time: "09:00", Title: "Cenote swim"}}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	return models.FromRecord(row, "")
}

func TestPushEchoDoesNotReconcile(t *testing.T) {
	store := db.NewMemoryStore()
	ch := newFakeChannel()
	doc := seed(t, store)

	var remote atomic.Int32
	s, err := NewSession(echoRepo{store, ch}, ch, Options{
		ItineraryID: doc.ID,
		Permission:  models.PermissionOwner,
		Debounce:    10 * time.Millisecond,
		OnRemote:    func(models.Itinerary) { remote.Add(1) },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	doc.Destination = "Bacalar"
	s.Schedule(doc)
	if s.State() != PendingPush {
		t.Fatalf("state = %v", s.State())
	}
	waitFor(t, "push", func() bool { return store.WriteCount() == 2 && s.State() == Idle })

	if remote.Load() != 0 {
		t.Fatalf("echo triggered %d reconciles", remote.Load())
	}
	if s.LastPushed() == "" {
		t.Fatal("last pushed fingerprint not recorded")
	}

	// a collaborator's write is not an echo
	other := models.ToRecord(doc)
	other.Destination = "Holbox"
	ch.deliver(other)
	if remote.Load() != 1 {
		t.Fatalf("remote change reconciles = %d, want 1", remote.Load())
	}
}

func TestReconcileReplacesDocument(t *testing.T) {
	store := db.NewMemoryStore()
	ch := newFakeChannel()
	doc := seed(t, store)

	got := make(chan models.Itinerary, 1)
	s, _ := NewSession(store, ch, Options{
		ItineraryID: doc.ID,
		Permission:  models.PermissionEditor,
		ShareBase:   "https://trips.example",
		OnRemote:    func(it models.Itinerary) { got <- it },
	})
	defer s.Close()

	row := models.ToRecord(doc)
	row.Document = nil
	row.ShareToken = "tok"
	ch.deliver(row)

	select {
	case it := <-got:
		if len(it.Days) != 0 || it.ShareURL != "https://trips.example/shared/tok" {
			t.Fatalf("reconciled = %+v", it)
		}
	case <-time.After(time.Second):
		t.Fatal("no reconcile")
	}
	if s.State() != Idle {
		t.Fatalf("state = %v", s.State())
	}
}

func TestViewerMutationDropped(t *testing.T) {
	store := db.NewMemoryStore()
	ch := newFakeChannel()
	doc := seed(t, store)

	s, _ := NewSession(store, ch, Options{
		ItineraryID: doc.ID,
		Permission:  models.PermissionViewer,
		Debounce:    5 * time.Millisecond,
	})
	defer s.Close()

	doc.Destination = "Nowhere"
	s.Schedule(doc)
	waitFor(t, "timer", func() bool { return s.State() == Idle })
	time.Sleep(20 * time.Millisecond)

	if store.WriteCount() != 1 {
		t.Fatalf("writes = %d, viewer change reached the store", store.WriteCount())
	}
	if s.LastPushed() != "" {
		t.Fatal("viewer change altered last pushed")
	}

	_, err := s.PushNow(context.Background(), doc)
	if !apperr.Is(err, apperr.KindPermission) {
		t.Fatalf("PushNow err = %v", err)
	}
	if store.WriteCount() != 1 {
		t.Fatal("PushNow wrote as viewer")
	}
}

func TestDebounceCoalesces(t *testing.T) {
	store := db.NewMemoryStore()
	doc := seed(t, store)

	s, _ := NewSession(store, nil, Options{
		ItineraryID: doc.ID,
		Permission:  models.PermissionOwner,
		Debounce:    30 * time.Millisecond,
	})
	defer s.Close()

	for _, dest := range []string{"A", "B", "C", "D", "Final"} {
		doc.Destination = dest
		s.Schedule(doc)
	}
	waitFor(t, "push", func() bool { return store.WriteCount() >= 2 })
	time.Sleep(60 * time.Millisecond)

	if store.WriteCount() != 2 {
		t.Fatalf("writes = %d, want a single coalesced push", store.WriteCount())
	}
	row, _ := store.Get(context.Background(), doc.ID)
	if row.Destination != "Final" {
		t.Fatalf("stored destination = %q", row.Destination)
	}
}

func TestPushFailureClearsLastPushed(t *testing.T) {
	store := db.NewMemoryStore()
	doc := seed(t, store)

	failures := make(chan *apperr.Error, 1)
	s, _ := NewSession(store, nil, Options{
		ItineraryID: doc.ID,
		Permission:  models.PermissionOwner,
		Debounce:    5 * time.Millisecond,
		OnError:     func(e *apperr.Error) { failures <- e },
	})
	defer s.Close()

	if _, err := s.PushNow(context.Background(), doc); err != nil {
		t.Fatal(err)
	}
	if s.LastPushed() == "" {
		t.Fatal("fingerprint missing after success")
	}

	store.FailWrites(errors.New("connection reset"))
	doc.Destination = "Retry me"
	s.Schedule(doc)

	select {
	case e := <-failures:
		if !e.Retryable {
			t.Fatalf("failure = %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("no failure reported")
	}
	if s.LastPushed() != "" {
		t.Fatal("last pushed not cleared after failure")
	}
	if s.State() != Idle {
		t.Fatalf("state = %v", s.State())
	}
}

func TestLazyInsert(t *testing.T) {
	store := db.NewMemoryStore()
	ch := newFakeChannel()

	pushed := make(chan models.ItineraryRecord, 2)
	s, _ := NewSession(echoRepo{store, ch}, ch, Options{
		OwnerID:    "u1",
		Permission: models.PermissionOwner,
		OnPushed:   func(r models.ItineraryRecord) { pushed <- r },
	})
	defer s.Close()

	doc := models.Itinerary{Destination: "Oaxaca", Days: []models.ItineraryDay{}}
	row, err := s.PushNow(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	if row.ItineraryID == "" || row.UserID != "u1" || s.ItineraryID() != row.ItineraryID {
		t.Fatalf("row = %+v session id = %q", row, s.ItineraryID())
	}
	if ch.subscribers(row.ItineraryID) != 1 {
		t.Fatal("session did not subscribe after insert")
	}
	<-pushed

	// a document still lacking the id updates the same row
	doc.Destination = "Oaxaca City"
	if _, err := s.PushNow(context.Background(), doc); err != nil {
		t.Fatal(err)
	}
	if store.WriteCount() != 2 {
		t.Fatalf("writes = %d", store.WriteCount())
	}
	got, _ := store.Get(context.Background(), row.ItineraryID)
	if got.Destination != "Oaxaca City" {
		t.Fatalf("stored = %+v", got)
	}
}

func TestCloseCancelsPendingPush(t *testing.T) {
	store := db.NewMemoryStore()
	ch := newFakeChannel()
	doc := seed(t, store)

	s, _ := NewSession(store, ch, Options{
		ItineraryID: doc.ID,
		Permission:  models.PermissionOwner,
		Debounce:    10 * time.Millisecond,
	})
	if ch.subscribers(doc.ID) != 1 {
		t.Fatal("not subscribed")
	}

	doc.Destination = "Lost"
	s.Schedule(doc)
	s.Close()
	s.Close()
	time.Sleep(40 * time.Millisecond)

	if store.WriteCount() != 1 {
		t.Fatal("closed session flushed its pending push")
	}
	if ch.subscribers(doc.ID) != 0 {
		t.Fatal("subscription leaked")
	}
	if _, err := s.PushNow(context.Background(), doc); !errors.Is(err, ErrClosed) {
		t.Fatalf("PushNow after close: %v", err)
	}
}

func TestRemoteIgnoredWhilePending(t *testing.T) {
	store := db.NewMemoryStore()
	ch := newFakeChannel()
	doc := seed(t, store)

	var remote atomic.Int32
	s, _ := NewSession(store, ch, Options{
		ItineraryID: doc.ID,
		Permission:  models.PermissionOwner,
		Debounce:    time.Hour,
		OnRemote:    func(models.Itinerary) { remote.Add(1) },
	})
	defer s.Close()

	local := doc
	local.Destination = "Mine"
	s.Schedule(local)

	other := models.ToRecord(doc)
	other.Destination = "Theirs"
	ch.deliver(other)

	if remote.Load() != 0 || s.State() != PendingPush {
		t.Fatalf("remote = %d state = %v", remote.Load(), s.State())
	}
}

func TestLateEchoDoesNotReconcile(t *testing.T) {
	store := db.NewMemoryStore()
	ch := newFakeChannel()
	doc := seed(t, store)

	var remote atomic.Int32
	s, _ := NewSession(store, ch, Options{
		ItineraryID: doc.ID,
		Permission:  models.PermissionOwner,
		OnRemote:    func(models.Itinerary) { remote.Add(1) },
	})
	defer s.Close()

	doc.Destination = "Bacalar"
	row, err := s.PushNow(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	if s.State() != Idle {
		t.Fatalf("state = %v", s.State())
	}

	// the notification for our own write lands after the push has settled
	ch.deliver(row)
	if remote.Load() != 0 {
		t.Fatalf("late echo triggered %d reconciles", remote.Load())
	}
	if s.State() != Idle {
		t.Fatalf("state after echo = %v", s.State())
	}
}

// racingRepo commits a collaborator's row right after ours and delivers it
// before the push returns.
type racingRepo struct {
	*db.MemoryStore
	ch     *fakeChannel
	offset time.Duration
}

func (r racingRepo) Update(ctx context.Context, rec models.ItineraryRecord) (models.ItineraryRecord, error) {
	row, err := r.MemoryStore.Update(ctx, rec)
	if err != nil {
		return row, err
	}
	theirs := row
	theirs.Destination = "Theirs"
	theirs.UpdatedAt = row.UpdatedAt.Add(r.offset)
	r.ch.deliver(theirs)
	return row, nil
}

func TestRemoteDuringPushReconciledAfter(t *testing.T) {
	store := db.NewMemoryStore()
	ch := newFakeChannel()
	doc := seed(t, store)

	got := make(chan models.Itinerary, 2)
	s, _ := NewSession(racingRepo{store, ch, time.Millisecond}, ch, Options{
		ItineraryID: doc.ID,
		Permission:  models.PermissionEditor,
		OnRemote:    func(it models.Itinerary) { got <- it },
	})
	defer s.Close()

	doc.Destination = "Mine"
	if _, err := s.PushNow(context.Background(), doc); err != nil {
		t.Fatal(err)
	}

	select {
	case it := <-got:
		if it.Destination != "Theirs" {
			t.Fatalf("reconciled = %+v", it)
		}
	default:
		t.Fatal("collaborator row delivered mid-push was dropped")
	}
	if len(got) != 0 {
		t.Fatal("reconciled more than once")
	}
	if s.State() != Idle {
		t.Fatalf("state = %v", s.State())
	}
}

func TestOlderRemoteDuringPushIgnored(t *testing.T) {
	store := db.NewMemoryStore()
	ch := newFakeChannel()
	doc := seed(t, store)

	var remote atomic.Int32
	s, _ := NewSession(racingRepo{store, ch, -time.Millisecond}, ch, Options{
		ItineraryID: doc.ID,
		Permission:  models.PermissionEditor,
		OnRemote:    func(models.Itinerary) { remote.Add(1) },
	})
	defer s.Close()

	doc.Destination = "Mine"
	if _, err := s.PushNow(context.Background(), doc); err != nil {
		t.Fatal(err)
	}
	if remote.Load() != 0 {
		t.Fatalf("row committed before ours reconciled %d times", remote.Load())
	}
	if s.State() != Idle {
		t.Fatalf("state = %v", s.State())
	}
}
