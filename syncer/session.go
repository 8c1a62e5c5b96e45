// Package syncer keeps one working itinerary consistent with its backing record.
//
// Local changes are debounced and pushed; remote row changes arrive through a
// Channel and replace the local document wholesale unless they are the echo of
// this session's own write.
package syncer

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"tripsync/apperr"
	"tripsync/models"
)

const (
	LocalDebounce  = time.Second
	CollabDebounce = 1500 * time.Millisecond
	pushTimeout    = 10 * time.Second
)

var ErrClosed = errors.New("syncer: session closed")

type State int

const (
	Idle State = iota
	PendingPush
	Pushing
	Reconciling
)

func (s State) String() string {
	switch s {
	case PendingPush:
		return "pending_push"
	case Pushing:
		return "pushing"
	case Reconciling:
		return "reconciling"
	}
	return "idle"
}

// Repository is the backing record as seen by a session.
type Repository interface {
	Insert(ctx context.Context, rec models.ItineraryRecord) (models.ItineraryRecord, error)
	Update(ctx context.Context, rec models.ItineraryRecord) (models.ItineraryRecord, error)
}

// Channel delivers "row updated" notifications for one itinerary id.
type Channel interface {
	Subscribe(itineraryID string, fn func(models.ItineraryRecord)) (unsubscribe func(), err error)
}

type Options struct {
	// ItineraryID of an already persisted plan; empty means insert on first push.
	ItineraryID string
	// OwnerID is written as the owner on insert.
	OwnerID    string
	Permission models.Permission
	Debounce   time.Duration
	ShareBase  string

	// OnRemote receives the remote document after a reconcile.
	OnRemote func(models.Itinerary)
	// OnPushed receives the stored row after every successful push.
	OnPushed func(models.ItineraryRecord)
	// OnError receives timer-driven push failures.
	OnError func(*apperr.Error)
}

// Session is the per-itinerary synchronization state machine. It is safe for
// concurrent use.
type Session struct {
	repo Repository
	ch   Channel
	opts Options

	mu          sync.Mutex
	state       State
	id          string
	permission  models.Permission
	pending     *models.Itinerary
	timer       *time.Timer
	gen         uint64
	lastPushed  string
	lastStored  string
	storedAt    time.Time
	// newest remote row seen while a push was in flight
	held        *models.ItineraryRecord
	unsubscribe func()
	closed      bool

	// one writer at a time
	pushMu sync.Mutex
}

// NewSession subscribes to the channel when the itinerary already has an id.
func NewSession(repo Repository, ch Channel, opts Options) (*Session, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = LocalDebounce
	}
	s := &Session{repo: repo, ch: ch, opts: opts, permission: opts.Permission}
	if opts.ItineraryID != "" {
		if err := s.attach(opts.ItineraryID); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Session) attach(id string) error {
	s.mu.Lock()
	if s.id == id && s.unsubscribe != nil {
		s.mu.Unlock()
		return nil
	}
	s.id = id
	s.mu.Unlock()

	if s.ch == nil {
		return nil
	}
	unsub, err := s.ch.Subscribe(id, s.HandleRemote)
	if err != nil {
		return apperr.Network("Live updates are unavailable right now.", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		unsub()
		return ErrClosed
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.unsubscribe = unsub
	return nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) ItineraryID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// LastPushed is the fingerprint recorded before the most recent push, or "".
func (s *Session) LastPushed() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPushed
}

func (s *Session) Permission() models.Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permission
}

func (s *Session) SetPermission(p models.Permission) {
	s.mu.Lock()
	s.permission = p
	s.mu.Unlock()
}

// Schedule records a local mutation. Only the latest document at timer expiry
// is pushed; a new call replaces the pending timer.
func (s *Session) Schedule(doc models.Itinerary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	next := doc.Clone()
	s.pending = &next
	s.gen++
	gen := s.gen
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.opts.Debounce, func() { s.fire(gen) })
	if s.state != Pushing {
		s.state = PendingPush
	}
}

func (s *Session) fire(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.gen || s.pending == nil {
		s.mu.Unlock()
		return
	}
	doc := *s.pending
	s.pending = nil
	s.timer = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()
	if _, err := s.push(ctx, doc); err != nil && !apperr.Is(err, apperr.KindPermission) {
		if s.opts.OnError != nil {
			s.opts.OnError(apperr.Classify(err))
		}
	}
}

// PushNow cancels any pending timer and writes doc immediately.
func (s *Session) PushNow(ctx context.Context, doc models.Itinerary) (models.ItineraryRecord, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return models.ItineraryRecord{}, ErrClosed
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	s.pending = nil
	s.mu.Unlock()

	return s.push(ctx, doc)
}

func (s *Session) push(ctx context.Context, doc models.Itinerary) (models.ItineraryRecord, error) {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()

	s.mu.Lock()
	if perm := s.permission; !perm.CanWrite() {
		s.state = s.settled()
		s.mu.Unlock()
		log.Printf("[Sync] dropped push for %q: permission %q", doc.ID, perm)
		return models.ItineraryRecord{}, apperr.Permission("You can only view this itinerary.")
	}
	s.state = Pushing
	rec := models.ToRecord(doc)
	if rec.ItineraryID == "" {
		rec.ItineraryID = s.id
	}
	if rec.UserID == "" {
		rec.UserID = s.opts.OwnerID
	}
	inserting := rec.ItineraryID == ""
	if !inserting {
		s.lastPushed = models.Fingerprint(rec)
	}
	s.mu.Unlock()

	var row models.ItineraryRecord
	var err error
	if inserting {
		row, err = s.repo.Insert(ctx, rec)
	} else {
		row, err = s.repo.Update(ctx, rec)
	}

	s.mu.Lock()
	if err != nil {
		s.lastPushed = ""
		s.lastStored = ""
		s.state = s.settled()
		late := s.takeHeld()
		s.mu.Unlock()
		log.Printf("[Sync] push %q failed: %v", rec.ItineraryID, err)
		if late != nil {
			s.reconcile(*late)
		}
		return models.ItineraryRecord{}, apperr.Classify(err)
	}
	s.lastStored = models.Fingerprint(row)
	if !row.UpdatedAt.IsZero() {
		s.storedAt = row.UpdatedAt
	}
	if inserting {
		s.lastPushed = s.lastStored
	}
	s.state = s.settled()
	late := s.takeHeld()
	s.mu.Unlock()

	if inserting {
		if err := s.attach(row.ItineraryID); err != nil && !errors.Is(err, ErrClosed) {
			log.Printf("[Sync] subscribe %s: %v", row.ItineraryID, err)
		}
	}
	if s.opts.OnPushed != nil {
		s.opts.OnPushed(row)
	}
	if late != nil {
		s.reconcile(*late)
	}
	return row, nil
}

// takeHeld returns the row held back during a push once it still differs from
// what was stored, and only when no newer local change is waiting. Callers hold mu.
func (s *Session) takeHeld() *models.ItineraryRecord {
	row := s.held
	s.held = nil
	if row == nil || s.state != Idle || s.stale(*row) {
		return nil
	}
	return row
}

// stale reports rows that are our own write or older than it. Callers hold mu.
func (s *Session) stale(row models.ItineraryRecord) bool {
	fp := models.Fingerprint(row)
	if fp == s.lastPushed || fp == s.lastStored {
		return true
	}
	return !row.UpdatedAt.IsZero() && row.UpdatedAt.Before(s.storedAt)
}

// settled is the state after a push or reconcile ends. Callers hold mu.
func (s *Session) settled() State {
	if s.pending != nil {
		return PendingPush
	}
	return Idle
}

// HandleRemote processes a row notification. The echo of this session's own
// write and rows older than it are dropped. A row arriving mid-push is held
// and reconciled once the push settles; anything else replaces the local
// document.
func (s *Session) HandleRemote(row models.ItineraryRecord) {
	s.mu.Lock()
	if s.closed || row.ItineraryID == "" || row.ItineraryID != s.id {
		s.mu.Unlock()
		return
	}
	if s.stale(row) {
		s.mu.Unlock()
		return
	}
	switch s.state {
	case PendingPush:
		// the local write still to come supersedes this row
		s.mu.Unlock()
		log.Printf("[Sync] remote change to %s ignored while %s", row.ItineraryID, PendingPush)
		return
	case Pushing:
		if s.held == nil || !row.UpdatedAt.Before(s.held.UpdatedAt) {
			held := row
			s.held = &held
		}
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.reconcile(row)
}

func (s *Session) reconcile(row models.ItineraryRecord) {
	s.mu.Lock()
	if s.closed || s.state == PendingPush || s.state == Pushing {
		s.mu.Unlock()
		return
	}
	s.state = Reconciling
	s.mu.Unlock()

	if s.opts.OnRemote != nil {
		s.opts.OnRemote(models.FromRecord(row, s.opts.ShareBase))
	}

	s.mu.Lock()
	if s.state == Reconciling {
		s.state = s.settled()
	}
	s.mu.Unlock()
}

// Close cancels any pending push without flushing it and releases the
// subscription. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	s.pending = nil
	s.held = nil
	s.state = Idle
	unsub := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}
