// Package lifecycle sequences generation, manual editing, confirmation and
// sharing of one working itinerary. It is the only writer of the document.
package lifecycle

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"

	"tripsync/apperr"
	"tripsync/extract"
	"tripsync/itinerary"
	"tripsync/models"
	"tripsync/store"
	"tripsync/utils"
)

type Phase int

const (
	Empty Phase = iota
	Generating
	Populated
	EditMode
	Confirmed
)

func (p Phase) String() string {
	switch p {
	case Generating:
		return "generating"
	case Populated:
		return "populated"
	case EditMode:
		return "edit_mode"
	case Confirmed:
		return "confirmed"
	}
	return "empty"
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

type Mode string

const (
	ModeFull    Mode = "full"
	ModeImprove Mode = "improve"
)

var (
	ErrConfirmed  = errors.New("lifecycle: itinerary is confirmed")
	ErrNotEditing = errors.New("lifecycle: edit mode is off")
	ErrGenerating = errors.New("lifecycle: generation already running")
	ErrEmpty      = errors.New("lifecycle: no itinerary yet")
)

// default times for generated items that carry none
var slots = []string{"09:00", "11:30", "14:00", "16:30", "19:00"}

// Syncer is the part of a sync session the controller drives.
type Syncer interface {
	Schedule(doc models.Itinerary)
	PushNow(ctx context.Context, doc models.Itinerary) (models.ItineraryRecord, error)
	Close()
}

type SyncOptions struct {
	ItineraryID string
	Permission  models.Permission
	OnRemote    func(models.Itinerary)
	OnPushed    func(models.ItineraryRecord)
	OnError     func(*apperr.Error)
}

type SyncerFactory func(SyncOptions) (Syncer, error)

// ShareRepository flips share state on an already persisted record.
type ShareRepository interface {
	SetShare(ctx context.Context, id, token string, public bool) (models.ItineraryRecord, error)
}

type Options struct {
	Extract   extract.Options
	Now       func() time.Time
	NewSyncer SyncerFactory
	Shares    ShareRepository
	ShareBase string

	// Store holds the local copy under StoreKey; nil disables it.
	Store    store.Store
	StoreKey string

	// OnChange is told about documents replaced by a collaborator.
	OnChange func(models.Itinerary)

	// Access re-resolves the caller's role on a persisted plan when its local
	// copy is restored. Nil trusts the role saved with the copy. A plan the
	// caller can no longer read resolves to PermissionNone.
	Access func(ctx context.Context, itineraryID string) (models.Permission, error)
}

// localCopy is what the Store keeps: the document and the role it was opened with.
type localCopy struct {
	Itinerary  models.Itinerary  `json:"itinerary"`
	Permission models.Permission `json:"permission"`
}

// Status is a consistent snapshot of the controller.
type Status struct {
	Phase      Phase             `json:"phase"`
	Itinerary  models.Itinerary  `json:"itinerary"`
	Permission models.Permission `json:"permission"`
	Error      *apperr.Error     `json:"error,omitempty"`
}

type Controller struct {
	opts Options

	// serializes operations; hooks from the sync session never take it
	opMu sync.Mutex

	mu         sync.Mutex
	phase      Phase
	doc        models.Itinerary
	permission models.Permission
	syncer     Syncer
	lastErr    *apperr.Error

	shares singleflight.Group
}

func New(opts Options) (*Controller, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewSyncer == nil {
		return nil, errors.New("lifecycle: a syncer factory is required")
	}
	c := &Controller{opts: opts, permission: models.PermissionOwner}
	s, err := c.openSyncer("", models.PermissionOwner)
	if err != nil {
		return nil, err
	}
	c.syncer = s
	return c, nil
}

func (c *Controller) openSyncer(id string, perm models.Permission) (Syncer, error) {
	return c.opts.NewSyncer(SyncOptions{
		ItineraryID: id,
		Permission:  perm,
		OnRemote:    c.applyRemote,
		OnPushed:    c.pushed,
		OnError:     c.syncFailed,
	})
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{Phase: c.phase, Itinerary: c.doc.Clone(), Permission: c.permission, Error: c.lastErr}
}

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Controller) Itinerary() models.Itinerary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doc.Clone()
}

// Facts previews what generation would extract from transcript.
func (c *Controller) Facts(transcript []models.Message) models.TripFacts {
	return c.opts.Extract.Extract(transcript, c.opts.Now())
}

// Generate builds the itinerary from the transcript. Full mode replaces the
// document; improve mode only adds to it and keeps every existing item as is.
func (c *Controller) Generate(ctx context.Context, transcript []models.Message, mode Mode) (models.Itinerary, error) {
	if mode != ModeImprove {
		mode = ModeFull
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	switch c.phase {
	case Confirmed:
		c.mu.Unlock()
		return models.Itinerary{}, ErrConfirmed
	case Generating:
		c.mu.Unlock()
		return models.Itinerary{}, ErrGenerating
	}
	prev := c.phase
	current := c.doc.Clone()
	c.phase = Generating
	c.mu.Unlock()

	facts := c.Facts(transcript)
	acts := extract.Activities(transcript)
	if len(acts) == 0 {
		err := apperr.NoData("No activities were found in the conversation yet. Ask for some suggestions first.")
		c.mu.Lock()
		c.phase = prev
		c.lastErr = err
		c.mu.Unlock()
		return models.Itinerary{}, err
	}

	var next models.Itinerary
	if mode == ModeImprove && len(current.Days) > 0 {
		next = improve(current, facts, acts)
	} else {
		next = build(facts, acts)
		next.ID = current.ID
		next.UserID = current.UserID
		next.ShareToken = current.ShareToken
		next.IsPublic = current.IsPublic
		next.ShareURL = current.ShareURL
	}
	log.Printf("[Lifecycle] %s generation: %d candidates over %d days for %s",
		mode, len(acts), len(next.Days), next.Destination)

	c.mu.Lock()
	c.doc = next
	c.phase = Populated
	c.lastErr = nil
	c.mu.Unlock()

	c.commit(ctx, next)
	return next.Clone(), nil
}

// build lays out a fresh plan: tagged candidates go on their day, the rest are
// spread evenly in order.
func build(facts models.TripFacts, acts []models.ParsedActivity) models.Itinerary {
	start := dateOnly(facts.StartDate)
	days := itinerary.NewDays(start, facts.DayCount)

	var untagged []models.ParsedActivity
	for _, act := range acts {
		if act.Day > 0 {
			idx := lo.Clamp(act.Day-1, 0, len(days)-1)
			days[idx].Items = append(days[idx].Items, itinerary.ActivityToItem(act))
			continue
		}
		untagged = append(untagged, act)
	}
	if len(untagged) > 0 {
		per := (len(untagged) + len(days) - 1) / len(days)
		for i, chunk := range lo.Chunk(untagged, per) {
			days[i].Items = append(days[i].Items, lo.Map(chunk, func(a models.ParsedActivity, _ int) models.ItineraryItem {
				return itinerary.ActivityToItem(a)
			})...)
		}
	}

	for i := range days {
		n := 0
		for j := range days[i].Items {
			if days[i].Items[j].Time == "" {
				days[i].Items[j].Time = slots[n%len(slots)]
				n++
			}
		}
		days[i] = itinerary.SortDay(days[i])
	}

	return models.Itinerary{
		Destination: facts.Destination,
		StartDate:   start.Format(models.DateLayout),
		EndDate:     dateOnly(facts.EndDate).Format(models.DateLayout),
		Days:        days,
	}
}

// improve adds candidates whose titles are not in the plan yet. Missing days are
// appended. A tagged candidate keeps its day only while that day started out
// empty; everything else goes to the empty days first.
func improve(current models.Itinerary, facts models.TripFacts, acts []models.ParsedActivity) models.Itinerary {
	out := current.Clone()
	if out.Destination == "" {
		out.Destination = facts.Destination
	}
	start := out.Start()
	if start.IsZero() {
		start = dateOnly(facts.StartDate)
		out.StartDate = start.Format(models.DateLayout)
	}
	for len(out.Days) < facts.DayCount {
		out.Days = append(out.Days, itinerary.NewDay(start, len(out.Days)))
	}
	if last := out.Days[len(out.Days)-1].Date; last > out.EndDate {
		out.EndDate = last
	}

	seen := map[string]bool{}
	for _, d := range out.Days {
		for _, item := range d.Items {
			seen[titleKey(item.Title)] = true
		}
	}
	fresh := lo.Filter(acts, func(a models.ParsedActivity, _ int) bool {
		key := titleKey(a.Title)
		if seen[key] {
			return false
		}
		seen[key] = true
		return true
	})

	empty := lo.Filter(lo.Range(len(out.Days)), func(i int, _ int) bool { return len(out.Days[i].Items) == 0 })
	wasEmpty := lo.SliceToMap(empty, func(i int) (int, bool) { return i, true })
	targets := lo.Ternary(len(empty) > 0, empty, lo.Range(len(out.Days)))
	n := 0
	for _, act := range fresh {
		var idx int
		if tagged := lo.Clamp(act.Day-1, 0, len(out.Days)-1); act.Day > 0 && wasEmpty[tagged] {
			idx = tagged
		} else {
			idx = targets[n%len(targets)]
			n++
		}
		item := itinerary.ActivityToItem(act)
		if item.Time == "" {
			item.Time = slots[len(out.Days[idx].Items)%len(slots)]
		}
		out.Days[idx].Items = insertByTime(out.Days[idx].Items, item)
	}
	return out
}

// insertByTime places item before the first timed item that starts later,
// leaving the existing order untouched.
func insertByTime(items []models.ItineraryItem, item models.ItineraryItem) []models.ItineraryItem {
	at := len(items)
	for i, existing := range items {
		if existing.Time != "" && existing.Time > item.Time {
			at = i
			break
		}
	}
	out := make([]models.ItineraryItem, 0, len(items)+1)
	out = append(out, items[:at]...)
	out = append(out, item)
	return append(out, items[at:]...)
}

func titleKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// AddActivity adds one suggestion from the chat. An empty controller first gets
// a skeleton plan derived from the transcript.
func (c *Controller) AddActivity(ctx context.Context, transcript []models.Message, act models.ParsedActivity) (models.Itinerary, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.phase == Confirmed {
		c.mu.Unlock()
		return models.Itinerary{}, ErrConfirmed
	}
	doc := c.doc.Clone()
	c.mu.Unlock()

	now := c.opts.Now()
	if len(doc.Days) == 0 {
		facts := c.Facts(transcript)
		start := dateOnly(facts.StartDate)
		doc.Destination = facts.Destination
		doc.StartDate = start.Format(models.DateLayout)
		doc.EndDate = dateOnly(facts.EndDate).Format(models.DateLayout)
		doc.Days = itinerary.NewDays(start, facts.DayCount)
	}

	item := itinerary.ActivityToItem(act)
	next, idx := itinerary.AddItem(doc, item, itinerary.AddOptions{Day: act.Day, Today: now, FromAI: true})
	if added := &next.Days[idx].Items[len(next.Days[idx].Items)-1]; added.Time == "" {
		added.Time = slots[(len(next.Days[idx].Items)-1)%len(slots)]
	}

	c.mu.Lock()
	c.doc = next
	if c.phase == Empty {
		c.phase = Populated
	}
	c.mu.Unlock()

	c.commit(ctx, next)
	return next.Clone(), nil
}

func (c *Controller) EnterEditMode() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.phase {
	case Confirmed:
		return ErrConfirmed
	case Empty:
		return ErrEmpty
	case Generating:
		return ErrGenerating
	}
	c.phase = EditMode
	return nil
}

func (c *Controller) ExitEditMode() {
	c.mu.Lock()
	if c.phase == EditMode {
		c.phase = Populated
	}
	c.mu.Unlock()
}

func (c *Controller) UpdateItem(ctx context.Context, day, item int, patch itinerary.ItemPatch) (models.Itinerary, error) {
	return c.edit(ctx, func(doc models.Itinerary) (models.Itinerary, error) {
		return itinerary.UpdateItem(doc, day, item, patch)
	})
}

func (c *Controller) RemoveItem(ctx context.Context, day, item int) (models.Itinerary, error) {
	return c.edit(ctx, func(doc models.Itinerary) (models.Itinerary, error) {
		return itinerary.RemoveItem(doc, day, item)
	})
}

func (c *Controller) ReorderItems(ctx context.Context, day int, order []int) (models.Itinerary, error) {
	return c.edit(ctx, func(doc models.Itinerary) (models.Itinerary, error) {
		return itinerary.ReorderItems(doc, day, order)
	})
}

func (c *Controller) edit(ctx context.Context, apply func(models.Itinerary) (models.Itinerary, error)) (models.Itinerary, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.phase != EditMode {
		c.mu.Unlock()
		return models.Itinerary{}, ErrNotEditing
	}
	doc := c.doc.Clone()
	c.mu.Unlock()

	next, err := apply(doc)
	if err != nil {
		return models.Itinerary{}, err
	}

	c.mu.Lock()
	c.doc = next
	c.mu.Unlock()

	c.commit(ctx, next)
	return next.Clone(), nil
}

// Confirm locks the plan and writes it immediately. The lock is undone when the
// write fails.
func (c *Controller) Confirm(ctx context.Context) (models.Itinerary, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	switch c.phase {
	case Empty:
		c.mu.Unlock()
		return models.Itinerary{}, ErrEmpty
	case Generating:
		c.mu.Unlock()
		return models.Itinerary{}, ErrGenerating
	case Confirmed:
		doc := c.doc.Clone()
		c.mu.Unlock()
		return doc, nil
	}
	prev := c.phase
	c.doc.IsConfirmed = true
	c.phase = Confirmed
	doc := c.doc.Clone()
	s := c.syncer
	c.mu.Unlock()

	if _, err := s.PushNow(ctx, doc); err != nil {
		ae := apperr.Classify(err)
		c.mu.Lock()
		c.doc.IsConfirmed = false
		c.phase = prev
		if ae.Kind != apperr.KindPermission {
			c.lastErr = ae
		}
		c.mu.Unlock()
		return models.Itinerary{}, ae
	}

	c.mu.Lock()
	c.lastErr = nil
	doc = c.doc.Clone()
	c.mu.Unlock()
	c.persist(ctx, doc)
	return doc, nil
}

func (c *Controller) Unconfirm(ctx context.Context) (models.Itinerary, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.phase != Confirmed {
		doc := c.doc.Clone()
		c.mu.Unlock()
		return doc, nil
	}
	c.doc.IsConfirmed = false
	c.phase = Populated
	doc := c.doc.Clone()
	c.mu.Unlock()

	c.commit(ctx, doc)
	return doc, nil
}

// GenerateShareLink returns the public URL of the plan, minting a token and
// persisting it on first use. Concurrent callers share one write.
func (c *Controller) GenerateShareLink(ctx context.Context) (string, error) {
	v, err, _ := c.shares.Do("share", func() (any, error) {
		return c.share(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Controller) share(ctx context.Context) (string, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.doc.ShareToken != "" {
		url := models.ShareURL(c.opts.ShareBase, c.doc.ShareToken)
		c.mu.Unlock()
		return url, nil
	}
	if c.phase == Empty {
		c.mu.Unlock()
		return "", ErrEmpty
	}
	if perm := c.permission; !perm.CanWrite() {
		id := c.doc.ID
		c.mu.Unlock()
		log.Printf("[Lifecycle] share link for %s refused: permission %q", id, perm)
		return "", apperr.Permission("Only the owner or an editor can share this itinerary.")
	}
	token := utils.GenerateShareToken()
	id := c.doc.ID
	s := c.syncer
	c.mu.Unlock()

	if id == "" || c.opts.Shares == nil {
		c.mu.Lock()
		c.doc.ShareToken = token
		c.doc.IsPublic = true
		doc := c.doc.Clone()
		c.mu.Unlock()

		if _, err := s.PushNow(ctx, doc); err != nil {
			c.mu.Lock()
			if c.doc.ShareToken == token {
				c.doc.ShareToken = ""
				c.doc.IsPublic = false
			}
			c.mu.Unlock()
			return "", c.fail(err)
		}
	} else {
		if _, err := c.opts.Shares.SetShare(ctx, id, token, true); err != nil {
			return "", c.fail(err)
		}
		c.mu.Lock()
		c.doc.ShareToken = token
		c.doc.IsPublic = true
		c.mu.Unlock()
	}

	url := models.ShareURL(c.opts.ShareBase, token)
	c.mu.Lock()
	c.doc.ShareURL = url
	doc := c.doc.Clone()
	c.mu.Unlock()
	c.persist(ctx, doc)
	return url, nil
}

// Open switches the controller to an already persisted itinerary.
func (c *Controller) Open(ctx context.Context, doc models.Itinerary, perm models.Permission) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	s, err := c.openSyncer(doc.ID, perm)
	if err != nil {
		return c.fail(err)
	}

	c.mu.Lock()
	old := c.syncer
	c.syncer = s
	c.doc = doc.Clone()
	c.permission = perm
	c.phase = phaseOf(doc)
	c.lastErr = nil
	c.mu.Unlock()

	old.Close()
	c.persist(ctx, doc)
	return nil
}

// Restore reloads the local copy, if any, and resumes syncing it. A persisted
// plan is reopened with the caller's current role, never a wider one.
func (c *Controller) Restore(ctx context.Context) error {
	if c.opts.Store == nil {
		return nil
	}
	var local localCopy
	err := store.LoadJSON(ctx, c.opts.Store, c.opts.StoreKey, &local)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	doc := local.Itinerary
	if doc.ID == "" {
		c.mu.Lock()
		c.doc = doc
		c.phase = phaseOf(doc)
		c.mu.Unlock()
		return nil
	}

	perm := local.Permission
	if c.opts.Access != nil {
		resolved, err := c.opts.Access(ctx, doc.ID)
		if err != nil {
			log.Printf("[Lifecycle] re-resolve role on %s: %v; keeping %q", doc.ID, err, perm)
		} else {
			perm = resolved
		}
	}
	if !perm.CanRead() {
		log.Printf("[Lifecycle] dropping local copy of %s: no access", doc.ID)
		if err := c.opts.Store.Clear(ctx, c.opts.StoreKey); err != nil {
			log.Printf("[Lifecycle] clear local copy %s: %v", c.opts.StoreKey, err)
		}
		return nil
	}
	return c.Open(ctx, doc, perm)
}

// Clear drops the plan and its local copy. The backing record is kept.
func (c *Controller) Clear(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	s, err := c.openSyncer("", models.PermissionOwner)
	if err != nil {
		return c.fail(err)
	}

	c.mu.Lock()
	old := c.syncer
	c.syncer = s
	c.doc = models.Itinerary{}
	c.phase = Empty
	c.permission = models.PermissionOwner
	c.lastErr = nil
	c.mu.Unlock()

	old.Close()
	if c.opts.Store != nil {
		if err := c.opts.Store.Clear(ctx, c.opts.StoreKey); err != nil {
			log.Printf("[Lifecycle] clear local copy %s: %v", c.opts.StoreKey, err)
		}
	}
	return nil
}

// Close stops syncing without flushing a pending push.
func (c *Controller) Close() {
	c.mu.Lock()
	s := c.syncer
	c.mu.Unlock()
	s.Close()
}

func (c *Controller) commit(ctx context.Context, doc models.Itinerary) {
	c.mu.Lock()
	s := c.syncer
	c.mu.Unlock()
	s.Schedule(doc)
	c.persist(ctx, doc)
}

func (c *Controller) persist(ctx context.Context, doc models.Itinerary) {
	if c.opts.Store == nil {
		return
	}
	c.mu.Lock()
	local := localCopy{Itinerary: doc, Permission: c.permission}
	c.mu.Unlock()
	if err := store.SaveJSON(ctx, c.opts.Store, c.opts.StoreKey, local); err != nil {
		log.Printf("[Lifecycle] save local copy %s: %v", c.opts.StoreKey, err)
	}
}

// fail classifies err and remembers it unless it is a silent permission drop.
func (c *Controller) fail(err error) *apperr.Error {
	ae := apperr.Classify(err)
	if ae.Kind != apperr.KindPermission {
		c.mu.Lock()
		c.lastErr = ae
		c.mu.Unlock()
	}
	return ae
}

func (c *Controller) applyRemote(doc models.Itinerary) {
	c.mu.Lock()
	c.doc = doc.Clone()
	if c.doc.ShareURL == "" && c.doc.ShareToken != "" {
		c.doc.ShareURL = models.ShareURL(c.opts.ShareBase, c.doc.ShareToken)
	}
	switch {
	case doc.IsConfirmed:
		c.phase = Confirmed
	case c.phase == Confirmed || c.phase == Empty:
		c.phase = phaseOf(doc)
	}
	next := c.doc.Clone()
	c.mu.Unlock()

	log.Printf("[Lifecycle] itinerary %s replaced by a remote change", doc.ID)
	if c.opts.OnChange != nil {
		c.opts.OnChange(next)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.persist(ctx, next)
}

func (c *Controller) pushed(row models.ItineraryRecord) {
	c.mu.Lock()
	if c.doc.ID != "" {
		c.mu.Unlock()
		return
	}
	c.doc.ID = row.ItineraryID
	c.doc.UserID = row.UserID
	doc := c.doc.Clone()
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.persist(ctx, doc)
}

func (c *Controller) syncFailed(e *apperr.Error) {
	c.mu.Lock()
	c.lastErr = e
	c.mu.Unlock()
}

func phaseOf(doc models.Itinerary) Phase {
	switch {
	case doc.IsConfirmed:
		return Confirmed
	case len(doc.Days) > 0:
		return Populated
	}
	return Empty
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
