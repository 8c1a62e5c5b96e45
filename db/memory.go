package db

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tripsync/models"
)

// MemoryStore mirrors ItineraryStore in process.
type MemoryStore struct {
	mu            sync.Mutex
	rows          map[string]models.ItineraryRecord
	collaborators map[string][]models.Collaborator
	writes        int
	failWrites    error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:          map[string]models.ItineraryRecord{},
		collaborators: map[string][]models.Collaborator{},
	}
}

func (m *MemoryStore) Get(_ context.Context, id string) (models.ItineraryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	if !ok || rec.Deleted {
		return models.ItineraryRecord{}, ErrNotFound
	}
	return copyRecord(rec), nil
}

func (m *MemoryStore) GetByShareToken(_ context.Context, token string) (models.ItineraryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.rows {
		if token != "" && rec.ShareToken == token && !rec.Deleted {
			return copyRecord(rec), nil
		}
	}
	return models.ItineraryRecord{}, ErrNotFound
}

func (m *MemoryStore) Insert(_ context.Context, rec models.ItineraryRecord) (models.ItineraryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return models.ItineraryRecord{}, m.failWrites
	}
	if rec.ItineraryID == "" {
		rec.ItineraryID = uuid.NewString()
	}
	if rec.Document == nil {
		rec.Document = []models.ItineraryDay{}
	}
	rec.UpdatedAt = time.Now().UTC()
	m.rows[rec.ItineraryID] = copyRecord(rec)
	m.writes++
	return copyRecord(rec), nil
}

func (m *MemoryStore) Update(_ context.Context, rec models.ItineraryRecord) (models.ItineraryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return models.ItineraryRecord{}, m.failWrites
	}
	cur, ok := m.rows[rec.ItineraryID]
	if !ok || cur.Deleted {
		return models.ItineraryRecord{}, ErrNotFound
	}
	cur.Destination = rec.Destination
	cur.StartDate = rec.StartDate
	cur.EndDate = rec.EndDate
	cur.Document = rec.Document
	if cur.Document == nil {
		cur.Document = []models.ItineraryDay{}
	}
	cur.IsConfirmed = rec.IsConfirmed
	cur.UpdatedAt = time.Now().UTC()
	m.rows[rec.ItineraryID] = copyRecord(cur)
	m.writes++
	return copyRecord(cur), nil
}

func (m *MemoryStore) SetShare(_ context.Context, id, token string, public bool) (models.ItineraryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrites != nil {
		return models.ItineraryRecord{}, m.failWrites
	}
	cur, ok := m.rows[id]
	if !ok || cur.Deleted {
		return models.ItineraryRecord{}, ErrNotFound
	}
	cur.ShareToken = token
	cur.IsPublic = public
	cur.UpdatedAt = time.Now().UTC()
	m.rows[id] = cur
	m.writes++
	return copyRecord(cur), nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[id]
	if !ok || cur.Deleted {
		return ErrNotFound
	}
	cur.Deleted = true
	m.rows[id] = cur
	m.writes++
	return nil
}

func (m *MemoryStore) ListCollaborators(_ context.Context, itineraryID string) ([]models.Collaborator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Collaborator{}, m.collaborators[itineraryID]...), nil
}

func (m *MemoryStore) AddCollaborator(_ context.Context, c models.Collaborator) (models.Collaborator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	list := m.collaborators[c.ItineraryID]
	for i, existing := range list {
		if (c.UserID != "" && existing.UserID == c.UserID) || (c.UserID == "" && existing.Email == c.Email) {
			c.ID = existing.ID
			list[i] = c
			return c, nil
		}
	}
	c.ID = uuid.NewString()
	m.collaborators[c.ItineraryID] = append(list, c)
	return c, nil
}

func (m *MemoryStore) RemoveCollaborator(_ context.Context, itineraryID, collaboratorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.collaborators[itineraryID]
	for i, c := range list {
		if c.ID == collaboratorID {
			m.collaborators[itineraryID] = append(list[:i:i], list[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// WriteCount is the number of row writes so far.
func (m *MemoryStore) WriteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// FailWrites makes every later row write return err until called with nil.
func (m *MemoryStore) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites = err
}

func copyRecord(rec models.ItineraryRecord) models.ItineraryRecord {
	doc := models.Itinerary{Days: rec.Document}.Clone()
	rec.Document = doc.Days
	return rec
}
