package db

import (
	"context"

	"tripsync/models"
)

// Repository is implemented by ItineraryStore and MemoryStore.
type Repository interface {
	Get(ctx context.Context, id string) (models.ItineraryRecord, error)
	GetByShareToken(ctx context.Context, token string) (models.ItineraryRecord, error)
	Insert(ctx context.Context, rec models.ItineraryRecord) (models.ItineraryRecord, error)
	Update(ctx context.Context, rec models.ItineraryRecord) (models.ItineraryRecord, error)
	SetShare(ctx context.Context, id, token string, public bool) (models.ItineraryRecord, error)
	Delete(ctx context.Context, id string) error

	ListCollaborators(ctx context.Context, itineraryID string) ([]models.Collaborator, error)
	AddCollaborator(ctx context.Context, c models.Collaborator) (models.Collaborator, error)
	RemoveCollaborator(ctx context.Context, itineraryID, collaboratorID string) error
}

var (
	_ Repository = (*ItineraryStore)(nil)
	_ Repository = (*MemoryStore)(nil)
)
