package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tripsync/models"
	"tripsync/utils"
)

// ItineraryStore is the backing record for itineraries and their collaborators.
type ItineraryStore struct {
	itineraries   *mongo.Collection
	collaborators *mongo.Collection
}

// NewItineraryStore uses the collections set by Connect.
func NewItineraryStore() *ItineraryStore {
	return &ItineraryStore{itineraries: ItineraryCollection, collaborators: CollaboratorsCollection}
}

var live = bson.M{"$ne": true}

func (s *ItineraryStore) Get(ctx context.Context, id string) (models.ItineraryRecord, error) {
	return s.findOne(ctx, bson.M{"itineraryid": id, "deleted": live})
}

func (s *ItineraryStore) GetByShareToken(ctx context.Context, token string) (models.ItineraryRecord, error) {
	if token == "" {
		return models.ItineraryRecord{}, ErrNotFound
	}
	return s.findOne(ctx, bson.M{"share_token": token, "deleted": live})
}

func (s *ItineraryStore) findOne(ctx context.Context, filter bson.M) (models.ItineraryRecord, error) {
	var rec models.ItineraryRecord
	err := s.itineraries.FindOne(ctx, filter).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return rec, ErrNotFound
	}
	return rec, err
}

// Insert stores a new row, assigning an id when rec has none.
func (s *ItineraryStore) Insert(ctx context.Context, rec models.ItineraryRecord) (models.ItineraryRecord, error) {
	if rec.ItineraryID == "" {
		rec.ItineraryID = utils.GenerateRandomString(13)
	}
	if rec.Document == nil {
		rec.Document = []models.ItineraryDay{}
	}
	rec.UpdatedAt = time.Now().UTC()
	rec.Deleted = false
	if _, err := s.itineraries.InsertOne(ctx, rec); err != nil {
		return models.ItineraryRecord{}, err
	}
	return rec, nil
}

// Update writes the document columns and returns the resulting row. Ownership
// and share columns are only changed through SetShare.
func (s *ItineraryStore) Update(ctx context.Context, rec models.ItineraryRecord) (models.ItineraryRecord, error) {
	if rec.Document == nil {
		rec.Document = []models.ItineraryDay{}
	}
	update := bson.M{"$set": bson.M{
		"destination":  rec.Destination,
		"start_date":   rec.StartDate,
		"end_date":     rec.EndDate,
		"itinerary":    rec.Document,
		"is_confirmed": rec.IsConfirmed,
		"updated_at":   time.Now().UTC(),
	}}
	return s.findOneAndUpdate(ctx, bson.M{"itineraryid": rec.ItineraryID, "deleted": live}, update)
}

// SetShare records the share token and visibility of a row.
func (s *ItineraryStore) SetShare(ctx context.Context, id, token string, public bool) (models.ItineraryRecord, error) {
	update := bson.M{"$set": bson.M{
		"share_token": token,
		"is_public":   public,
		"updated_at":  time.Now().UTC(),
	}}
	return s.findOneAndUpdate(ctx, bson.M{"itineraryid": id, "deleted": live}, update)
}

func (s *ItineraryStore) findOneAndUpdate(ctx context.Context, filter, update bson.M) (models.ItineraryRecord, error) {
	var rec models.ItineraryRecord
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := s.itineraries.FindOneAndUpdate(ctx, filter, update, opts).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return rec, ErrNotFound
	}
	return rec, err
}

// Delete soft-deletes a row.
func (s *ItineraryStore) Delete(ctx context.Context, id string) error {
	res, err := s.itineraries.UpdateOne(ctx,
		bson.M{"itineraryid": id, "deleted": live},
		bson.M{"$set": bson.M{"deleted": true, "updated_at": time.Now().UTC()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *ItineraryStore) ListCollaborators(ctx context.Context, itineraryID string) ([]models.Collaborator, error) {
	cursor, err := s.collaborators.Find(ctx, bson.M{"itineraryid": itineraryID})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := []models.Collaborator{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddCollaborator upserts by email or user id within one itinerary.
func (s *ItineraryStore) AddCollaborator(ctx context.Context, c models.Collaborator) (models.Collaborator, error) {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	filter := bson.M{"itineraryid": c.ItineraryID}
	if c.UserID != "" {
		filter["user_id"] = c.UserID
	} else {
		filter["email"] = c.Email
	}

	set := bson.M{"permission": c.Permission}
	if c.Email != "" {
		set["email"] = c.Email
	}
	if c.UserID != "" {
		set["user_id"] = c.UserID
	}
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"collaboratorid": utils.GetUUID()},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var out models.Collaborator
	err := s.collaborators.FindOneAndUpdate(ctx, filter, update, opts).Decode(&out)
	return out, err
}

func (s *ItineraryStore) RemoveCollaborator(ctx context.Context, itineraryID, collaboratorID string) error {
	res, err := s.collaborators.DeleteOne(ctx, bson.M{"itineraryid": itineraryID, "collaboratorid": collaboratorID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
