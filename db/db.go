package db

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrNotFound = errors.New("db: not found")

var (
	ItineraryCollection     *mongo.Collection
	CollaboratorsCollection *mongo.Collection
	Client                  *mongo.Client
)

// Connect opens the Mongo client, sets the collection handles and ensures the
// lookup indexes exist.
func Connect(ctx context.Context, uri, dbName string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("ping mongo: %w", err)
	}

	Client = client
	ItineraryCollection = client.Database(dbName).Collection("itinerary")
	CollaboratorsCollection = client.Database(dbName).Collection("itinerary_collaborators")

	createIndexes(ctx)
	log.Printf("[DB] connected to %s/%s", uri, dbName)
	return nil
}

func createIndexes(ctx context.Context) {
	_, err := ItineraryCollection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "itineraryid", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "share_token", Value: 1}}, Options: options.Index().SetSparse(true)},
	})
	if err != nil {
		log.Printf("[DB] itinerary indexes: %v", err)
	}
	_, err = CollaboratorsCollection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "itineraryid", Value: 1}},
	})
	if err != nil {
		log.Printf("[DB] collaborator indexes: %v", err)
	}
}

func Disconnect(ctx context.Context) {
	if Client == nil {
		return
	}
	if err := Client.Disconnect(ctx); err != nil {
		log.Printf("[DB] disconnect: %v", err)
	}
}
