// Package mq fans itinerary row changes out to every subscriber of that itinerary.
package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"

	"tripsync/db"
	"tripsync/models"
)

// Publisher announces a row image after it was written.
type Publisher interface {
	Publish(ctx context.Context, rec models.ItineraryRecord) error
}

func channelName(itineraryID string) string {
	return "itinerary:" + itineraryID
}

// RedisChannel carries row changes over Redis pub/sub so that sessions on other
// nodes see them too.
type RedisChannel struct {
	conn *redis.Client

	mu   sync.Mutex
	subs map[*redis.PubSub]struct{}
}

func NewRedisChannel(conn *redis.Client) *RedisChannel {
	return &RedisChannel{conn: conn, subs: map[*redis.PubSub]struct{}{}}
}

func (c *RedisChannel) Publish(ctx context.Context, rec models.ItineraryRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal row %s: %w", rec.ItineraryID, err)
	}
	if err := c.conn.Publish(ctx, channelName(rec.ItineraryID), data).Err(); err != nil {
		log.Printf("[Emit] Failed to publish %s: %v", rec.ItineraryID, err)
		return err
	}
	return nil
}

// Subscribe returns once Redis confirmed the subscription. fn runs on the
// subscription's own goroutine, one message at a time.
func (c *RedisChannel) Subscribe(itineraryID string, fn func(models.ItineraryRecord)) (func(), error) {
	ctx := context.Background()
	sub := c.conn.Subscribe(ctx, channelName(itineraryID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", itineraryID, err)
	}

	c.mu.Lock()
	c.subs[sub] = struct{}{}
	c.mu.Unlock()

	go func() {
		for msg := range sub.Channel() {
			var rec models.ItineraryRecord
			if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
				log.Printf("[Subscriber] Failed to parse row for %s: %v", itineraryID, err)
				continue
			}
			fn(rec)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, sub)
			c.mu.Unlock()
			if err := sub.Close(); err != nil {
				log.Printf("[Subscriber] close %s: %v", itineraryID, err)
			}
		})
	}, nil
}

// Close releases every open subscription.
func (c *RedisChannel) Close() {
	c.mu.Lock()
	subs := c.subs
	c.subs = map[*redis.PubSub]struct{}{}
	c.mu.Unlock()
	for sub := range subs {
		_ = sub.Close()
	}
}

// Notifier publishes the stored row after every successful row write.
type Notifier struct {
	db.Repository
	pub Publisher
}

func NewNotifier(repo db.Repository, pub Publisher) *Notifier {
	return &Notifier{Repository: repo, pub: pub}
}

func (n *Notifier) Insert(ctx context.Context, rec models.ItineraryRecord) (models.ItineraryRecord, error) {
	return n.emit(ctx)(n.Repository.Insert(ctx, rec))
}

func (n *Notifier) Update(ctx context.Context, rec models.ItineraryRecord) (models.ItineraryRecord, error) {
	return n.emit(ctx)(n.Repository.Update(ctx, rec))
}

func (n *Notifier) SetShare(ctx context.Context, id, token string, public bool) (models.ItineraryRecord, error) {
	return n.emit(ctx)(n.Repository.SetShare(ctx, id, token, public))
}

// emit publishes a successful write. A failed publish is logged; the write
// itself already happened.
func (n *Notifier) emit(ctx context.Context) func(models.ItineraryRecord, error) (models.ItineraryRecord, error) {
	return func(row models.ItineraryRecord, err error) (models.ItineraryRecord, error) {
		if err != nil {
			return row, err
		}
		if perr := n.pub.Publish(ctx, row); perr != nil {
			log.Printf("[Emit] row %s written but not announced: %v", row.ItineraryID, perr)
		}
		return row, nil
	}
}
