// Package chat owns the planning transcript: it appends the user's message,
// streams the assistant reply into place and rolls back failed replies.
package chat

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"tripsync/apperr"
	"tripsync/models"
	"tripsync/store"
)

// DefaultHistory is how many trailing messages are sent upstream.
const DefaultHistory = 20

var (
	ErrBusy         = errors.New("chat: a reply is already streaming")
	ErrEmptyMessage = errors.New("chat: message is empty")
	ErrCleared      = errors.New("chat: conversation was cleared")
)

// Streamer produces an assistant reply, reporting every growth of it.
type Streamer interface {
	Stream(ctx context.Context, messages []models.Message, onUpdate func(string)) (string, error)
}

type Options struct {
	Store    store.Store
	StoreKey string
	History  int
}

type Conversation struct {
	streamer Streamer
	opts     Options

	mu        sync.Mutex
	messages  []models.Message
	streaming bool
	epoch     uint64
}

func New(streamer Streamer, opts Options) *Conversation {
	if opts.History <= 0 {
		opts.History = DefaultHistory
	}
	return &Conversation{streamer: streamer, opts: opts}
}

// Transcript returns a copy of the messages so far, including a reply that is
// still streaming.
func (c *Conversation) Transcript() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Message{}, c.messages...)
}

func (c *Conversation) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streaming
}

// Send appends text as a user message and streams the reply. On failure the
// assistant message is removed and the user message kept.
func (c *Conversation) Send(ctx context.Context, text string, onUpdate func(string)) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}

	c.mu.Lock()
	if c.streaming {
		c.mu.Unlock()
		return "", ErrBusy
	}
	c.messages = append(c.messages, models.Message{Role: models.RoleUser, Content: text})
	history := truncate(c.messages, c.opts.History)
	c.messages = append(c.messages, models.Message{Role: models.RoleAssistant})
	idx := len(c.messages) - 1
	epoch := c.epoch
	c.streaming = true
	c.mu.Unlock()

	reply, err := c.streamer.Stream(ctx, history, func(partial string) {
		c.mu.Lock()
		live := c.epoch == epoch
		if live {
			c.messages[idx].Content = partial
		}
		c.mu.Unlock()
		if live && onUpdate != nil {
			onUpdate(partial)
		}
	})
	if err == nil && strings.TrimSpace(reply) == "" {
		err = apperr.NoData("The assistant sent an empty reply. Please try again.")
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return "", ErrCleared
	}
	c.streaming = false
	if err != nil {
		c.messages = c.messages[:idx]
	} else {
		c.messages[idx].Content = reply
	}
	snapshot := append([]models.Message{}, c.messages...)
	c.mu.Unlock()

	c.persist(ctx, snapshot)
	if err != nil {
		log.Printf("[Chat] reply failed: %v", err)
		return "", apperr.Classify(err)
	}
	return reply, nil
}

// Clear forgets the transcript. A reply still streaming is discarded.
func (c *Conversation) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.epoch++
	c.messages = nil
	c.streaming = false
	c.mu.Unlock()

	if c.opts.Store == nil {
		return nil
	}
	return c.opts.Store.Clear(ctx, c.opts.StoreKey)
}

// Restore loads the persisted transcript, if any.
func (c *Conversation) Restore(ctx context.Context) error {
	if c.opts.Store == nil {
		return nil
	}
	var msgs []models.Message
	err := store.LoadJSON(ctx, c.opts.Store, c.opts.StoreKey, &msgs)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	c.mu.Lock()
	if !c.streaming {
		c.messages = msgs
	}
	c.mu.Unlock()
	return nil
}

func (c *Conversation) persist(ctx context.Context, msgs []models.Message) {
	if c.opts.Store == nil {
		return
	}
	if err := store.SaveJSON(context.WithoutCancel(ctx), c.opts.Store, c.opts.StoreKey, msgs); err != nil {
		log.Printf("[Chat] save transcript %s: %v", c.opts.StoreKey, err)
	}
}

func truncate(msgs []models.Message, max int) []models.Message {
	if len(msgs) > max {
		msgs = msgs[len(msgs)-max:]
	}
	return append([]models.Message{}, msgs...)
}
