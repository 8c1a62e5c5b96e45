// Package store keeps the local copy of a planning session (transcript and
// working itinerary) behind a small load/save/clear interface.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrNotFound = errors.New("store: not found")

// Store is a flat key/value space. Save replaces the value; Clear on a missing
// key is not an error.
type Store interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Clear(ctx context.Context, key string) error
}

// LoadJSON decodes the value at key into v. It returns ErrNotFound untouched so
// callers can treat a fresh session as empty.
func LoadJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := s.Load(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("store: decode %s: %w", key, err)
	}
	return nil
}

func SaveJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", key, err)
	}
	return s.Save(ctx, key, data)
}

// Key joins the parts of a session key, e.g. Key("plan", userID, "chat").
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}
