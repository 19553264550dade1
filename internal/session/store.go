package session

import (
	"context"
	"errors"
)

// Store persists sessions. Implementations serialize Update per session ID so
// concurrent requests for one session cannot lose each other's writes.
type Store interface {
	// Get returns the session or ErrNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// Update loads the session (a fresh one when missing), applies fn and
	// saves the result atomically. An error from fn aborts without saving.
	// Optimistic backends may call fn more than once, so fn must only merge
	// already computed values into the session.
	Update(ctx context.Context, id string, fn func(*Session) error) (*Session, error)

	// Delete removes the session. Deleting a missing session is not an error.
	Delete(ctx context.Context, id string) error

	// Close releases the backend connection
	Close() error
}

// GetOrNew returns the stored session, or a fresh unsaved one.
func GetOrNew(ctx context.Context, st Store, id string) (*Session, error) {
	s, err := st.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return New(id), nil
	}
	return s, err
}
