package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore(time.Hour)
	defer st.Close()

	_, err := st.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	fresh, err := GetOrNew(ctx, st, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", fresh.ID)

	updated, err := st.Update(ctx, "s1", func(s *Session) error {
		return s.AddRule("Be concise")
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Be concise"}, updated.Rules)

	got, err := st.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Be concise"}, got.Rules)

	got.Rules[0] = "mutated outside the store"
	again, err := st.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Be concise", again.Rules[0])

	require.NoError(t, st.Delete(ctx, "s1"))
	_, err = st.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreUpdateErrorDoesNotSave(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore(time.Hour)

	boom := errors.New("boom")
	_, err := st.Update(ctx, "s1", func(s *Session) error {
		s.SetModel("gpt4", "k")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = st.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore(0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := st.Update(ctx, "s1", func(s *Session) error {
				s.AppendHistory("q", Result{}, time.Unix(int64(i), 0))
				return nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := st.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, got.History, 50)
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore(20 * time.Millisecond)

	_, err := st.Update(ctx, "s1", func(s *Session) error { return nil })
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)
	_, err = st.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}
