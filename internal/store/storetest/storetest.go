// Package storetest holds the behaviour every store backend must share.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/momento/internal/store"
)

// Factory returns a fresh, empty store. Cleanup is the caller's business.
type Factory func(t *testing.T) store.Store

const wait = 3 * time.Second

// Run exercises a backend against the store contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		snap, err := s.Get(context.Background(), "prompts/nope")
		require.NoError(t, err)
		assert.False(t, snap.Exists())
		assert.Equal(t, "prompts/nope", snap.Path)
	})

	t.Run("set and get", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "/users/u1/", map[string]any{"promptCount": 2}))

		snap, err := s.Get(ctx, "users/u1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"promptCount":2}`, string(snap.Raw))
	})

	t.Run("empty values remove", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "a/b", 1))
		require.NoError(t, s.Set(ctx, "a/b", map[string]any{}))

		snap, err := s.Get(ctx, "a/b")
		require.NoError(t, err)
		assert.False(t, snap.Exists())
	})

	t.Run("interior paths assemble children", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "results/q1", map[string]any{"content": "hi"}))
		require.NoError(t, s.Set(ctx, "results/q2", map[string]any{"content": "yo"}))

		snap, err := s.Get(ctx, "results")
		require.NoError(t, err)
		assert.JSONEq(t, `{"q1":{"content":"hi"},"q2":{"content":"yo"}}`, string(snap.Raw))

		require.NoError(t, s.Remove(ctx, "results"))
		snap, err = s.Get(ctx, "results/q1")
		require.NoError(t, err)
		assert.False(t, snap.Exists())
	})

	t.Run("invalid path", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), "a/../b")
		assert.ErrorIs(t, err, store.ErrInvalidPath)
		assert.ErrorIs(t, s.Set(context.Background(), "", 1), store.ErrInvalidPath)
	})

	t.Run("transaction create if absent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		create := func(v string) store.UpdateFn {
			return func(cur store.Snapshot) (any, error) {
				if cur.Exists() {
					return cur.Raw, nil
				}
				return map[string]string{"prompt": v}, nil
			}
		}

		snap, err := s.Transaction(ctx, "prompts/q1", create("first"))
		require.NoError(t, err)
		assert.JSONEq(t, `{"prompt":"first"}`, string(snap.Raw))

		snap, err = s.Transaction(ctx, "prompts/q1", create("second"))
		require.NoError(t, err)
		assert.JSONEq(t, `{"prompt":"first"}`, string(snap.Raw))
	})

	t.Run("transaction abort", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		boom := errors.New("boom")
		_, err := s.Transaction(ctx, "prompts/q1", func(store.Snapshot) (any, error) {
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)

		snap, err := s.Get(ctx, "prompts/q1")
		require.NoError(t, err)
		assert.False(t, snap.Exists())
	})

	t.Run("subscribe delivers current then changes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Set(ctx, "promptcondition/q1", map[string]any{"status": "queued"}))

		got := make(chan store.Snapshot, 16)
		sub, err := s.Subscribe(ctx, "promptcondition/q1", func(snap store.Snapshot) { got <- snap })
		require.NoError(t, err)
		defer sub.Unsubscribe()

		assert.Equal(t, "queued", statusOf(t, next(t, got)))

		require.NoError(t, s.Set(ctx, "promptcondition/q1", map[string]any{"status": "processing"}))
		assert.Equal(t, "processing", statusOf(t, next(t, got)))

		require.NoError(t, s.Remove(ctx, "promptcondition/q1"))
		assert.False(t, next(t, got).Exists())
	})

	t.Run("subscribe sees descendant writes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		got := make(chan store.Snapshot, 16)
		sub, err := s.Subscribe(ctx, "results", func(snap store.Snapshot) { got <- snap })
		require.NoError(t, err)
		defer sub.Unsubscribe()
		assert.False(t, next(t, got).Exists())

		require.NoError(t, s.Set(ctx, "results/q9", map[string]any{"content": "x"}))
		assert.JSONEq(t, `{"q9":{"content":"x"}}`, string(next(t, got).Raw))
	})

	t.Run("unsubscribe from callback", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var sub store.Subscription
		ready := make(chan struct{})
		calls := make(chan struct{}, 16)
		sub, err := s.Subscribe(ctx, "serverstatus", func(store.Snapshot) {
			<-ready
			sub.Unsubscribe()
			calls <- struct{}{}
		})
		require.NoError(t, err)
		close(ready)

		select {
		case <-calls:
		case <-time.After(wait):
			t.Fatal("no initial delivery")
		}
		sub.Unsubscribe()

		require.NoError(t, s.Set(ctx, "serverstatus", map[string]any{"status": "Down"}))
		select {
		case <-calls:
			t.Fatal("delivery after unsubscribe")
		case <-time.After(200 * time.Millisecond):
		}
	})
}

func next(t *testing.T, ch <-chan store.Snapshot) store.Snapshot {
	t.Helper()
	select {
	case snap := <-ch:
		return snap
	case <-time.After(wait):
		t.Fatal("timed out waiting for a snapshot")
		return store.Snapshot{}
	}
}

func statusOf(t *testing.T, snap store.Snapshot) string {
	t.Helper()
	var v struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(snap.Raw, &v))
	return v.Status
}
