package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/momento/internal/store"
	"github.com/suPer8Hu/momento/internal/store/storetest"
)

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s := New()
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestClosedStoreRejectsCalls(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())

	_, err := s.Get(context.Background(), "a")
	assert.ErrorIs(t, err, store.ErrClosed)
	assert.ErrorIs(t, s.Set(context.Background(), "a", 1), store.ErrClosed)
	_, err = s.Subscribe(context.Background(), "a", func(store.Snapshot) {})
	assert.ErrorIs(t, err, store.ErrClosed)
}

func TestUnchangedTransactionDoesNotNotify(t *testing.T) {
	s := New()
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "users/u1", map[string]int{"promptCount": 1}))

	got := make(chan store.Snapshot, 8)
	sub, err := s.Subscribe(ctx, "users/u1", func(snap store.Snapshot) { got <- snap })
	require.NoError(t, err)
	defer sub.Unsubscribe()
	<-got

	_, err = s.Transaction(ctx, "users/u1", func(cur store.Snapshot) (any, error) { return cur.Raw, nil })
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, "users/u1", map[string]int{"promptCount": 2}))

	snap := <-got
	assert.JSONEq(t, `{"promptCount":2}`, string(snap.Raw))
}
