// Package memstore is an in-process store backend. It is used by tests and
// by single-process development setups (serve --embedded-worker).
package memstore

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/suPer8Hu/momento/internal/store"
)

type Store struct {
	mu     sync.Mutex
	leaves map[string]json.RawMessage
	subs   map[*subscription]struct{}
	closed bool
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		leaves: make(map[string]json.RawMessage),
		subs:   make(map[*subscription]struct{}),
	}
}

func (s *Store) Get(ctx context.Context, path string) (store.Snapshot, error) {
	p, err := store.CleanPath(path)
	if err != nil {
		return store.Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.Snapshot{}, store.ErrClosed
	}
	return s.readLocked(p)
}

func (s *Store) Set(ctx context.Context, path string, value any) error {
	p, err := store.CleanPath(path)
	if err != nil {
		return err
	}
	raw, err := store.Encode(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return store.ErrClosed
	}
	s.writeLocked(p, raw)
	s.notifyLocked(p)
	s.mu.Unlock()
	return nil
}

func (s *Store) Transaction(ctx context.Context, path string, fn store.UpdateFn) (store.Snapshot, error) {
	p, err := store.CleanPath(path)
	if err != nil {
		return store.Snapshot{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.Snapshot{}, store.ErrClosed
	}

	cur, err := s.readLocked(p)
	if err != nil {
		return store.Snapshot{}, err
	}
	next, err := fn(cur)
	if err != nil {
		return store.Snapshot{}, err
	}
	raw, err := store.Encode(next)
	if err != nil {
		return store.Snapshot{}, err
	}
	if string(raw) == string(cur.Raw) {
		return cur, nil
	}
	s.writeLocked(p, raw)
	s.notifyLocked(p)
	return store.Snapshot{Path: p, Raw: raw}, nil
}

func (s *Store) Remove(ctx context.Context, path string) error {
	return s.Set(ctx, path, nil)
}

func (s *Store) Subscribe(ctx context.Context, path string, fn func(store.Snapshot)) (store.Subscription, error) {
	p, err := store.CleanPath(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.ErrClosed
	}

	sub := newSubscription(p, fn, func(sub *subscription) {
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
	})
	s.subs[sub] = struct{}{}

	cur, err := s.readLocked(p)
	if err != nil {
		return nil, err
	}
	sub.push(cur)
	return sub, nil
}

// Close stops every subscription. Further calls fail with store.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	subs := make([]*subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.closed = true
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	return nil
}

func (s *Store) readLocked(p string) (store.Snapshot, error) {
	if v, ok := s.leaves[p]; ok {
		return store.Snapshot{Path: p, Raw: v}, nil
	}
	prefix := p + "/"
	var desc map[string]json.RawMessage
	for k, v := range s.leaves {
		if strings.HasPrefix(k, prefix) {
			if desc == nil {
				desc = make(map[string]json.RawMessage)
			}
			desc[k] = v
		}
	}
	raw, err := store.AssembleTree(p, desc)
	if err != nil {
		return store.Snapshot{}, err
	}
	return store.Snapshot{Path: p, Raw: raw}, nil
}

// writeLocked replaces the subtree at p with raw (nil removes it).
func (s *Store) writeLocked(p string, raw json.RawMessage) {
	prefix := p + "/"
	for k := range s.leaves {
		if strings.HasPrefix(k, prefix) {
			delete(s.leaves, k)
		}
	}
	if raw == nil {
		delete(s.leaves, p)
		return
	}
	s.leaves[p] = raw
}

func (s *Store) notifyLocked(changed string) {
	for sub := range s.subs {
		if !store.Related(sub.path, changed) {
			continue
		}
		snap, err := s.readLocked(sub.path)
		if err != nil {
			continue
		}
		sub.push(snap)
	}
}
