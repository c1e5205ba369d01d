// Package redisstore keeps the shared store in Redis: one string key per leaf
// record and a pub/sub channel per path for change notifications.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/suPer8Hu/momento/internal/store"
)

const maxTxRetries = 16

type Store struct {
	rdb    *redis.Client
	prefix string
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

func New(rdb *redis.Client, prefix string, logger *zap.Logger) *Store {
	if prefix == "" {
		prefix = "momento"
	}
	return &Store{rdb: rdb, prefix: prefix, logger: logger.Named("redisstore")}
}

func (s *Store) key(p string) string     { return s.prefix + ":data:" + p }
func (s *Store) channel(p string) string { return s.prefix + ":changes:" + p }

func (s *Store) Get(ctx context.Context, path string) (store.Snapshot, error) {
	p, err := store.CleanPath(path)
	if err != nil {
		return store.Snapshot{}, err
	}
	return s.read(ctx, s.rdb, p)
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

	desc, err := s.descendantKeys(ctx, s.rdb, p)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.queueWrite(ctx, pipe, p, raw, desc)
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(ctx, p)
	return nil
}

// Transaction uses WATCH on the record key and retries on conflicts.
func (s *Store) Transaction(ctx context.Context, path string, fn store.UpdateFn) (store.Snapshot, error) {
	p, err := store.CleanPath(path)
	if err != nil {
		return store.Snapshot{}, err
	}
	k := s.key(p)

	var (
		out     store.Snapshot
		written bool
	)
	txf := func(tx *redis.Tx) error {
		written = false
		cur, err := s.read(ctx, tx, p)
		if err != nil {
			return err
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}
		raw, err := store.Encode(next)
		if err != nil {
			return err
		}
		if string(raw) == string(cur.Raw) {
			out = cur
			return nil
		}
		desc, err := s.descendantKeys(ctx, tx, p)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.queueWrite(ctx, pipe, p, raw, desc)
			return nil
		})
		if err != nil {
			return err
		}
		out = store.Snapshot{Path: p, Raw: raw}
		written = true
		return nil
	}

	for i := 0; i < maxTxRetries; i++ {
		err = s.rdb.Watch(ctx, txf, k)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return store.Snapshot{}, err
		}
		if written {
			s.publish(ctx, p)
		}
		return out, nil
	}
	return store.Snapshot{}, fmt.Errorf("redisstore: transaction on %s: too much contention", p)
}

func (s *Store) Remove(ctx context.Context, path string) error {
	return s.Set(ctx, path, nil)
}

// Subscribe listens on the channels of path and of its ancestors (a write to
// an ancestor replaces the subtree) and on the pattern of its descendants.
// Every notification triggers a fresh read.
func (s *Store) Subscribe(ctx context.Context, path string, fn func(store.Snapshot)) (store.Subscription, error) {
	p, err := store.CleanPath(path)
	if err != nil {
		return nil, err
	}

	channels := []string{s.channel(p)}
	for _, a := range store.Ancestors(p) {
		channels = append(channels, s.channel(a))
	}
	ps := s.rdb.Subscribe(ctx, channels...)
	if err := ps.PSubscribe(ctx, s.channel(p)+"/*"); err != nil {
		_ = ps.Close()
		return nil, err
	}
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redisstore: subscribe %s: %w", p, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{ps: ps, cancel: cancel}

	go func() {
		deliver := func() {
			snap, err := s.read(subCtx, s.rdb, p)
			if err != nil {
				if subCtx.Err() == nil {
					s.logger.Warn("read after change failed", zap.String("path", p), zap.Error(err))
				}
				return
			}
			if subCtx.Err() == nil {
				fn(snap)
			}
		}

		deliver()
		msgs := ps.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				deliver()
			}
		}
	}()
	return sub, nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

type cmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

func (s *Store) read(ctx context.Context, c cmdable, p string) (store.Snapshot, error) {
	v, err := c.Get(ctx, s.key(p)).Bytes()
	if err == nil {
		return store.Snapshot{Path: p, Raw: json.RawMessage(v)}, nil
	}
	if !errors.Is(err, redis.Nil) {
		return store.Snapshot{}, err
	}

	keys, err := s.descendantKeys(ctx, c, p)
	if err != nil || len(keys) == 0 {
		return store.Snapshot{Path: p}, err
	}
	vals, err := c.MGet(ctx, keys...).Result()
	if err != nil {
		return store.Snapshot{}, err
	}
	leaves := make(map[string]json.RawMessage, len(keys))
	for i, k := range keys {
		sv, ok := vals[i].(string)
		if !ok {
			continue // deleted between SCAN and MGET
		}
		leaves[strings.TrimPrefix(k, s.key(""))] = json.RawMessage(sv)
	}
	raw, err := store.AssembleTree(p, leaves)
	if err != nil {
		return store.Snapshot{}, err
	}
	return store.Snapshot{Path: p, Raw: raw}, nil
}

func (s *Store) descendantKeys(ctx context.Context, c cmdable, p string) ([]string, error) {
	var (
		out    []string
		cursor uint64
	)
	match := escapeGlob(s.key(p)+"/") + "*"
	for {
		keys, next, err := c.Scan(ctx, cursor, match, 256).Result()
		if err != nil {
			return nil, err
		}
		out = append(out, keys...)
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

func (s *Store) queueWrite(ctx context.Context, pipe redis.Pipeliner, p string, raw json.RawMessage, desc []string) {
	if len(desc) > 0 {
		pipe.Del(ctx, desc...)
	}
	if raw == nil {
		pipe.Del(ctx, s.key(p))
		return
	}
	pipe.Set(ctx, s.key(p), []byte(raw), 0)
}

func (s *Store) publish(ctx context.Context, p string) {
	if err := s.rdb.Publish(ctx, s.channel(p), "changed").Err(); err != nil {
		s.logger.Warn("publish change failed", zap.String("path", p), zap.Error(err))
	}
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}

type subscription struct {
	ps     *redis.PubSub
	cancel context.CancelFunc
	once   sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		_ = s.ps.Close()
	})
}
