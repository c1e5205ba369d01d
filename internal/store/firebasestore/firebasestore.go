// Package firebasestore backs the shared store with a Firebase Realtime
// Database through the Admin SDK.
package firebasestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/suPer8Hu/momento/internal/store"
)

type Store struct {
	client       *db.Client
	pollInterval time.Duration
	logger       *zap.Logger
}

var _ store.Store = (*Store)(nil)

// NewApp initialises the Admin SDK app. credentialsFile may be empty, in
// which case application default credentials are used.
func NewApp(ctx context.Context, databaseURL, credentialsFile string) (*firebase.App, error) {
	conf := &firebase.Config{DatabaseURL: databaseURL}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebasestore: init app: %w", err)
	}
	return app, nil
}

func New(ctx context.Context, app *firebase.App, databaseURL string, pollInterval time.Duration, logger *zap.Logger) (*Store, error) {
	client, err := app.DatabaseWithURL(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("firebasestore: database client: %w", err)
	}
	return &Store{client: client, pollInterval: pollInterval, logger: logger.Named("firebasestore")}, nil
}

func (s *Store) Get(ctx context.Context, path string) (store.Snapshot, error) {
	p, err := store.CleanPath(path)
	if err != nil {
		return store.Snapshot{}, err
	}
	var raw json.RawMessage
	if err := s.client.NewRef(p).Get(ctx, &raw); err != nil {
		return store.Snapshot{}, err
	}
	return store.Snapshot{Path: p, Raw: store.Normalize(raw)}, nil
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
	ref := s.client.NewRef(p)
	if raw == nil {
		return ref.Delete(ctx)
	}
	return ref.Set(ctx, raw)
}

// Transaction runs fn inside the database's optimistic transaction loop; fn
// may be invoked several times.
func (s *Store) Transaction(ctx context.Context, path string, fn store.UpdateFn) (store.Snapshot, error) {
	p, err := store.CleanPath(path)
	if err != nil {
		return store.Snapshot{}, err
	}

	node, err := s.client.NewRef(p).Transaction(ctx, func(tn db.TransactionNode) (interface{}, error) {
		var cur json.RawMessage
		if err := tn.Unmarshal(&cur); err != nil {
			return nil, err
		}
		next, err := fn(store.Snapshot{Path: p, Raw: store.Normalize(cur)})
		if err != nil {
			return nil, err
		}
		raw, err := store.Encode(next)
		if err != nil {
			return nil, err
		}
		if raw == nil {
			return nil, nil
		}
		return raw, nil
	})
	if err != nil {
		return store.Snapshot{}, err
	}

	var out json.RawMessage
	if err := node.Unmarshal(&out); err != nil {
		return store.Snapshot{}, err
	}
	return store.Snapshot{Path: p, Raw: store.Normalize(out)}, nil
}

func (s *Store) Remove(ctx context.Context, path string) error {
	p, err := store.CleanPath(path)
	if err != nil {
		return err
	}
	return s.client.NewRef(p).Delete(ctx)
}

// Subscribe polls with conditional reads; the Admin SDK has no listeners.
func (s *Store) Subscribe(ctx context.Context, path string, fn func(store.Snapshot)) (store.Subscription, error) {
	p, err := store.CleanPath(path)
	if err != nil {
		return nil, err
	}
	ref := s.client.NewRef(p)
	fetch := func(ctx context.Context, etag string) (store.Snapshot, string, bool, error) {
		var raw json.RawMessage
		if etag == "" {
			tag, err := ref.GetWithETag(ctx, &raw)
			if err != nil {
				return store.Snapshot{}, "", false, err
			}
			return store.Snapshot{Path: p, Raw: store.Normalize(raw)}, tag, true, nil
		}
		changed, tag, err := ref.GetIfChanged(ctx, etag, &raw)
		if err != nil {
			return store.Snapshot{}, "", false, err
		}
		return store.Snapshot{Path: p, Raw: store.Normalize(raw)}, tag, changed, nil
	}
	return store.Poll(p, s.pollInterval, fetch, fn, s.logger), nil
}

func (s *Store) Close() error { return nil }
