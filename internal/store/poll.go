package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FetchFn reads path when its version differs from etag. changed is false
// when the value is known to be identical to the one etag identifies.
type FetchFn func(ctx context.Context, etag string) (snap Snapshot, newETag string, changed bool, err error)

type pollSubscription struct {
	cancel context.CancelFunc
	once   sync.Once
}

func (p *pollSubscription) Unsubscribe() {
	p.once.Do(p.cancel)
}

// Poll emulates a change subscription for backends that have no push
// channel. The first successful fetch is always delivered; later fetches are
// delivered only when they report a change. Fetch errors are logged and the
// loop keeps going.
func Poll(path string, interval time.Duration, fetch FetchFn, fn func(Snapshot), logger *zap.Logger) Subscription {
	if interval <= 0 {
		interval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	sub := &pollSubscription{cancel: cancel}

	go func() {
		var (
			etag      string
			delivered bool
		)
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			snap, next, changed, err := fetch(ctx, etag)
			switch {
			case ctx.Err() != nil:
				return
			case err != nil:
				logger.Warn("poll fetch failed", zap.String("path", path), zap.Error(err))
			case changed || !delivered:
				etag = next
				delivered = true
				fn(snap)
			}

			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
	}()

	return sub
}
