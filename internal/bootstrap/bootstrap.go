// Package bootstrap turns configuration into the process-wide dependencies
// shared by the commands.
package bootstrap

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/suPer8Hu/momento/internal/auth"
	"github.com/suPer8Hu/momento/internal/chat"
	"github.com/suPer8Hu/momento/internal/config"
	"github.com/suPer8Hu/momento/internal/store"
	"github.com/suPer8Hu/momento/internal/store/firebasestore"
	"github.com/suPer8Hu/momento/internal/store/memstore"
	"github.com/suPer8Hu/momento/internal/store/rabbitmq"
	"github.com/suPer8Hu/momento/internal/store/redisstore"
	"github.com/suPer8Hu/momento/internal/store/sqlstore"
)

// Firebase lazily builds the Admin SDK app shared by the firebase store and
// the firebase identity provider.
type Firebase struct {
	cfg config.Config
	app *firebase.App
}

func NewFirebase(cfg config.Config) *Firebase {
	return &Firebase{cfg: cfg}
}

func (f *Firebase) App(ctx context.Context) (*firebase.App, error) {
	if f.app != nil {
		return f.app, nil
	}
	if f.cfg.FirebaseDatabaseURL == "" {
		return nil, fmt.Errorf("FIREBASE_DATABASE_URL is required")
	}
	app, err := firebasestore.NewApp(ctx, f.cfg.FirebaseDatabaseURL, f.cfg.FirebaseCredentialsFile)
	if err != nil {
		return nil, err
	}
	f.app = app
	return app, nil
}

// OpenStore connects the shared store named by STORE_BACKEND.
func OpenStore(ctx context.Context, cfg config.Config, fb *Firebase, logger *zap.Logger) (store.Store, error) {
	switch cfg.StoreBackend {
	case "", "memory":
		logger.Warn("using in-memory store; state is lost on exit and not shared between processes")
		return memstore.New(), nil
	case "firebase":
		app, err := fb.App(ctx)
		if err != nil {
			return nil, err
		}
		return firebasestore.New(ctx, app, cfg.FirebaseDatabaseURL, cfg.StorePollInterval, logger)
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return redisstore.New(rdb, cfg.RedisKeyPrefix, logger), nil
	case "sqlite", "mysql":
		db, err := sqlstore.Open(cfg.StoreBackend, cfg.DBDSN)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", cfg.StoreBackend, err)
		}
		return sqlstore.New(db, cfg.StorePollInterval, logger)
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}

// IdentityProvider returns the provider named by AUTH_PROVIDER.
func IdentityProvider(ctx context.Context, cfg config.Config, fb *Firebase, logger *zap.Logger) (auth.Provider, error) {
	switch cfg.AuthProvider {
	case "", "dev":
		logger.Warn("using dev identity provider; credentials are self-signed")
		return auth.NewDevProvider(cfg.DevAuthSecret), nil
	case "firebase":
		app, err := fb.App(ctx)
		if err != nil {
			return nil, err
		}
		return auth.NewFirebaseProvider(ctx, app)
	default:
		return nil, fmt.Errorf("unknown AUTH_PROVIDER %q", cfg.AuthProvider)
	}
}

// Events returns the lifecycle event publisher, or nil when RABBIT_URL is
// unset. closeFn is always safe to call.
func Events(cfg config.Config, logger *zap.Logger) (pub chat.EventPublisher, closeFn func(), err error) {
	if cfg.RabbitURL == "" {
		return nil, func() {}, nil
	}
	p, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		return nil, func() {}, fmt.Errorf("rabbitmq: %w", err)
	}
	logger.Info("publishing lifecycle events", zap.String("queue", cfg.RabbitQueue))
	return p, func() {
		if err := p.Close(); err != nil {
			logger.Warn("close rabbitmq publisher", zap.Error(err))
		}
	}, nil
}

// ChatOptions maps configuration onto coordinator options.
func ChatOptions(cfg config.Config) chat.Options {
	return chat.Options{
		Quota:        chat.Quota{Limit: cfg.PromptQuota, Window: cfg.QuotaWindow},
		JobTimeout:   cfg.JobTimeout,
		DisplayGrace: cfg.DisplayGrace,
	}
}
