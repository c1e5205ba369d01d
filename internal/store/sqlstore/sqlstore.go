// Package sqlstore keeps the shared store in a single SQL table, one row per
// leaf record. It runs on MySQL in production and on SQLite for local use.
package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strconv"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/suPer8Hu/momento/internal/store"
)

type Node struct {
	Path      string    `gorm:"primaryKey;type:varchar(512)"`
	Parent    string    `gorm:"type:varchar(512);index;not null"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Node) TableName() string { return "store_nodes" }

type Store struct {
	db           *gorm.DB
	pollInterval time.Duration
	logger       *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects with the dialect named by driver ("mysql" or "sqlite").
func Open(driver, dsn string) (*gorm.DB, error) {
	switch driver {
	case "mysql":
		return gorm.Open(mysql.Open(dsn), &gorm.Config{})
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// sqlite allows one writer; a single connection avoids "database is locked"
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
}

// tableOptions makes MySQL compare paths byte-wise, so uids that differ
// only by case stay distinct and subtree range scans follow byte order.
// sqlite's default BINARY collation already does.
func tableOptions(dialect string) string {
	if dialect == "mysql" {
		return "CHARSET=utf8mb4 COLLATE=utf8mb4_bin"
	}
	return ""
}

// New migrates the node table and returns a store on db.
func New(db *gorm.DB, pollInterval time.Duration, logger *zap.Logger) (*Store, error) {
	if opts := tableOptions(db.Dialector.Name()); opts != "" {
		db = db.Set("gorm:table_options", opts)
	}
	if err := db.AutoMigrate(&Node{}); err != nil {
		return nil, fmt.Errorf("sqlstore: automigrate: %w", err)
	}
	return &Store{db: db, pollInterval: pollInterval, logger: logger.Named("sqlstore")}, nil
}

func (s *Store) Get(ctx context.Context, path string) (store.Snapshot, error) {
	p, err := store.CleanPath(path)
	if err != nil {
		return store.Snapshot{}, err
	}
	return read(s.db.WithContext(ctx), p)
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
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return write(tx, p, raw)
	})
}

func (s *Store) Transaction(ctx context.Context, path string, fn store.UpdateFn) (store.Snapshot, error) {
	p, err := store.CleanPath(path)
	if err != nil {
		return store.Snapshot{}, err
	}

	var out store.Snapshot
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tx.Dialector.Name() == "mysql" {
			// lock the row (or the gap) so concurrent transactions serialize
			var n Node
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("path = ?", p).
				Limit(1).
				Find(&n).Error
			if err != nil {
				return err
			}
		}

		cur, err := read(tx, p)
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
		if err := write(tx, p, raw); err != nil {
			return err
		}
		out = store.Snapshot{Path: p, Raw: raw}
		return nil
	})
	if err != nil {
		return store.Snapshot{}, err
	}
	return out, nil
}

func (s *Store) Remove(ctx context.Context, path string) error {
	return s.Set(ctx, path, nil)
}

// Subscribe polls the path; the etag is a hash of the assembled value.
func (s *Store) Subscribe(ctx context.Context, path string, fn func(store.Snapshot)) (store.Subscription, error) {
	p, err := store.CleanPath(path)
	if err != nil {
		return nil, err
	}
	fetch := func(ctx context.Context, etag string) (store.Snapshot, string, bool, error) {
		snap, err := read(s.db.WithContext(ctx), p)
		if err != nil {
			return store.Snapshot{}, "", false, err
		}
		tag := hashOf(snap.Raw)
		return snap, tag, tag != etag, nil
	}
	return store.Poll(p, s.pollInterval, fetch, fn, s.logger), nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func read(db *gorm.DB, p string) (store.Snapshot, error) {
	var found []Node
	if err := db.Where("path = ?", p).Limit(1).Find(&found).Error; err != nil {
		return store.Snapshot{}, err
	}
	if len(found) == 1 {
		return store.Snapshot{Path: p, Raw: json.RawMessage(found[0].Value)}, nil
	}

	var desc []Node
	if err := descendants(db, p).Find(&desc).Error; err != nil {
		return store.Snapshot{}, err
	}
	if len(desc) == 0 {
		return store.Snapshot{Path: p}, nil
	}
	leaves := make(map[string]json.RawMessage, len(desc))
	for _, d := range desc {
		leaves[d.Path] = json.RawMessage(d.Value)
	}
	raw, err := store.AssembleTree(p, leaves)
	if err != nil {
		return store.Snapshot{}, err
	}
	return store.Snapshot{Path: p, Raw: raw}, nil
}

func write(tx *gorm.DB, p string, raw json.RawMessage) error {
	if err := descendants(tx, p).Delete(&Node{}).Error; err != nil {
		return err
	}
	if raw == nil {
		return tx.Where("path = ?", p).Delete(&Node{}).Error
	}
	n := Node{Path: p, Parent: store.Parent(p), Value: string(raw)}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&n).Error
}

// descendants selects every row strictly below p. '0' sorts right after '/',
// so the range covers exactly the "p/" prefix without LIKE escaping.
func descendants(db *gorm.DB, p string) *gorm.DB {
	return db.Model(&Node{}).Where("path > ? AND path < ?", p+"/", p+"0")
}

func hashOf(raw json.RawMessage) string {
	if raw == nil {
		return "absent"
	}
	h := fnv.New64a()
	_, _ = h.Write(raw)
	return strconv.FormatUint(h.Sum64(), 16)
}
