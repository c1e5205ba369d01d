package chat

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/suPer8Hu/momento/internal/store"
)

// StatusSource tells the coordinator whether the worker pool is down.
type StatusSource interface {
	Down() bool
}

// IsDown reports whether a serverstatus value means the worker pool cannot
// take prompts. "offline" and "error" are written by older workers.
func IsDown(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "down", "offline", "error":
		return true
	}
	return false
}

// ServerMonitor keeps the latest serverstatus record.
type ServerMonitor struct {
	repo   *Repo
	logger *zap.Logger

	mu     sync.RWMutex
	status ServerStatus
	known  bool
	sub    store.Subscription
	notify []func(ServerStatus)
}

var _ StatusSource = (*ServerMonitor)(nil)

func NewServerMonitor(repo *Repo, logger *zap.Logger) *ServerMonitor {
	return &ServerMonitor{repo: repo, logger: logger.Named("serverstatus")}
}

// OnChange registers fn for every status change. Register before Start.
func (m *ServerMonitor) OnChange(fn func(ServerStatus)) {
	m.mu.Lock()
	m.notify = append(m.notify, fn)
	m.mu.Unlock()
}

func (m *ServerMonitor) Start(ctx context.Context) error {
	sub, err := m.repo.WatchServerStatus(ctx, m.apply)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.sub = sub
	m.mu.Unlock()
	return nil
}

func (m *ServerMonitor) Stop() {
	m.mu.Lock()
	sub := m.sub
	m.sub = nil
	m.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

func (m *ServerMonitor) apply(snap store.Snapshot) {
	var st ServerStatus
	if snap.Exists() {
		if err := snap.Decode(&st); err != nil {
			m.logger.Warn("bad serverstatus record", zap.Error(err))
			return
		}
	}

	m.mu.Lock()
	prevDown := m.known && IsDown(m.status.Status)
	m.status, m.known = st, snap.Exists()
	notify := append([]func(ServerStatus){}, m.notify...)
	m.mu.Unlock()

	if down := IsDown(st.Status); down != prevDown {
		m.logger.Info("worker pool status changed", zap.String("status", st.Status), zap.String("message", st.Message))
	}
	for _, fn := range notify {
		fn(st)
	}
}

// Status returns the last record seen; ok is false when none exists.
func (m *ServerMonitor) Status() (ServerStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.known
}

// Down is false while the status is unknown.
func (m *ServerMonitor) Down() bool {
	st, ok := m.Status()
	return ok && IsDown(st.Status)
}
