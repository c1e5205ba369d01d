// Package session tracks signed-in browser sessions: the identity state
// machine of each one and the chat state the coordinator keeps for it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/suPer8Hu/momento/internal/auth"
	"github.com/suPer8Hu/momento/internal/chat"
	"github.com/suPer8Hu/momento/internal/common"
)

var ErrUnknownSession = errors.New("session: unknown session")

const MsgLoadFailed = "Failed to load user data"

// State is the identity state of a session. Loading is the part of being
// authenticated spent fetching, creating or resetting the user record.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateLoading         State = "loading"
	StateAuthenticated   State = "authenticated"
)

type Session struct {
	ID       string
	Identity auth.Identity
	Chat     *chat.Session

	mu         sync.Mutex
	state      State
	err        string
	initialQID string
	initialErr error
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err is the session-level error shown to the user, empty when none.
func (s *Session) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// InitialPrompt reports the outcome of the prompt submitted at sign-in.
func (s *Session) InitialPrompt() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialQID, s.initialErr
}

func (s *Session) set(state State, errMsg string) {
	s.mu.Lock()
	s.state, s.err = state, errMsg
	s.mu.Unlock()
}

// Change is passed to identity listeners on sign-in and sign-out.
type Change struct {
	SessionID string
	Identity  auth.Identity
	SignedIn  bool
}

type Manager struct {
	provider auth.Provider
	chat     *chat.Service
	logger   *zap.Logger
	newID    func() (string, error)

	mu        sync.RWMutex
	sessions  map[string]*Session
	listeners []func(Change)
}

func NewManager(provider auth.Provider, chatSvc *chat.Service, logger *zap.Logger) *Manager {
	return &Manager{
		provider: provider,
		chat:     chatSvc,
		logger:   logger.Named("session"),
		newID:    common.NewULID,
		sessions: make(map[string]*Session),
	}
}

// OnIdentityChange registers fn for every sign-in and sign-out. Listeners
// run synchronously on the caller's goroutine.
func (m *Manager) OnIdentityChange(fn func(Change)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

func (m *Manager) notify(c Change) {
	m.mu.RLock()
	ls := append([]func(Change){}, m.listeners...)
	m.mu.RUnlock()
	for _, fn := range ls {
		fn(c)
	}
}

// SignIn verifies credential, opens a session and loads the user record.
// A failed load still returns the session, authenticated but carrying
// MsgLoadFailed. initialPrompt, when set, is submitted once the record is
// ready.
func (m *Manager) SignIn(ctx context.Context, credential, initialPrompt string) (*Session, error) {
	id, err := m.provider.SignIn(ctx, credential)
	if err != nil {
		return nil, err
	}
	sid, err := m.newID()
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}

	sess := &Session{
		ID:       sid,
		Identity: id,
		Chat:     chat.NewSession(sid),
		state:    StateLoading,
	}
	m.mu.Lock()
	m.sessions[sid] = sess
	m.mu.Unlock()
	m.logger.Info("signed in", zap.String("uid", id.UID), zap.String("session_id", sid))
	m.notify(Change{SessionID: sid, Identity: id, SignedIn: true})

	if !m.load(ctx, sess) || initialPrompt == "" {
		return sess, nil
	}

	qid, err := m.chat.Submit(ctx, sess.Chat, initialPrompt)
	if err != nil {
		m.logger.Warn("initial prompt not submitted", zap.String("session_id", sid), zap.Error(err))
	}
	sess.mu.Lock()
	sess.initialQID, sess.initialErr = qid, err
	sess.mu.Unlock()
	return sess, nil
}

func (m *Manager) load(ctx context.Context, sess *Session) bool {
	sess.set(StateLoading, "")
	_, err := m.chat.LoadUser(ctx, sess.Chat, chat.Profile{
		UID:         sess.Identity.UID,
		Email:       sess.Identity.Email,
		DisplayName: sess.Identity.DisplayName,
		PhotoURL:    sess.Identity.PhotoURL,
	})
	if err != nil {
		m.logger.Error("load user data", zap.String("uid", sess.Identity.UID), zap.Error(err))
		sess.set(StateAuthenticated, MsgLoadFailed)
		return false
	}
	sess.set(StateAuthenticated, "")
	return true
}

// Reload fetches the user record again, e.g. after a failed load.
func (m *Manager) Reload(ctx context.Context, sid string) (*Session, error) {
	sess, err := m.Lookup(sid)
	if err != nil {
		return nil, err
	}
	m.load(ctx, sess)
	return sess, nil
}

func (m *Manager) Lookup(sid string) (*Session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[sid]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownSession
	}
	return sess, nil
}

// SignOut ends the session locally, then with the identity provider. The
// local teardown happens even when the provider call fails.
func (m *Manager) SignOut(ctx context.Context, sid string) error {
	m.mu.Lock()
	sess, ok := m.sessions[sid]
	delete(m.sessions, sid)
	m.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}

	m.chat.Close(sess.Chat)
	sess.set(StateUnauthenticated, "")
	m.notify(Change{SessionID: sid, Identity: sess.Identity, SignedIn: false})
	m.logger.Info("signed out", zap.String("uid", sess.Identity.UID), zap.String("session_id", sid))

	if err := m.provider.SignOut(ctx, sess.Identity.UID); err != nil {
		return fmt.Errorf("provider sign-out: %w", err)
	}
	return nil
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close tears down every session without contacting the provider.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, sess := range sessions {
		m.chat.Close(sess.Chat)
		sess.set(StateUnauthenticated, "")
	}
}
