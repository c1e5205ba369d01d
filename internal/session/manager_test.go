package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/suPer8Hu/momento/internal/auth"
	"github.com/suPer8Hu/momento/internal/chat"
	"github.com/suPer8Hu/momento/internal/store"
	"github.com/suPer8Hu/momento/internal/store/memstore"
)

type mockProvider struct {
	mock.Mock
}

var _ auth.Provider = (*mockProvider)(nil)

func (m *mockProvider) SignIn(ctx context.Context, credential string) (auth.Identity, error) {
	args := m.Called(credential)
	return args.Get(0).(auth.Identity), args.Error(1)
}

func (m *mockProvider) SignOut(ctx context.Context, uid string) error {
	return m.Called(uid).Error(0)
}

// failingStore fails every read.
type failingStore struct {
	store.Store
}

func (failingStore) Get(context.Context, string) (store.Snapshot, error) {
	return store.Snapshot{}, errors.New("unreachable")
}

type ManagerSuite struct {
	suite.Suite

	st       store.Store
	provider *mockProvider
	chat     *chat.Service
	mgr      *Manager
	changes  []Change
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.st = memstore.New()
	s.provider = &mockProvider{}
	s.chat = chat.NewService(chat.NewRepo(s.st), nil, chat.Options{
		Clock: clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)),
	})
	s.mgr = NewManager(s.provider, s.chat, zap.NewNop())
	s.changes = nil
	s.mgr.OnIdentityChange(func(c Change) { s.changes = append(s.changes, c) })

	s.provider.On("SignIn", "good").Return(auth.Identity{UID: "u1", Email: "a@b.c"}, nil).Maybe()
	s.provider.On("SignIn", "bad").Return(auth.Identity{}, auth.ErrInvalidCredential).Maybe()
}

func (s *ManagerSuite) TearDownTest() {
	s.mgr.Close()
	_ = s.st.Close()
}

func (s *ManagerSuite) TestSignInLoadsUser() {
	sess, err := s.mgr.SignIn(context.Background(), "good", "")
	s.Require().NoError(err)

	s.Equal(StateAuthenticated, sess.State())
	s.Empty(sess.Err())
	u, ok := sess.Chat.User()
	s.Require().True(ok)
	s.Equal("a@b.c", u.Email)
	s.Equal(0, u.PromptCount)

	found, err := s.mgr.Lookup(sess.ID)
	s.Require().NoError(err)
	s.Same(sess, found)

	s.Require().Len(s.changes, 1)
	s.True(s.changes[0].SignedIn)
	s.Equal("u1", s.changes[0].Identity.UID)
}

func (s *ManagerSuite) TestBadCredential() {
	_, err := s.mgr.SignIn(context.Background(), "bad", "")
	s.ErrorIs(err, auth.ErrInvalidCredential)
	s.Equal(0, s.mgr.Len())
	s.Empty(s.changes)
}

func (s *ManagerSuite) TestInitialPromptIsSubmitted() {
	sess, err := s.mgr.SignIn(context.Background(), "good", "tell me a joke")
	s.Require().NoError(err)

	qid, err := sess.InitialPrompt()
	s.Require().NoError(err)
	s.NotEmpty(qid)

	entries := sess.Chat.Entries()
	s.Require().Len(entries, 2)
	s.Equal("tell me a joke", entries[0].Content)
	s.Equal(qid, entries[1].ID)
}

func (s *ManagerSuite) TestSignOut() {
	sess, err := s.mgr.SignIn(context.Background(), "good", "")
	s.Require().NoError(err)
	s.provider.On("SignOut", "u1").Return(nil).Once()

	s.Require().NoError(s.mgr.SignOut(context.Background(), sess.ID))
	s.Equal(StateUnauthenticated, sess.State())
	_, err = s.mgr.Lookup(sess.ID)
	s.ErrorIs(err, ErrUnknownSession)
	s.ErrorIs(s.mgr.SignOut(context.Background(), sess.ID), ErrUnknownSession)

	s.Require().Len(s.changes, 2)
	s.False(s.changes[1].SignedIn)

	_, err = s.chat.Submit(context.Background(), sess.Chat, "hi")
	s.ErrorIs(err, chat.ErrNotReady)
	s.provider.AssertExpectations(s.T())
}

func (s *ManagerSuite) TestSignOutProviderFailureStillSignsOut() {
	sess, err := s.mgr.SignIn(context.Background(), "good", "")
	s.Require().NoError(err)
	s.provider.On("SignOut", "u1").Return(errors.New("network")).Once()

	s.Error(s.mgr.SignOut(context.Background(), sess.ID))
	s.Equal(0, s.mgr.Len())
}

func TestLoadFailureSetsSessionError(t *testing.T) {
	mem := memstore.New()
	defer mem.Close()
	p := &mockProvider{}
	p.On("SignIn", "good").Return(auth.Identity{UID: "u1"}, nil)

	svc := chat.NewService(chat.NewRepo(failingStore{Store: mem}), nil, chat.Options{})
	mgr := NewManager(p, svc, zap.NewNop())
	defer mgr.Close()

	sess, err := mgr.SignIn(context.Background(), "good", "queued prompt")
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, sess.State())
	assert.Equal(t, "Failed to load user data", sess.Err())
	assert.Empty(t, sess.Chat.Entries())

	qid, err := sess.InitialPrompt()
	assert.Empty(t, qid)
	assert.NoError(t, err)

	// a reload against a healthy store clears the error
	mgr.chat = chat.NewService(chat.NewRepo(mem), nil, chat.Options{})
	_, err = mgr.Reload(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Empty(t, sess.Err())
	_, ok := sess.Chat.User()
	assert.True(t, ok)
}
