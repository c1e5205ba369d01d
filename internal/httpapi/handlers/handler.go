package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/suPer8Hu/momento/internal/auth"
	"github.com/suPer8Hu/momento/internal/chat"
	"github.com/suPer8Hu/momento/internal/common"
	"github.com/suPer8Hu/momento/internal/httpapi/middleware"
	"github.com/suPer8Hu/momento/internal/session"
)

const DefaultHeartbeat = 15 * time.Second

// StatusReader is the worker pool status as last observed.
type StatusReader interface {
	Status() (chat.ServerStatus, bool)
	Down() bool
}

type Handler struct {
	Sessions  *session.Manager
	Chat      *chat.Service
	Tokens    *auth.TokenIssuer
	Status    StatusReader
	Logger    *zap.Logger
	Heartbeat time.Duration
}

func NewHandler(sessions *session.Manager, chatSvc *chat.Service, tokens *auth.TokenIssuer, status StatusReader, logger *zap.Logger) *Handler {
	return &Handler{
		Sessions:  sessions,
		Chat:      chatSvc,
		Tokens:    tokens,
		Status:    status,
		Logger:    logger.Named("http"),
		Heartbeat: DefaultHeartbeat,
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func currentSession(c *gin.Context) (*session.Session, bool) {
	sess, ok := middleware.CurrentSession(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
	}
	return sess, ok
}

type sessionView struct {
	ID       string          `json:"id"`
	State    session.State   `json:"state"`
	Error    string          `json:"error,omitempty"`
	Identity auth.Identity   `json:"identity"`
	Quota    *chat.QuotaView `json:"quota"`
}

// viewOf persists an elapsed quota window before rendering the session.
func (h *Handler) viewOf(c *gin.Context, sess *session.Session) sessionView {
	if _, err := h.Chat.RefreshQuota(c.Request.Context(), sess.Chat); err != nil && !errors.Is(err, chat.ErrNotReady) {
		h.Logger.Warn("refresh quota failed", zap.String("session_id", sess.ID), zap.Error(err))
	}
	v := sessionView{
		ID:       sess.ID,
		State:    sess.State(),
		Error:    sess.Err(),
		Identity: sess.Identity,
	}
	if q, ok := h.Chat.QuotaView(sess.Chat); ok {
		v.Quota = &q
	}
	return v
}
