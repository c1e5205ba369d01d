package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/suPer8Hu/momento/internal/auth"
	"github.com/suPer8Hu/momento/internal/common"
	"github.com/suPer8Hu/momento/internal/session"
)

type signInReq struct {
	Credential    string `json:"credential" binding:"required"`
	InitialPrompt string `json:"initial_prompt"`
}

// SignIn exchanges an identity-provider credential for a session token.
func (h *Handler) SignIn(c *gin.Context) {
	var req signInReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	sess, err := h.Sessions.SignIn(c.Request.Context(), req.Credential, req.InitialPrompt)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredential) {
			common.Fail(c, http.StatusUnauthorized, 40104, "invalid credential")
			return
		}
		h.Logger.Error("sign in failed", zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50001, "sign in failed")
		return
	}

	token, exp, err := h.Tokens.Issue(sess.ID, sess.Identity.UID)
	if err != nil {
		h.Logger.Error("issue session token", zap.Error(err))
		_ = h.Sessions.SignOut(c.Request.Context(), sess.ID)
		common.Fail(c, http.StatusInternalServerError, 50001, "sign in failed")
		return
	}

	resp := gin.H{
		"token":      token,
		"expires_at": exp,
		"session":    h.viewOf(c, sess),
	}
	if req.InitialPrompt != "" {
		qid, err := sess.InitialPrompt()
		initial := gin.H{"question_id": qid}
		if err != nil {
			initial["error"] = promptErrorMessage(err)
		}
		resp["initial_prompt"] = initial
	}
	common.OK(c, resp)
}

// SignOut ends the session. Provider-side failures are logged only; the
// local session is gone either way.
func (h *Handler) SignOut(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	if err := h.Sessions.SignOut(c.Request.Context(), sess.ID); err != nil {
		if errors.Is(err, session.ErrUnknownSession) {
			common.Fail(c, http.StatusUnauthorized, 40103, "session ended")
			return
		}
		h.Logger.Warn("provider sign out failed", zap.String("uid", sess.Identity.UID), zap.Error(err))
	}
	common.OK(c, gin.H{"signed_out": true})
}

func (h *Handler) Me(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	common.OK(c, h.viewOf(c, sess))
}

// Reload retries loading the user record, typically after "Failed to load
// user data".
func (h *Handler) Reload(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	if _, err := h.Sessions.Reload(c.Request.Context(), sess.ID); err != nil {
		common.Fail(c, http.StatusUnauthorized, 40103, "session ended")
		return
	}
	common.OK(c, h.viewOf(c, sess))
}
