package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/suPer8Hu/momento/internal/chat"
	"github.com/suPer8Hu/momento/internal/common"
)

type submitReq struct {
	Message string `json:"message"`
}

func (h *Handler) SubmitPrompt(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	var req submitReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	qid, err := h.Chat.Submit(c.Request.Context(), sess.Chat, req.Message)
	if err != nil {
		status, code := promptErrorStatus(err)
		if status >= http.StatusInternalServerError {
			h.Logger.Error("submit prompt", zap.String("session_id", sess.ID), zap.String("questionID", qid), zap.Error(err))
		}
		common.Fail(c, status, code, promptErrorMessage(err))
		return
	}

	data := gin.H{"question_id": qid}
	if q, ok := h.Chat.QuotaView(sess.Chat); ok {
		data["quota"] = q
	}
	common.OK(c, data)
}

func promptErrorStatus(err error) (int, int) {
	switch {
	case errors.Is(err, chat.ErrEmptyPrompt):
		return http.StatusBadRequest, 40001
	case errors.Is(err, chat.ErrSubmissionInFlight):
		return http.StatusConflict, 40901
	case errors.Is(err, chat.ErrQuestionIDCollision):
		return http.StatusConflict, 40902
	case errors.Is(err, chat.ErrNotReady):
		return http.StatusConflict, 40903
	case errors.Is(err, chat.ErrQuotaExceeded):
		return http.StatusTooManyRequests, 42901
	case errors.Is(err, chat.ErrServerDown):
		return http.StatusServiceUnavailable, 50301
	default:
		return http.StatusBadGateway, 50201
	}
}

func promptErrorMessage(err error) string {
	switch {
	case errors.Is(err, chat.ErrEmptyPrompt):
		return "prompt is empty"
	case errors.Is(err, chat.ErrSubmissionInFlight):
		return "a prompt is already being submitted"
	case errors.Is(err, chat.ErrQuestionIDCollision):
		return "please try again"
	case errors.Is(err, chat.ErrNotReady):
		return "user data not loaded"
	case errors.Is(err, chat.ErrQuotaExceeded):
		return "prompt limit reached, try again later"
	case errors.Is(err, chat.ErrServerDown):
		return "the AI server is currently unavailable"
	default:
		return "Failed to submit prompt"
	}
}

func (h *Handler) ListMessages(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	common.OK(c, gin.H{
		"messages":    sess.Chat.Entries(),
		"submitting":  sess.Chat.Submitting(),
		"active_jobs": sess.Chat.ActiveJobs(),
	})
}

// Stream pushes chat entries over Server-Sent Events: a snapshot first,
// then every added or changed entry. It ends when the client goes away or
// the session is signed out.
func (h *Handler) Stream(c *gin.Context) {
	sess, ok := currentSession(c)
	if !ok {
		return
	}
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		common.Fail(c, http.StatusInternalServerError, 50002, "streaming not supported")
		return
	}

	// subscribe before the snapshot so nothing falls between them
	updates, stop := sess.Chat.Watch()
	defer stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	writeJSON := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, b)
		flusher.Flush()
	}

	writeJSON("snapshot", gin.H{"type": "snapshot", "messages": sess.Chat.Entries()})

	heartbeat := h.Heartbeat
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case e, ok := <-updates:
			if !ok {
				writeJSON("closed", gin.H{"type": "closed"})
				return
			}
			writeJSON("entry", gin.H{"type": "entry", "entry": e})
		case <-ticker.C:
			writeJSON("ping", gin.H{"type": "ping", "ts": time.Now().Unix()})
		case <-ctx.Done():
			return
		}
	}
}
