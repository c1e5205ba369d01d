package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/momento/internal/common"
)

func (h *Handler) ServerStatus(c *gin.Context) {
	st, known := h.Status.Status()
	common.OK(c, gin.H{
		"known":       known,
		"down":        h.Status.Down(),
		"status":      st.Status,
		"message":     st.Message,
		"last_update": st.LastUpdate,
	})
}
