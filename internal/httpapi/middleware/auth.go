package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/momento/internal/auth"
	"github.com/suPer8Hu/momento/internal/common"
	"github.com/suPer8Hu/momento/internal/session"
)

const (
	SessionIDKey = "session_id"
	SessionKey   = "session"
	UserIDKey    = "user_id"
)

// SessionLookup resolves a live session by id.
type SessionLookup interface {
	Lookup(sid string) (*session.Session, error)
}

// AuthRequired accepts a bearer session token whose session is still open
// and belongs to the token's subject. The token may also arrive as the
// access_token query parameter, which EventSource clients need.
func AuthRequired(tokens *auth.TokenIssuer, sessions SessionLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			common.AbortFail(c, http.StatusUnauthorized, 40101, "missing token")
			return
		}
		claims, err := tokens.Parse(raw)
		if err != nil {
			common.AbortFail(c, http.StatusUnauthorized, 40102, "invalid token")
			return
		}
		sess, err := sessions.Lookup(claims.SessionID)
		if err != nil || sess.Identity.UID != claims.UID() {
			common.AbortFail(c, http.StatusUnauthorized, 40103, "session ended")
			return
		}

		c.Set(SessionIDKey, sess.ID)
		c.Set(SessionKey, sess)
		c.Set(UserIDKey, sess.Identity.UID)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if scheme, tok, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "bearer") {
		return strings.TrimSpace(tok)
	}
	return c.Query("access_token")
}

// CurrentSession returns the session AuthRequired attached.
func CurrentSession(c *gin.Context) (*session.Session, bool) {
	v, ok := c.Get(SessionKey)
	if !ok {
		return nil, false
	}
	sess, ok := v.(*session.Session)
	return sess, ok
}
