package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/lectern-app/lectern/models"
	"github.com/lectern-app/lectern/session"
)

const (
	ctxSession = "lectern-session"
	ctxUserID  = "lectern-userID"
)

func errAuthenticationRequired() error {
	return &echo.HTTPError{
		Code: http.StatusUnauthorized,
		Message: map[string]string{
			"error":   "authentication_required",
			"message": "A valid session token is required.",
		},
	}
}

// requireSession resolves the bearer token to a live session and silently
// renews it when its remaining lifetime dips under the extension threshold.
// Failed renewal never fails the request; the session is still valid now.
func (srv *Server) requireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		hdr := c.Request().Header.Get(echo.HeaderAuthorization)
		if !strings.HasPrefix(hdr, "Bearer ") {
			return errAuthenticationRequired()
		}
		token := strings.TrimPrefix(hdr, "Bearer ")
		if token == "" {
			return errAuthenticationRequired()
		}

		ctx := c.Request().Context()
		sess, err := srv.sessions.GetByToken(ctx, token)
		if err != nil {
			return err
		}
		if sess == nil {
			return errAuthenticationRequired()
		}

		if time.Until(sess.ExpiresAt) < session.ExtensionThreshold {
			if newExpiry, err := srv.sessions.Extend(ctx, sess.ID, session.Duration); err != nil {
				srv.logger.Warn("silent session extension failed", "sessionID", sess.ID, "err", err)
			} else {
				sess.ExpiresAt = newExpiry
			}
		}

		c.Set(ctxSession, sess)
		c.Set(ctxUserID, sess.UserID)
		return next(c)
	}
}

func currentSession(c echo.Context) *models.Session {
	sess, _ := c.Get(ctxSession).(*models.Session)
	return sess
}

func currentUserID(c echo.Context) string {
	uid, _ := c.Get(ctxUserID).(string)
	return uid
}
