package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/lijuuu/ContestBroadcastService/internal/apperr"
	"github.com/lijuuu/ContestBroadcastService/internal/model"
	"github.com/lijuuu/ContestBroadcastService/internal/repo"
	"go.uber.org/zap"
)

// SessionAuthenticator resolves the session cookie of a websocket handshake
// into the connection's AuthContext.
type SessionAuthenticator struct {
	sessions   repo.Directory
	cookieName string
	log        *zap.Logger
}

func NewSessionAuthenticator(sessions repo.Directory, cookieName string, log *zap.Logger) *SessionAuthenticator {
	return &SessionAuthenticator{
		sessions:   sessions,
		cookieName: cookieName,
		log:        log.Named("auth"),
	}
}

// Authenticate returns a guest context when no session cookie is sent. A
// cookie that is not a UUID is Malformed; a session the directory cannot
// resolve yields the directory's error. Both are fatal to the connection.
func (a *SessionAuthenticator) Authenticate(ctx context.Context, r *http.Request) (model.AuthContext, error) {
	auth := model.AuthContext{SourceIP: ClientIP(r)}

	cookie, err := r.Cookie(a.cookieName)
	if err != nil || strings.TrimSpace(cookie.Value) == "" {
		return auth, nil
	}

	sessionID, err := uuid.Parse(strings.TrimSpace(cookie.Value))
	if err != nil {
		a.log.Info("malformed session cookie", zap.String("ip", auth.SourceIP))
		return auth, apperr.Malformed(fmt.Sprintf("Invalid %s cookie format", a.cookieName))
	}

	session, err := a.sessions.FindSession(ctx, sessionID)
	if err != nil {
		a.log.Info("session lookup failed",
			zap.Stringer("session_id", sessionID),
			zap.String("ip", auth.SourceIP),
			zap.Error(err),
		)
		return auth, err
	}

	memberID := session.MemberID
	auth.SessionID = &sessionID
	auth.MemberID = &memberID
	return auth, nil
}

// ClientIP prefers the first X-Forwarded-For hop over the socket peer.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
