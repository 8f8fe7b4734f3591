package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/splax/clouddeploy/internal/domain"
)

type authContextKey string

type authInfo struct {
	UserID  int64
	Email   string
	IsAdmin bool
	user    *domain.User
}

const contextKeyAuth authContextKey = "clouddeploy-auth-info"

type contextSetter interface {
	SetContext(context.Context)
}

// requireAuth ensures the request has a valid bearer token before invoking the handler.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx, _, ok := r.ensureAuth(w, req)
		if !ok {
			return
		}
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

// requireAdmin additionally rejects callers without administrator privileges.
func (r *Router) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return r.requireAuth(func(w http.ResponseWriter, req *http.Request) {
		info, _ := authInfoFromContext(req.Context())
		if !info.IsAdmin {
			r.logger.Warn("admin route denied", "user_id", info.UserID, "path", req.URL.Path)
			writeError(w, http.StatusForbidden, "Admin privileges required")
			return
		}
		next(w, req)
	})
}

// ensureAuth validates the Authorization header and enriches the context.
func (r *Router) ensureAuth(w http.ResponseWriter, req *http.Request) (context.Context, authInfo, bool) {
	header := req.Header.Get("Authorization")
	if header == "" && websocket.IsWebSocketUpgrade(req) {
		// Browsers cannot set headers on websocket handshakes.
		if token := req.URL.Query().Get("token"); token != "" {
			header = "Bearer " + token
		}
	}
	token, err := bearerToken(header)
	if err != nil {
		r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return req.Context(), authInfo{}, false
	}
	user, err := r.auth.Authorize(req.Context(), token)
	if err != nil {
		r.logger.Warn("token validation failed", "error", err, "path", req.URL.Path)
		w.Header().Set("WWW-Authenticate", "Bearer")
		r.writeServiceError(w, req, err)
		return req.Context(), authInfo{}, false
	}
	info := authInfo{UserID: user.ID, Email: user.Email, IsAdmin: user.IsAdmin, user: user}
	ctx := context.WithValue(req.Context(), contextKeyAuth, info)
	return ctx, info, true
}

// authInfoFromContext extracts auth metadata from context.
func authInfoFromContext(ctx context.Context) (authInfo, bool) {
	value := ctx.Value(contextKeyAuth)
	if value == nil {
		return authInfo{}, false
	}
	info, ok := value.(authInfo)
	return info, ok
}

// caller returns the authenticated user id. Handlers behind requireAuth
// always have one.
func caller(req *http.Request) int64 {
	info, _ := authInfoFromContext(req.Context())
	return info.UserID
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}
