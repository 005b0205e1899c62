package core

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dinerbell/internal/types"
)

// authPublicPaths bypass AuthMiddleware.
var authPublicPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

const (
	defaultAuthFailureMax = 10
	authFailureWindow     = time.Minute
)

// AuthMiddleware resolves the Bearer key to an Actor and stores it in the
// request context. Missing keys answer auth_token_missing, unknown keys
// auth_token_invalid. A nil Authenticator disables authentication.
//
// Rejected keys are counted per client IP in RateLimitStore. Once an IP
// reaches the failure budget its requests get 429 without reaching the
// Authenticator until the window resets.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Authenticator == nil || authPublicPaths[r.URL.Path] || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Authorization header is required")
			return
		}

		token := extractBearerToken(authHeader)
		if token == "" {
			s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Bearer token is required")
			return
		}

		ip := extractClientIP(r)
		if s.authFailuresExceeded(r, ip) {
			s.Logger.Warn("authentication throttled",
				slog.String("ip", ip),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			w.Header().Set("Retry-After", strconv.Itoa(int(authFailureWindow.Seconds())))
			writeError(w, r, http.StatusTooManyRequests, types.ErrCodeRateLimit,
				"Too many failed authentication attempts.")
			return
		}

		actor, err := s.Authenticator.ResolveToken(r.Context(), token)
		if err != nil {
			s.recordAuthFailure(r, ip)
			s.handleAuthError(w, r, err)
			return
		}
		if actor == nil {
			s.recordAuthFailure(r, ip)
			s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid authentication token")
			return
		}

		next.ServeHTTP(w, r.WithContext(types.WithActor(r.Context(), *actor)))
	})
}

func authFailureKey(ip string) string { return "authfail:" + ip }

func (s *Server) authFailureMax() int {
	if s.Config != nil && s.Config.Redis.AuthFailuresPerMinute > 0 {
		return s.Config.Redis.AuthFailuresPerMinute
	}
	return defaultAuthFailureMax
}

// authFailuresExceeded fails open on store errors.
func (s *Server) authFailuresExceeded(r *http.Request, ip string) bool {
	if s.RateLimitStore == nil {
		return false
	}
	n, err := s.RateLimitStore.Peek(r.Context(), authFailureKey(ip), authFailureWindow)
	if err != nil {
		s.Logger.Error("auth failure store error", slog.String("error", err.Error()))
		return false
	}
	return n >= s.authFailureMax()
}

func (s *Server) recordAuthFailure(r *http.Request, ip string) {
	if s.RateLimitStore == nil {
		return
	}
	if _, err := s.RateLimitStore.IncrementAndCheck(r.Context(), authFailureKey(ip), s.authFailureMax(), authFailureWindow); err != nil {
		s.Logger.Error("auth failure store error", slog.String("error", err.Error()))
	}
}

// extractClientIP returns the first X-Forwarded-For entry, or RemoteAddr
// without its port.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
		if ip != "" {
			return ip
		}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// extractBearerToken returns the token of a "Bearer <token>" header, with a
// case-insensitive scheme per RFC 7235, or "".
func extractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}

func (s *Server) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) && appErr.Code == types.ErrCodeAuthTokenInvalid {
		s.Logger.Warn("authentication failed: token invalid",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Invalid authentication token")
		return
	}

	// Don't leak internal details.
	s.Logger.Error("authentication failed: unexpected error",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	s.writeAuthError(w, r, types.ErrCodeAuthTokenInvalid, "Authentication failed")
}

func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, code types.ErrorCode, message string) {
	writeError(w, r, http.StatusUnauthorized, code, message)
}

// RequireScope rejects actors lacking scope with 403. System actors pass.
func (s *Server) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := types.GetActor(r.Context())
			if !ok {
				if s.Authenticator == nil {
					next.ServeHTTP(w, r)
					return
				}
				s.writeAuthError(w, r, types.ErrCodeAuthTokenMissing, "Authentication required")
				return
			}

			if actor.Type == types.ActorTypeSystem || actor.HasScope(scope) {
				next.ServeHTTP(w, r)
				return
			}

			s.Logger.Warn("insufficient scope",
				slog.String("actor_id", actor.ID),
				slog.String("required", scope),
				slog.String("path", r.URL.Path),
			)
			writeError(w, r, http.StatusForbidden, types.ErrCodePermissionScope, "Insufficient scope for this operation")
		})
	}
}
