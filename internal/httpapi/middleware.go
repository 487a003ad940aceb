package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/alloybuild/orchestrator/internal/apierr"
	"github.com/alloybuild/orchestrator/internal/authsvc"
)

type ctxKey int

const userIDKey ctxKey = iota

func userIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok
}

// requireUser authenticates either a bearer JWT or an `ApiKey {raw}`
// header and injects the resolved user id into the request context.
func (h *handlers) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		if authz == "" {
			writeError(w, apierr.New(apierr.KindUnauthorized, "missing Authorization header"))
			return
		}

		var userID string
		switch {
		case strings.HasPrefix(authz, "Bearer "):
			token := strings.TrimPrefix(authz, "Bearer ")
			id, err := h.deps.Issuer.Verify(token)
			if err != nil {
				writeError(w, apierr.Wrap(apierr.KindInvalidToken, err, "invalid or expired token"))
				return
			}
			userID = id
		case strings.HasPrefix(authz, "ApiKey "):
			raw := strings.TrimPrefix(authz, "ApiKey ")
			hash := authsvc.HashAPIKey(h.deps.APIKeySecret, raw)
			key, err := h.deps.Store.GetAPIKeyByHash(hash)
			if err != nil {
				writeError(w, apierr.Wrap(apierr.KindInvalidAPIKey, err, "invalid api key"))
				return
			}
			_ = h.deps.Store.TouchAPIKey(key.ID)
			userID = key.UserID
		default:
			writeError(w, apierr.New(apierr.KindUnauthorized, "unrecognized Authorization scheme"))
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// corsMiddleware allows cross-origin requests from the configured
// origin list. A nil/empty list leaves the handler untouched.
func corsMiddleware(origins []string, next http.Handler) http.Handler {
	if len(origins) == 0 {
		return next
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowed[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Worker-Secret")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireWorkerSecret checks the shared worker secret header, when one
// is configured. An empty configured secret disables the check, e.g.
// for local development.
func (h *handlers) requireWorkerSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.deps.WorkerSecret == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get("X-Worker-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.deps.WorkerSecret)) != 1 {
			writeError(w, apierr.New(apierr.KindUnauthorized, "invalid worker secret"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
