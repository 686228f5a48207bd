package middleware

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/storefront/authguard"
)

type grantContextKey struct{}

// GrantFromContext returns the claims stored by [RequireGrant].
func GrantFromContext(ctx context.Context) (*authguard.GrantClaims, bool) {
	claims, ok := ctx.Value(grantContextKey{}).(*authguard.GrantClaims)
	return claims, ok
}

// Guard runs p for every request. The client identity and any X-Request-ID
// header are placed in the request context for handlers and audit events.
func Guard(p *authguard.Pipeline) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if p == nil {
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}

			clientID := ClientID(r)
			ctx := authguard.WithClientID(r.Context(), clientID)
			if reqID := strings.TrimSpace(r.Header.Get("X-Request-ID")); reqID != "" {
				ctx = authguard.WithRequestID(ctx, reqID)
			}

			v := p.Run(ctx, &authguard.Request{
				ClientID: clientID,
				Path:     r.URL.Path,
				Method:   r.Method,
			})
			if !v.Continue {
				writeRejection(w, v)
				return
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireGrant admits requests whose bearer token is a verification grant
// for purpose.
func RequireGrant(engine *authguard.Engine, purpose authguard.Purpose) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := engine.ParseGrant(token)
			if err != nil || claims.Purpose != string(purpose) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), grantContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientID returns the first X-Forwarded-For entry, or the host of
// RemoteAddr when the header is absent.
func ClientID(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

func writeRejection(w http.ResponseWriter, v authguard.Verdict) {
	switch {
	case errors.Is(v.Err, authguard.ErrRateLimited):
		if v.RetryAfter > 0 {
			secs := int64(math.Ceil(v.RetryAfter.Seconds()))
			w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
		}
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	case errors.Is(v.Err, authguard.ErrInvalidClientID):
		http.Error(w, "bad request", http.StatusBadRequest)
	case errors.Is(v.Err, authguard.ErrRateLimitUnavailable),
		errors.Is(v.Err, authguard.ErrEngineNotReady):
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	default:
		http.Error(w, "forbidden", http.StatusForbidden)
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
