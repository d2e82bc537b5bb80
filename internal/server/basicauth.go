package server

import (
	"crypto/subtle"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"trapmon/device/otad/internal/auth/hash"
	"trapmon/device/otad/internal/config"
	"trapmon/device/otad/internal/ratelimit"
	"trapmon/device/otad/pkg/httpx"
)

// requireUpdateAuth guards every state-mutating route with HTTP basic auth.
// Failures get a generic challenge response and never reach the handler; the
// reason is kept on the local diagnostic channel only. Repeated failures from
// one client are throttled through the limiter.
func requireUpdateAuth(cfg config.Config, limiter *ratelimit.Limiter, logger *zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)
			if limiter != nil {
				if blocked, resetAt := limiter.Blocked(key); blocked {
					retry := int(time.Until(resetAt).Seconds()) + 1
					httpx.WriteTypedError(w, http.StatusTooManyRequests, "auth.rate_limited", "too many failed attempts", retry)
					return
				}
			}
			user, pass, ok := r.BasicAuth()
			if !ok || !credentialsMatch(cfg, user, pass) {
				if ok && limiter != nil {
					limiter.RecordFailure(key)
				}
				logger.Debug().Str("path", r.URL.Path).Str("remote", r.RemoteAddr).Msg("update auth rejected")
				w.Header().Set("WWW-Authenticate", `Basic realm="otad"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if limiter != nil {
				limiter.RecordSuccess(key)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// credentialsMatch compares the presented credential against the configured
// one. Both comparisons run unconditionally so failures take the same time
// regardless of which field was wrong.
func credentialsMatch(cfg config.Config, user, pass string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(cfg.UpdateUser)) == 1
	var passOK bool
	if cfg.UpdatePassHash != "" {
		passOK = hash.VerifyPassword(cfg.UpdatePassHash, pass)
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(pass), []byte(cfg.UpdatePass)) == 1
	}
	return userOK && passOK
}
