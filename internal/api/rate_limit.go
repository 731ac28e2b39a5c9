package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dunamismax/avatarcrop/internal/ratelimit"
)

type RateLimiter interface {
	Allow(ctx context.Context, subject string) (ratelimit.Decision, error)
	Refund(ctx context.Context, subject string) error
}

// withRateLimit throttles uploads for the configured profile. Limiter
// failures let the request through. Uploads the session refused or the
// destination rejected are refunded.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject := s.cfg.UserID
		if subject == "" {
			subject = "anonymous"
		}

		decision, err := s.rateLimiter.Allow(r.Context(), subject)
		if err != nil {
			s.logger.Warn("rate limiter check failed", "subject", subject, "err", err)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if decision.Allowed {
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			if refundable(recorder.status) {
				if err := s.rateLimiter.Refund(context.WithoutCancel(r.Context()), subject); err != nil {
					s.logger.Warn("rate limiter refund failed", "subject", subject, "err", err)
				}
			}
			return
		}

		retryAfter := max(int(decision.RetryAfter.Round(time.Second).Seconds()), 1)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		s.metrics.rateLimitRejected.WithLabelValues(r.URL.Path).Inc()
		writeError(w, http.StatusTooManyRequests, errors.New("upload rate limit exceeded"))
	})
}

func refundable(status int) bool {
	return status == http.StatusConflict || status >= http.StatusInternalServerError
}
