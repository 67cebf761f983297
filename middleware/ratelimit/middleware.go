package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
)

type KeyFunc func(r *http.Request) string

type Options struct {
	Store              domain.LimiterStore
	Stats              domain.StatsStore
	KeyFn              KeyFunc
	KeyHeader          string
	TrustXForwardedFor bool
	RejectStatus       int
	// RetryAfter é usado quando o limiter não sabe estimar a espera.
	RetryAfter time.Duration
	// MaxWait > 0 faz a requisição esperar até MaxWait por um token antes de
	// ser rejeitada. Se o cliente desconectar, a espera é cancelada.
	MaxWait time.Duration
	// Cost é o custo em tokens por requisição; valores inválidos viram 1.
	Cost                float64
	AddRateLimitHeaders bool
}

type rateInfo interface {
	RPS() float64
	Burst() int
}

func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			// primeiro IP do X-Forwarded-For é o cliente original
			first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}

		// fallback: RemoteAddr
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.RetryAfter == 0 {
		opts.RetryAfter = 1 * time.Second
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}

	svc := application.Service{
		Store:      opts.Store,
		RetryAfter: opts.RetryAfter,
		MaxWait:    opts.MaxWait,
		Cost:       opts.Cost,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFn(r)

			if opts.AddRateLimitHeaders {
				w.Header().Set("X-RateLimit-Key", key)
				if ri, ok := opts.Store.(rateInfo); ok {
					w.Header().Set("X-RateLimit-RPS", formatFloat(ri.RPS()))
					w.Header().Set("X-RateLimit-Burst", formatInt(ri.Burst()))
				}
			}

			start := time.Now()
			dec := svc.Decide(r.Context(), domain.Key(key))
			if opts.Stats != nil {
				ev := domain.StatsEvent{
					Key:     domain.Key(key),
					Outcome: dec.Outcome,
					Method:  r.Method,
					Path:    r.URL.Path,
					At:      start,
				}
				if opts.MaxWait > 0 {
					ev.Waited = time.Since(start)
				}
				_ = opts.Stats.Record(r.Context(), ev)
			}

			if opts.AddRateLimitHeaders && dec.Remaining >= 0 {
				w.Header().Set("X-RateLimit-Remaining", formatInt(int(dec.Remaining)))
			}
			if !dec.Allowed {
				if dec.Outcome == domain.OutcomeDenied {
					w.Header().Set("Retry-After", formatInt(retryAfterSeconds(dec.RetryAfter)))
				}
				http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
