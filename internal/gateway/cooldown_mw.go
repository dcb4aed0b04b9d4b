package gateway

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/AlexKimmel/spammy/internal/ratelimit"
)

// Policy decides which paths are limited, who a caller is and how long they
// must wait between requests to a path.
type Policy struct {
	Routes    map[string]struct{}             // only these paths are limited
	KeyHeader string                          // caller key; remote host when absent
	For       func(path string) time.Duration // cooldown per path
}

// Cooldown admits each caller at most once per cooldown on each configured
// route. Rejected requests get 429 with a Retry-After header. Paths outside
// policy.Routes pass through untouched and never create a limiter, so the
// route handed to onThrottled always comes from that fixed set.
func Cooldown(
	reg *ratelimit.Registry,
	policy Policy,
	onThrottled func(route string),
) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := r.URL.Path
			if _, ok := policy.Routes[route]; !ok {
				next.ServeHTTP(w, r)
				return
			}

			var cooldown time.Duration
			if policy.For != nil {
				cooldown = policy.For(route)
			}
			lim, err := reg.GetNamed(limiterKey(route, callerKey(r, policy.KeyHeader)), cooldown)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, "cooldown_error", "internal cooldown error")
				return
			}

			if !lim.TryAcquire() {
				if onThrottled != nil {
					onThrottled(route)
				}
				w.Header().Set("Retry-After", retryAfter(lim.Remaining()))
				writeJSON(w, http.StatusTooManyRequests, "cooling_down", "Too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// limiterKey joins route and caller so that no pair of inputs can collide:
// both parts are quoted, and a quoted string never contains a bare quote.
func limiterKey(route, caller string) string {
	return "route " + strconv.Quote(route) + " caller " + strconv.Quote(caller)
}

func callerKey(r *http.Request, header string) string {
	if header != "" {
		if k := strings.TrimSpace(r.Header.Get(header)); k != "" {
			return "key:" + k
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		host = "anon"
	}
	return "addr:" + host
}

// retryAfter renders d in whole seconds, rounded up, never below 1.
func retryAfter(d time.Duration) string {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

func writeJSON(w http.ResponseWriter, code int, errCode, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":{"code":"` + errCode + `","message":"` + msg + `"}}`))
}
