package obs

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/AlexKimmel/spammy/internal/ratelimit"
)

func SetupLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano

	return zerolog.New(os.Stdout).With().Timestamp().Logger().Level(lvl)
}

// Logger returns a middleware that writes one access line per request,
// labelled with the bounded route name. Throttled requests log at warn.
func Logger(logger zerolog.Logger, routes map[string]struct{}) func(http.Handler) http.Handler {
	access := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		lvl := zerolog.InfoLevel
		if status == http.StatusTooManyRequests {
			lvl = zerolog.WarnLevel
		}
		hlog.FromRequest(r).WithLevel(lvl).
			Str("route", routeLabel(routes, r.URL.Path)).
			Str("method", r.Method).
			Int("status", status).
			Int("size", size).
			Dur("dur", duration).
			Msg("req")
	})
	return func(next http.Handler) http.Handler {
		h := access(next)
		h = hlog.RemoteAddrHandler("remote")(h)
		h = hlog.RequestIDHandler("req_id", "X-Request-ID")(h)
		return hlog.NewHandler(logger)(h)
	}
}

// routeLabel keeps label and field values to a fixed set.
func routeLabel(routes map[string]struct{}, path string) string {
	if _, ok := routes[path]; ok {
		return path
	}
	return "other"
}

// Throttle emits at most one log line per namespace per interval.
type Throttle struct {
	log   zerolog.Logger
	reg   *ratelimit.Registry
	every time.Duration

	// OnSuppressed is called for every dropped line.
	OnSuppressed func(namespace string)
}

func NewThrottle(logger zerolog.Logger, reg *ratelimit.Registry, every time.Duration) *Throttle {
	return &Throttle{log: logger, reg: reg, every: every}
}

// Event returns an event at level, or nil while namespace is cooling down.
// A nil *zerolog.Event discards everything chained onto it.
func (t *Throttle) Event(namespace string, level zerolog.Level) *zerolog.Event {
	lim, err := t.limiter(namespace)
	if err != nil {
		return t.log.WithLevel(level).Err(err)
	}
	if !lim.TryAcquire() {
		t.suppressed(namespace)
		return nil
	}
	return t.log.WithLevel(level).Str("throttle", namespace)
}

// Msg writes msg at level unless namespace is cooling down, and reports
// whether it was written. Concurrent callers for one namespace are
// serialized until the line is out.
func (t *Throttle) Msg(namespace string, level zerolog.Level, msg string) bool {
	lim, err := t.limiter(namespace)
	if err != nil {
		t.log.WithLevel(level).Err(err).Msg(msg)
		return true
	}
	ran, _ := lim.TryAcquireAndRun(func() {
		t.log.WithLevel(level).Str("throttle", namespace).Msg(msg)
	})
	if !ran {
		t.suppressed(namespace)
	}
	return ran
}

// Forget drops the namespace so its next line is written immediately.
// Unknown namespaces are left alone.
func (t *Throttle) Forget(namespace string) {
	if lim, ok := t.reg.LookupNamed(logNamespace(namespace)); ok {
		t.reg.Remove(lim)
	}
}

func (t *Throttle) limiter(namespace string) (*ratelimit.Limiter, error) {
	return t.reg.GetNamed(logNamespace(namespace), t.every)
}

func logNamespace(namespace string) string { return "log:" + namespace }

func (t *Throttle) suppressed(namespace string) {
	if t.OnSuppressed != nil {
		t.OnSuppressed(namespace)
	}
}
