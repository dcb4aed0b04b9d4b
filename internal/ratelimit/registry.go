package ratelimit

import (
	"reflect"
	"time"
	"unsafe"

	"github.com/rs/zerolog"

	"github.com/AlexKimmel/spammy/internal/ratelimit/memory"
)

// identity keys an object by its dynamic type and address, never by value.
type identity struct {
	typ reflect.Type
	ptr unsafe.Pointer
}

// tableRef binds a limiter to the table and key it was created under.
type tableRef[K comparable] struct {
	table *memory.Table[K, *Limiter]
	key   K
	kind  string
	log   zerolog.Logger
}

func (r tableRef[K]) detach(l *Limiter) bool {
	removed := r.table.Delete(r.key, l)
	r.log.Debug().
		Str("table", r.kind).
		Bool("removed", removed).
		Msg("limiter detach")
	return removed
}

// Registry hands out one Limiter per object identity and one per namespace.
type Registry struct {
	now func() time.Time
	log zerolog.Logger

	byIdentity *memory.Table[identity, *Limiter]
	byName     *memory.Table[string, *Limiter]
}

type Option func(*Registry)

// WithClock replaces time.Now as the source of the current instant.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger enables debug logging of entry creation and removal.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) {
		r.log = logger
	}
}

func New(opts ...Option) *Registry {
	r := &Registry{
		now:        time.Now,
		log:        zerolog.Nop(),
		byIdentity: memory.New[identity, *Limiter](),
		byName:     memory.New[string, *Limiter](),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Get returns the limiter bound to obj's identity, creating it with cooldown
// on first use. obj must be a non-nil pointer, map, slice or chan;
// two distinct objects never share a limiter even if they compare equal.
// The cooldown of an existing limiter is never changed. Zero-size values may
// share an address and therefore a limiter, and a slice is identified by its
// first element, so slices starting at the same element share one.
func (r *Registry) Get(obj any, cooldown time.Duration) (*Limiter, error) {
	key, err := identityOf(obj)
	if err != nil {
		return nil, err
	}
	if err := checkCooldown(cooldown); err != nil {
		return nil, err
	}

	ref := tableRef[identity]{table: r.byIdentity, key: key, kind: "identity", log: r.log}
	l, created := r.byIdentity.LoadOrCreate(key, func() *Limiter {
		return newLimiter(cooldown, r.now, ref)
	})
	if created {
		r.log.Debug().
			Str("table", "identity").
			Str("type", key.typ.String()).
			Dur("cooldown", cooldown).
			Msg("limiter created")
	}
	return l, nil
}

// GetNamed is Get keyed by a namespace string.
func (r *Registry) GetNamed(namespace string, cooldown time.Duration) (*Limiter, error) {
	if namespace == "" {
		return nil, invalidArgument("namespace", "is empty")
	}
	if err := checkCooldown(cooldown); err != nil {
		return nil, err
	}

	ref := tableRef[string]{table: r.byName, key: namespace, kind: "name", log: r.log}
	l, created := r.byName.LoadOrCreate(namespace, func() *Limiter {
		return newLimiter(cooldown, r.now, ref)
	})
	if created {
		r.log.Debug().
			Str("table", "name").
			Str("namespace", namespace).
			Dur("cooldown", cooldown).
			Msg("limiter created")
	}
	return l, nil
}

// LookupNamed returns the limiter for namespace without creating one.
func (r *Registry) LookupNamed(namespace string) (*Limiter, bool) {
	return r.byName.Load(namespace)
}

// Remove detaches l from the table it was created in. It reports false for a
// nil limiter or one that is no longer present.
func (r *Registry) Remove(l *Limiter) bool {
	return l.Detach()
}

// Len is the number of live limiters across both tables.
func (r *Registry) Len() int {
	return r.byIdentity.Len() + r.byName.Len()
}

func checkCooldown(d time.Duration) error {
	if d < 0 {
		return invalidArgument("cooldown", "is negative")
	}
	return nil
}

func identityOf(obj any) (identity, error) {
	if obj == nil {
		return identity{}, invalidArgument("object", "is nil")
	}
	v := reflect.ValueOf(obj)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.UnsafePointer:
		if v.IsNil() {
			return identity{}, invalidArgument("object", "is a nil "+v.Kind().String())
		}
		return identity{typ: v.Type(), ptr: v.UnsafePointer()}, nil
	default:
		return identity{}, invalidArgument("object", "has no identity: "+v.Type().String())
	}
}
