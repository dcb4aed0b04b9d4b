package ratelimit

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry() (*Registry, *fakeClock) {
	clk := newFakeClock()
	return New(WithClock(clk.Now)), clk
}

type point struct{ X, Y int }

func TestGet_SameObjectSameLimiter(t *testing.T) {
	reg, _ := newTestRegistry()
	obj := &point{1, 2}

	l1, err := reg.Get(obj, time.Second)
	require.NoError(t, err)
	l2, err := reg.Get(obj, time.Second)
	require.NoError(t, err)

	assert.Same(t, l1, l2)
	assert.Equal(t, 1, reg.Len())
}

func TestGet_EqualValuesDistinctLimiters(t *testing.T) {
	reg, _ := newTestRegistry()
	a := &point{1, 2}
	b := &point{1, 2}
	require.Equal(t, *a, *b)

	la, err := reg.Get(a, time.Second)
	require.NoError(t, err)
	lb, err := reg.Get(b, time.Second)
	require.NoError(t, err)

	assert.NotSame(t, la, lb)
	assert.Equal(t, 2, reg.Len())
}

func TestGet_MapAndChanKeys(t *testing.T) {
	reg, _ := newTestRegistry()
	m := map[string]int{"a": 1}
	ch := make(chan int)

	lm1, err := reg.Get(m, time.Second)
	require.NoError(t, err)
	lm2, err := reg.Get(m, time.Second)
	require.NoError(t, err)
	assert.Same(t, lm1, lm2)

	lc, err := reg.Get(ch, time.Second)
	require.NoError(t, err)
	assert.NotSame(t, lm1, lc)
}

func TestGet_InvalidArguments(t *testing.T) {
	reg, _ := newTestRegistry()
	var nilPtr *point
	var nilMap map[string]int

	cases := []struct {
		name     string
		obj      any
		cooldown time.Duration
	}{
		{"nil interface", nil, time.Second},
		{"nil pointer", nilPtr, time.Second},
		{"nil map", nilMap, time.Second},
		{"plain value", point{1, 2}, time.Second},
		{"string", "not a reference", time.Second},
		{"func", func() {}, time.Second},
		{"negative cooldown", &point{}, -time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l, err := reg.Get(tc.obj, tc.cooldown)
			assert.Nil(t, l)
			assert.True(t, errors.Is(err, ErrInvalidArgument), "got %v", err)
		})
	}
	assert.Equal(t, 0, reg.Len(), "no entry may be created on invalid input")
}

func TestGetNamed_Uniqueness(t *testing.T) {
	reg, _ := newTestRegistry()

	a1, err := reg.GetNamed("a", time.Second)
	require.NoError(t, err)
	a2, err := reg.GetNamed("a", time.Second)
	require.NoError(t, err)
	b, err := reg.GetNamed("b", time.Second)
	require.NoError(t, err)

	assert.Same(t, a1, a2)
	assert.NotSame(t, a1, b)
}

func TestGetNamed_InvalidArguments(t *testing.T) {
	reg, _ := newTestRegistry()

	_, err := reg.GetNamed("", time.Second)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = reg.GetNamed("a", -1)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	assert.Equal(t, 0, reg.Len())
}

func TestTablesAreIndependent(t *testing.T) {
	reg, _ := newTestRegistry()
	s := "shared"

	byName, err := reg.GetNamed(s, time.Second)
	require.NoError(t, err)
	byIdentity, err := reg.Get(&s, time.Second)
	require.NoError(t, err)

	assert.NotSame(t, byName, byIdentity)
	assert.True(t, reg.Remove(byName))
	assert.Equal(t, 1, reg.Len())
}

func TestGet_CooldownNotOverwritten(t *testing.T) {
	reg, clk := newTestRegistry()

	l, err := reg.GetNamed("ns", 2*time.Second)
	require.NoError(t, err)
	again, err := reg.GetNamed("ns", 10*time.Millisecond)
	require.NoError(t, err)
	require.Same(t, l, again)
	assert.Equal(t, 2*time.Second, again.Cooldown())

	require.True(t, again.TryAcquire())
	clk.Advance(time.Second)
	assert.False(t, again.TryAcquire(), "the first cooldown must still apply")
	clk.Advance(time.Second)
	assert.True(t, again.TryAcquire())
}

func TestRemove(t *testing.T) {
	reg, _ := newTestRegistry()
	obj := &point{}

	l1, err := reg.Get(obj, time.Second)
	require.NoError(t, err)
	l2, err := reg.Get(obj, time.Second)
	require.NoError(t, err)
	other, err := reg.Get(&point{}, time.Second)
	require.NoError(t, err)

	assert.True(t, reg.Remove(l1))
	assert.False(t, reg.Remove(l1))
	assert.False(t, reg.Remove(l2))
	assert.True(t, reg.Remove(other))
	assert.Equal(t, 0, reg.Len())
}

func TestRemove_Nil(t *testing.T) {
	reg, _ := newTestRegistry()
	assert.False(t, reg.Remove(nil))
}

func TestRemove_RecreatesFreshLimiter(t *testing.T) {
	reg, _ := newTestRegistry()

	old, err := reg.GetNamed("ns", time.Second)
	require.NoError(t, err)
	require.True(t, old.TryAcquire())
	require.True(t, reg.Remove(old))

	fresh, err := reg.GetNamed("ns", time.Minute)
	require.NoError(t, err)
	assert.NotSame(t, old, fresh)
	assert.Equal(t, time.Minute, fresh.Cooldown())
	assert.True(t, fresh.TryAcquire())

	// the stale handle must not evict its replacement
	assert.False(t, reg.Remove(old))
	assert.Equal(t, 1, reg.Len())
	assert.True(t, reg.Remove(fresh))
}

func TestGet_ConcurrentCreateSingleInstance(t *testing.T) {
	reg, _ := newTestRegistry()
	obj := &point{}

	const n = 64
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		named   = make([]*Limiter, n)
		byIdent = make([]*Limiter, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			cooldown := time.Duration(i+1) * time.Millisecond
			named[i], _ = reg.GetNamed("race", cooldown)
			byIdent[i], _ = reg.Get(obj, cooldown)
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 1; i < n; i++ {
		require.Same(t, named[0], named[i])
		require.Same(t, byIdent[0], byIdent[i])
	}
	assert.Equal(t, 2, reg.Len())
}

func TestNew_DefaultsToWallClock(t *testing.T) {
	reg := New(WithClock(nil))
	l, err := reg.GetNamed("ns", time.Hour)
	require.NoError(t, err)
	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
}

func TestGet_SliceKeys(t *testing.T) {
	reg, _ := newTestRegistry()
	backing := []int{1, 2, 3, 4}

	whole, err := reg.Get(backing, time.Second)
	require.NoError(t, err)
	prefix, err := reg.Get(backing[:2], time.Second)
	require.NoError(t, err)
	tail, err := reg.Get(backing[1:], time.Second)
	require.NoError(t, err)
	copied, err := reg.Get(append([]int(nil), backing...), time.Second)
	require.NoError(t, err)

	assert.Same(t, whole, prefix, "same first element, same identity")
	assert.NotSame(t, whole, tail)
	assert.NotSame(t, whole, copied, "equal contents in a new array")
	assert.Equal(t, 3, reg.Len())
}

func TestLookupNamed(t *testing.T) {
	reg, _ := newTestRegistry()

	_, ok := reg.LookupNamed("missing")
	assert.False(t, ok)
	assert.Equal(t, 0, reg.Len(), "lookup must not create")

	l, err := reg.GetNamed("present", time.Second)
	require.NoError(t, err)
	got, ok := reg.LookupNamed("present")
	require.True(t, ok)
	assert.Same(t, l, got)

	require.True(t, reg.Remove(l))
	_, ok = reg.LookupNamed("present")
	assert.False(t, ok)
}
