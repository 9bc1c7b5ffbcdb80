package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestPendingStore(ttl time.Duration) (*PendingStore, *fakeClock) {
	clock := newFakeClock()
	s := NewPendingStore(ttl)
	s.now = clock.Now
	return s, clock
}

func TestPendingStoreRoundTrip(t *testing.T) {
	s, _ := newTestPendingStore(0)
	user := snowflake.ID(1001)
	p := ConsentPending{Provided: PhysiqueData{Weight: floatPtr(80)}, Continuation: Continuation{Calculation: "imc"}}

	assert.False(t, s.Put(user, p))

	got, ok := s.Get(user)
	require.True(t, ok)
	assert.Equal(t, p, got)

	assert.True(t, s.Remove(user))
	_, ok = s.Get(user)
	assert.False(t, ok)

	assert.False(t, s.Remove(user), "remove is idempotent")
}

func TestPendingStoreGetHasNoSideEffects(t *testing.T) {
	s, _ := newTestPendingStore(0)
	user := snowflake.ID(1)
	s.Put(user, UpdatePending{})

	for i := 0; i < 3; i++ {
		_, ok := s.Get(user)
		require.True(t, ok)
	}
	assert.Len(t, s.List(), 1)
}

func TestPendingStoreLastWriteWins(t *testing.T) {
	s, _ := newTestPendingStore(0)
	user := snowflake.ID(7)

	first := ConsentPending{Continuation: Continuation{Calculation: "calories"}}
	second := ConsentPending{Continuation: Continuation{Calculation: "imc"}}

	assert.False(t, s.Put(user, first))
	assert.True(t, s.Put(user, second), "a live entry was replaced")

	got, ok := s.Get(user)
	require.True(t, ok)
	assert.Equal(t, "imc", got.(ConsentPending).Continuation.Calculation)
	assert.Len(t, s.List(), 1)
}

func TestPendingStoreUsersAreIndependent(t *testing.T) {
	s, _ := newTestPendingStore(0)
	s.Put(1, ConsentPending{})
	s.Put(2, UpdatePending{})

	s.Remove(1)

	_, ok := s.Get(1)
	assert.False(t, ok)
	got, ok := s.Get(2)
	require.True(t, ok)
	assert.Equal(t, PendingUpdate, got.Kind())
}

func TestPendingStoreTakeMatchesKind(t *testing.T) {
	s, _ := newTestPendingStore(0)
	user := snowflake.ID(42)
	s.Put(user, ConsentPending{})

	_, ok := s.Take(user, PendingUpdate)
	assert.False(t, ok)
	_, ok = s.Get(user)
	assert.True(t, ok, "entry of another kind is left in place")

	got, ok := s.Take(user, PendingConsent)
	require.True(t, ok)
	assert.Equal(t, PendingConsent, got.Kind())

	_, ok = s.Take(user, PendingConsent)
	assert.False(t, ok, "an entry is taken at most once")
}

func TestPendingStoreTakeIsExclusiveUnderContention(t *testing.T) {
	s, _ := newTestPendingStore(0)
	user := snowflake.ID(9)
	s.Put(user, ConsentPending{})

	var wg sync.WaitGroup
	var mu sync.Mutex
	taken := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := s.Take(user, PendingConsent); ok {
				mu.Lock()
				taken++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, taken)
}

func TestPendingStoreTTL(t *testing.T) {
	s, clock := newTestPendingStore(10 * time.Minute)
	s.Put(1, ConsentPending{})
	clock.Advance(5 * time.Minute)
	s.Put(2, UpdatePending{})

	clock.Advance(6 * time.Minute)

	_, ok := s.Get(1)
	assert.False(t, ok, "expired entries read as absent")
	_, ok = s.Take(1, PendingConsent)
	assert.False(t, ok)
	_, ok = s.Get(2)
	assert.True(t, ok)

	assert.False(t, s.Put(1, ConsentPending{}), "replacing an expired entry is not an overwrite")
	s.Remove(1)

	assert.Equal(t, 0, s.Sweep())
	clock.Advance(5 * time.Minute)
	assert.Equal(t, 1, s.Sweep())
	assert.Empty(t, s.List())
}

func TestPendingStoreSweepDeletesExpiredPrompts(t *testing.T) {
	s, clock := newTestPendingStore(14 * time.Minute)
	expired := newFakeInvocation(1)
	s.Put(1, ConsentPending{Invocation: expired})
	clock.Advance(10 * time.Minute)
	live := newFakeInvocation(2)
	s.Put(2, UpdatePending{Invocation: live})
	s.Put(3, ConsentPending{})

	clock.Advance(5 * time.Minute)
	assert.Equal(t, 2, s.Sweep())

	assert.True(t, expired.deleted)
	assert.False(t, live.deleted)
	_, ok := s.Get(2)
	assert.True(t, ok)
}

func TestPendingStoreZeroTTLNeverExpires(t *testing.T) {
	s, clock := newTestPendingStore(0)
	s.Put(1, ConsentPending{})
	clock.Advance(365 * 24 * time.Hour)

	_, ok := s.Get(1)
	assert.True(t, ok)
	assert.Equal(t, 0, s.Sweep())

	entries := s.List()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].ExpiresAt.IsZero())
}

func TestPendingStoreListOrdersOldestFirst(t *testing.T) {
	s, clock := newTestPendingStore(time.Hour)
	s.Put(3, ConsentPending{})
	clock.Advance(time.Second)
	s.Put(1, UpdatePending{})
	clock.Advance(time.Second)
	s.Put(2, ConsentPending{})

	entries := s.List()
	require.Len(t, entries, 3)
	assert.Equal(t, snowflake.ID(3), entries[0].UserID)
	assert.Equal(t, snowflake.ID(1), entries[1].UserID)
	assert.Equal(t, snowflake.ID(2), entries[2].UserID)
	assert.Equal(t, entries[0].CreatedAt.Add(time.Hour), entries[0].ExpiresAt)
}

func TestPendingJanitorSweepsAndStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, clock := newTestPendingStore(time.Minute)
	s.Put(1, ConsentPending{})
	clock.Advance(2 * time.Minute)

	ok, run, shutdown := s.StartJanitor(context.Background(), 5*time.Millisecond)
	require.True(t, ok)
	go run()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.entries) == 0
	}, time.Second, 5*time.Millisecond)

	shutdown()
}

func TestPendingJanitorDisabledWithoutTTL(t *testing.T) {
	s, _ := newTestPendingStore(0)
	ok, run, shutdown := s.StartJanitor(context.Background(), time.Second)
	assert.False(t, ok)
	assert.Nil(t, run)
	assert.Nil(t, shutdown)
}
