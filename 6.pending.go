package main

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// ===========================
// Pending Interaction Types
// ===========================

// PendingKind discriminates the shapes a pending interaction can take.
type PendingKind int

const (
	PendingConsent PendingKind = iota + 1
	PendingUpdate
)

func (k PendingKind) String() string {
	switch k {
	case PendingConsent:
		return "consent"
	case PendingUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// PendingInteraction is a suspended multi-step interaction waiting for a button click.
// The interface is sealed: only the variants declared in this package implement it.
type PendingInteraction interface {
	Kind() PendingKind
	// Origin is the invocation whose reply carries the prompt. It may be nil.
	Origin() Invocation
	sealedPending()
}

// PendingEntry is a snapshot row returned by PendingStore.List.
type PendingEntry struct {
	UserID      snowflake.ID
	Interaction PendingInteraction
	CreatedAt   time.Time
	ExpiresAt   time.Time // zero when entries never expire
}

type pendingSlot struct {
	interaction PendingInteraction
	createdAt   time.Time
}

// ===========================
// Pending Store
// ===========================

// PendingStore maps a user to at most one in-flight interaction.
// Entries older than the TTL read as absent and are removed by Sweep; a TTL of 0 keeps them until removed.
type PendingStore struct {
	mu      sync.Mutex
	entries map[snowflake.ID]pendingSlot
	ttl     time.Duration
	now     func() time.Time
}

func NewPendingStore(ttl time.Duration) *PendingStore {
	return &PendingStore{
		entries: make(map[snowflake.ID]pendingSlot),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *PendingStore) expired(slot pendingSlot, now time.Time) bool {
	return s.ttl > 0 && now.Sub(slot.createdAt) >= s.ttl
}

// Put stores p for userID, overwriting whatever was there. It reports whether a live entry was replaced.
func (s *PendingStore) Put(userID snowflake.ID, p PendingInteraction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	old, existed := s.entries[userID]
	replaced := existed && !s.expired(old, now)
	s.entries[userID] = pendingSlot{interaction: p, createdAt: now}
	metricPendingEntries.Set(float64(len(s.entries)))

	if replaced {
		metricPendingOrphaned.Inc()
		LogPending(MsgPendingOverwritten, userID)
	}
	return replaced
}

// Get returns the live entry for userID without modifying the store.
func (s *PendingStore) Get(userID snowflake.ID) (PendingInteraction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.entries[userID]
	if !ok || s.expired(slot, s.now()) {
		return nil, false
	}
	return slot.interaction, true
}

// Remove deletes the entry for userID and reports whether one was present.
func (s *PendingStore) Remove(userID snowflake.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entries[userID]
	if ok {
		delete(s.entries, userID)
		metricPendingEntries.Set(float64(len(s.entries)))
	}
	return ok
}

// Take removes and returns the entry for userID only if it is live and of the given kind.
func (s *PendingStore) Take(userID snowflake.ID, kind PendingKind) (PendingInteraction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.entries[userID]
	if !ok || s.expired(slot, s.now()) || slot.interaction.Kind() != kind {
		return nil, false
	}
	delete(s.entries, userID)
	metricPendingEntries.Set(float64(len(s.entries)))
	return slot.interaction, true
}

// List returns the live entries, oldest first.
func (s *PendingStore) List() []PendingEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make([]PendingEntry, 0, len(s.entries))
	for id, slot := range s.entries {
		if s.expired(slot, now) {
			continue
		}
		e := PendingEntry{UserID: id, Interaction: slot.interaction, CreatedAt: slot.createdAt}
		if s.ttl > 0 {
			e.ExpiresAt = slot.createdAt.Add(s.ttl)
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Sweep evicts expired entries, deletes their prompts and returns how many were dropped.
func (s *PendingStore) Sweep() int {
	stale := s.evictExpired()
	for _, p := range stale {
		if inv := p.Origin(); inv != nil {
			if err := inv.Delete(); err != nil {
				LogPending(MsgPendingPromptDeleteFail, err)
			}
		}
	}
	return len(stale)
}

func (s *PendingStore) evictExpired() []PendingInteraction {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ttl <= 0 {
		return nil
	}
	now := s.now()
	var stale []PendingInteraction
	for id, slot := range s.entries {
		if s.expired(slot, now) {
			delete(s.entries, id)
			stale = append(stale, slot.interaction)
		}
	}
	if len(stale) > 0 {
		metricPendingEvicted.Add(float64(len(stale)))
		metricPendingEntries.Set(float64(len(s.entries)))
	}
	return stale
}

// StartJanitor has the RegisterDaemon starter shape: it reports whether it should run,
// the loop to launch, and the shutdown hook that stops it.
func (s *PendingStore) StartJanitor(ctx context.Context, interval time.Duration) (bool, func(), func()) {
	if s.ttl <= 0 || interval <= 0 {
		return false, nil, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	run := func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Sweep(); n > 0 {
					LogPending(MsgPendingSwept, n)
				}
			}
		}
	}

	shutdown := func() {
		LogPending(MsgPendingJanitorStop)
		cancel()
		<-done
	}

	return true, run, shutdown
}
