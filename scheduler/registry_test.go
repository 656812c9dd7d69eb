package scheduler

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndHeartbeat(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	r.Register("w1", "http://w1", "s1", 2, now)

	info, ok := r.Worker("w1")
	require.True(t, ok)
	assert.Equal(t, "http://w1", info.URL)
	assert.Equal(t, 2, info.Slots)
	assert.Equal(t, 0, info.BusySlots)
	assert.True(t, info.Reachable)

	assert.NoError(t, r.Heartbeat("w1", now.Add(time.Second)))
	assert.ErrorIs(t, r.Heartbeat("nope", now), ErrUnknownWorker)
}

func TestRegistryClaimSpreadsToLeastBusyWorker(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.Register("busy", "http://busy", "s1", 3, now)
	r.Register("idle", "http://idle", "s1", 3, now)

	ref, ok := r.ClaimAnySlot(1, 0)
	require.True(t, ok)
	// Both are idle; ties break on the smaller worker id.
	assert.Equal(t, "busy", ref.Worker)

	ref, ok = r.ClaimAnySlot(1, 1)
	require.True(t, ok)
	assert.Equal(t, "idle", ref.Worker)
}

func TestRegistryClaimExhaustsCapacity(t *testing.T) {
	r := NewRegistry()
	r.Register("w1", "http://w1", "s1", 2, time.Now())

	_, ok := r.ClaimAnySlot(1, 0)
	require.True(t, ok)
	_, ok = r.ClaimAnySlot(1, 1)
	require.True(t, ok)
	_, ok = r.ClaimAnySlot(1, 2)
	assert.False(t, ok)

	info, _ := r.Worker("w1")
	assert.Equal(t, 2, info.BusySlots)
}

func TestRegistryNeverDoubleClaimsASlot(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	for i := 0; i < 4; i++ {
		r.Register(fmt.Sprintf("w%d", i), "http://w", "s1", 8, now)
	}

	var mu sync.Mutex
	claimed := map[SlotRef]int{}
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(ordinal int) {
			defer wg.Done()
			ref, ok := r.ClaimAnySlot(1, ordinal)
			if !ok {
				return
			}
			mu.Lock()
			claimed[ref]++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Len(t, claimed, 32) // the whole fleet, exactly once each
	for ref, count := range claimed {
		assert.Equal(t, 1, count, "slot %v claimed more than once", ref)
	}
}

func TestRegistryReleaseRejectsStaleOwner(t *testing.T) {
	r := NewRegistry()
	r.Register("w1", "http://w1", "s1", 1, time.Now())

	ref, ok := r.ClaimAnySlot(7, 3)
	require.True(t, ok)

	assert.False(t, r.Release(ref, 7, 4), "wrong ordinal must not release")
	assert.False(t, r.Release(ref, 8, 3), "wrong build must not release")
	assert.True(t, r.Release(ref, 7, 3))
	assert.False(t, r.Release(ref, 7, 3), "double release must be a no-op")
}

func TestRegistryExpireForceReleasesClaims(t *testing.T) {
	r := NewRegistry()
	start := time.Now()
	r.Register("old", "http://old", "s1", 2, start)
	r.Register("fresh", "http://fresh", "s1", 1, start.Add(40*time.Second))

	// The balancer favors the smaller id on ties, so the first claim lands
	// on "fresh" and the second on "old".
	refFresh, ok := r.ClaimAnySlot(1, 0)
	require.True(t, ok)
	require.Equal(t, "fresh", refFresh.Worker)
	refOld, ok := r.ClaimAnySlot(1, 1)
	require.True(t, ok)
	require.Equal(t, "old", refOld.Worker)

	released := r.ExpireWorkers(45*time.Second, start.Add(50*time.Second))
	require.Len(t, released, 1)
	assert.Equal(t, Claim{Slot: refOld, BuildID: 1, Ordinal: 1}, released[0])

	info, _ := r.Worker("old")
	assert.False(t, info.Reachable)
	assert.Equal(t, 0, info.BusySlots)
	assert.True(t, r.HasReachable())

	// A later expiry pass must not report the same claims again.
	assert.Empty(t, r.ExpireWorkers(45*time.Second, start.Add(55*time.Second)))
}

func TestRegistryReregisterKeepsClaimedSlots(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.Register("w1", "http://w1", "s1", 2, now)

	ref, ok := r.ClaimAnySlot(1, 0)
	require.True(t, ok)

	released := r.Register("w1", "http://w1:8080", "s1", 4, now.Add(time.Second))
	assert.Empty(t, released)

	info, _ := r.Worker("w1")
	assert.Equal(t, "http://w1:8080", info.URL)
	assert.Equal(t, 4, info.Slots)
	assert.Equal(t, 1, info.BusySlots)
	assert.True(t, r.Release(ref, 1, 0))
}

func TestRegistrySessionChangeForceReleasesClaims(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.Register("w1", "http://w1", "s1", 2, now)

	ref, ok := r.ClaimAnySlot(1, 0)
	require.True(t, ok)

	// A new session means the old process is gone, so its claims must not
	// survive the re-registration.
	released := r.Register("w1", "http://w1", "s2", 2, now.Add(time.Second))
	require.Len(t, released, 1)
	assert.Equal(t, Claim{Slot: ref, BuildID: 1, Ordinal: 0}, released[0])

	info, _ := r.Worker("w1")
	assert.Equal(t, 0, info.BusySlots)
	assert.False(t, r.Release(ref, 1, 0), "stale release after a session change must be a no-op")
}

func TestRegistryShrinkingSlotsReleasesTruncatedClaims(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.Register("w1", "http://w1", "s1", 3, now)

	var refs []SlotRef
	for i := 0; i < 3; i++ {
		ref, ok := r.ClaimAnySlot(1, i)
		require.True(t, ok)
		refs = append(refs, ref)
	}

	released := r.Register("w1", "http://w1", "s1", 1, now.Add(time.Second))
	require.Len(t, released, 2)

	info, _ := r.Worker("w1")
	assert.Equal(t, 1, info.Slots)
	assert.Equal(t, 1, info.BusySlots)
	assert.True(t, r.Release(refs[0], 1, 0), "the surviving slot keeps its claim")
}
