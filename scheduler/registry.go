package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/hiveci/hive/api"
	"github.com/samber/lo"
)

// Worker is one fleet member offering execution slots. Session identifies
// one agent process lifetime: a re-registration with a new session means the
// previous process, and everything it had in flight, is gone.
type Worker struct {
	ID            string
	URL           string
	Session       string
	Slots         int
	LastHeartbeat time.Time
	Reachable     bool
}

// slot is one concurrent-execution capacity unit on a specific worker.
// A claimed slot remembers which atom holds it so that stale releases can
// be rejected.
type slot struct {
	index   int
	claimed bool
	buildID uint64
	ordinal int
}

// SlotRef identifies a claimed slot across aggregate boundaries. The
// scheduler and collector pass these around instead of holding references
// into the registry.
type SlotRef struct {
	Worker string
	Index  int
}

// Claim is a force-released slot claim, reported when a worker is marked
// unreachable so the owning atoms can be returned to PENDING.
type Claim struct {
	Slot    SlotRef
	BuildID uint64
	Ordinal int
}

// Registry exclusively owns the worker and slot records of the fleet. All
// mutation happens under its single mutex; claim and release are the only
// slot state transitions.
type Registry struct {
	mu      sync.Mutex
	workers map[string]*Worker
	slots   map[string][]*slot
}

func NewRegistry() *Registry {
	return &Registry{
		workers: make(map[string]*Worker),
		slots:   make(map[string][]*slot),
	}
}

// Register adds a worker or refreshes an existing one. Re-registering
// updates the slot count and clears the unreachable flag; slots currently
// claimed are preserved when the session is unchanged and the count allows
// it. A changed session force-releases every claim of the previous process,
// and the released claims are returned so the caller can requeue the atoms
// they held. Claims lost to a shrunk slot count get the same treatment.
func (r *Registry) Register(id, url, session string, slots int, now time.Time) []Claim {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[id]
	if !ok {
		w = &Worker{ID: id}
		r.workers[id] = w
	}

	var released []Claim
	existing := r.slots[id]
	if ok && w.Session != session {
		released = append(released, forceRelease(id, existing)...)
		existing = nil
	}

	w.URL = url
	w.Session = session
	w.Slots = slots
	w.LastHeartbeat = now
	w.Reachable = true

	if len(existing) > slots {
		released = append(released, forceRelease(id, existing[slots:])...)
		existing = existing[:slots]
	}
	for i := len(existing); i < slots; i++ {
		existing = append(existing, &slot{index: i})
	}
	r.slots[id] = existing
	return released
}

// forceRelease frees every claimed slot in the list and reports the claims
// they held. Callers hold the registry mutex.
func forceRelease(worker string, slots []*slot) []Claim {
	var released []Claim
	for _, s := range slots {
		if !s.claimed {
			continue
		}
		released = append(released, Claim{
			Slot:    SlotRef{Worker: worker, Index: s.index},
			BuildID: s.buildID,
			Ordinal: s.ordinal,
		})
		s.claimed = false
	}
	return released
}

// Heartbeat refreshes a worker's last-seen time and restores reachability.
func (r *Registry) Heartbeat(id string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return ErrUnknownWorker
	}
	w.LastHeartbeat = now
	w.Reachable = true
	return nil
}

// ClaimAnySlot hands out one free slot, spreading load by picking the
// reachable worker with the fewest busy slots (ties broken by worker id).
// Returns false when the fleet has no capacity.
func (r *Registry) ClaimAnySlot(buildID uint64, ordinal int) (SlotRef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	type candidate struct {
		id   string
		busy int
		free *slot
	}
	var candidates []candidate
	for id, w := range r.workers {
		if !w.Reachable {
			continue
		}
		var free *slot
		busy := 0
		for _, s := range r.slots[id] {
			if s.claimed {
				busy++
			} else if free == nil {
				free = s
			}
		}
		if free != nil {
			candidates = append(candidates, candidate{id: id, busy: busy, free: free})
		}
	}
	if len(candidates) == 0 {
		return SlotRef{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].busy != candidates[j].busy {
			return candidates[i].busy < candidates[j].busy
		}
		return candidates[i].id < candidates[j].id
	})

	chosen := candidates[0]
	chosen.free.claimed = true
	chosen.free.buildID = buildID
	chosen.free.ordinal = ordinal
	return SlotRef{Worker: chosen.id, Index: chosen.free.index}, true
}

// Release returns a slot to FREE, but only if it is still held by the given
// build and atom. Stale releases after a force-release are no-ops.
func (r *Registry) Release(ref SlotRef, buildID uint64, ordinal int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.slotLocked(ref)
	if s == nil || !s.claimed || s.buildID != buildID || s.ordinal != ordinal {
		return false
	}
	s.claimed = false
	return true
}

// ExpireWorkers marks every worker silent past the timeout as unreachable,
// force-releases its claimed slots, and returns the claims so the caller
// can requeue the atoms they held.
func (r *Registry) ExpireWorkers(timeout time.Duration, now time.Time) []Claim {
	r.mu.Lock()
	defer r.mu.Unlock()

	var released []Claim
	for id, w := range r.workers {
		if !w.Reachable || now.Sub(w.LastHeartbeat) < timeout {
			continue
		}
		w.Reachable = false
		released = append(released, forceRelease(id, r.slots[id])...)
	}
	return released
}

// Worker returns a snapshot of a single worker record.
func (r *Registry) Worker(id string) (api.WorkerInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return api.WorkerInfo{}, false
	}
	return r.infoLocked(w), true
}

// Workers returns a snapshot of the fleet, ordered by worker id.
func (r *Registry) Workers() []api.WorkerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := lo.Map(lo.Values(r.workers), func(w *Worker, _ int) api.WorkerInfo {
		return r.infoLocked(w)
	})
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// HasReachable reports whether at least one worker is currently reachable.
func (r *Registry) HasReachable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.SomeBy(lo.Values(r.workers), func(w *Worker) bool { return w.Reachable })
}

func (r *Registry) infoLocked(w *Worker) api.WorkerInfo {
	busy := lo.CountBy(r.slots[w.ID], func(s *slot) bool { return s.claimed })
	return api.WorkerInfo{
		ID:        w.ID,
		URL:       w.URL,
		Slots:     w.Slots,
		BusySlots: busy,
		Reachable: w.Reachable,
	}
}

func (r *Registry) slotLocked(ref SlotRef) *slot {
	for _, s := range r.slots[ref.Worker] {
		if s.index == ref.Index {
			return s
		}
	}
	return nil
}
