package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/hiveci/hive/api"
	"github.com/samber/lo"
)

type BuildStatus string

const (
	BuildQueued   BuildStatus = "queued"
	BuildBuilding BuildStatus = "building"
	BuildSuccess  BuildStatus = "success"
	BuildFailure  BuildStatus = "failure"
	BuildCanceled BuildStatus = "canceled"
	BuildError    BuildStatus = "error"
)

// Terminal reports whether the status is final for a build.
func (s BuildStatus) Terminal() bool {
	switch s {
	case BuildSuccess, BuildFailure, BuildCanceled, BuildError:
		return true
	}
	return false
}

// Build is the aggregate root for one job invocation. It exclusively owns
// its atoms; all mutation goes through the owning mutex so that API readers,
// the scheduler loop and the result collector see a consistent view.
type Build struct {
	ID  uint64
	Job Job

	mu           sync.Mutex
	status       BuildStatus
	atoms        []*Atom
	atomizing    bool
	errorMessage string
	createdAt    time.Time
	completedAt  time.Time
}

func newBuild(id uint64, job Job, now time.Time) *Build {
	return &Build{
		ID:        id,
		Job:       job,
		status:    BuildQueued,
		createdAt: now,
	}
}

func (b *Build) Status() BuildStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// setAtoms installs the atomization result and moves the build to BUILDING.
// Atoms keep the atomizer's emission order; the ordinal is significant for
// artifact naming downstream.
func (b *Build) setAtoms(atoms []*Atom) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.atomizing = false
	if b.status != BuildQueued {
		return false // canceled while atomizing
	}
	b.atoms = atoms
	b.status = BuildBuilding
	return true
}

// fail moves the build to a terminal failure state with a message. No-op if
// the build is already terminal.
func (b *Build) fail(status BuildStatus, message string, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status.Terminal() {
		return false
	}
	b.status = status
	b.errorMessage = message
	b.completedAt = now
	return true
}

// cancel marks the build CANCELED. In-flight atoms are abandoned: their late
// reports will be accepted and discarded.
func (b *Build) cancel(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status != BuildQueued && b.status != BuildBuilding {
		return false
	}
	b.status = BuildCanceled
	b.completedAt = now
	return true
}

// nextPending returns the first PENDING atom in ordinal order and the number
// of atoms currently claimed or running, or nil when none is eligible.
func (b *Build) nextPending() (*Atom, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status != BuildBuilding {
		return nil, 0
	}
	inFlight := lo.CountBy(b.atoms, func(a *Atom) bool {
		return a.Status == AtomClaimed || a.Status == AtomRunning
	})
	for _, a := range b.atoms {
		if a.Status == AtomPending {
			return a, inFlight
		}
	}
	return nil, inFlight
}

// claimAtom transitions an atom PENDING→CLAIMED and records its assignment.
func (b *Build) claimAtom(ordinal int, worker string, slot int, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status != BuildBuilding {
		return false
	}
	a := b.atom(ordinal)
	if a == nil || a.Status != AtomPending {
		return false
	}
	a.Status = AtomClaimed
	a.Worker = worker
	a.Slot = slot
	a.StartedAt = now
	return true
}

// markRunning transitions an atom CLAIMED→RUNNING once its worker has
// acknowledged the dispatch.
func (b *Build) markRunning(ordinal int, worker string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	a := b.atom(ordinal)
	if a == nil || a.Status != AtomClaimed || a.Worker != worker {
		return false
	}
	a.Status = AtomRunning
	return true
}

// requeueAtom returns a claimed or running atom to PENDING after a worker
// communication fault, consuming one unit of its retry budget. When the
// budget is exhausted the atom fails instead.
func (b *Build) requeueAtom(ordinal int, budget int, reason string, now time.Time) (requeued, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a := b.atom(ordinal)
	if a == nil || (a.Status != AtomClaimed && a.Status != AtomRunning) {
		return false, false
	}
	if a.Retries < budget {
		a.Retries++
		a.Status = AtomPending
		a.Worker = ""
		a.Slot = 0
		return true, false
	}
	a.Status = AtomFailed
	a.Error = reason
	a.EndedAt = now
	return false, true
}

// assignment returns the worker and slot an atom currently occupies, if it
// is claimed or running.
func (b *Build) assignment(ordinal int) (worker string, slot int, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a := b.atom(ordinal)
	if a == nil || (a.Status != AtomClaimed && a.Status != AtomRunning) {
		return "", 0, false
	}
	return a.Worker, a.Slot, true
}

// clearAssignment detaches an abandoned atom from its worker after its
// build turned terminal. The atom's result is discarded.
func (b *Build) clearAssignment(ordinal int, worker string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a := b.atom(ordinal)
	if a != nil && a.Worker == worker {
		a.Worker = ""
		a.Slot = 0
	}
}

// finishAtom applies a completion report to a running atom. Reports for
// atoms that are not currently RUNNING on the reporting worker are stale or
// duplicated and are dropped.
func (b *Build) finishAtom(ordinal int, worker string, exitCode int, timedOut bool, detail string, now time.Time) (applied bool, status AtomStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a := b.atom(ordinal)
	if a == nil || a.Worker != worker {
		return false, ""
	}
	if a.Status != AtomRunning && a.Status != AtomClaimed {
		return false, ""
	}
	switch {
	case timedOut:
		a.Status = AtomTimedOut
	case exitCode == 0:
		a.Status = AtomSucceeded
	default:
		a.Status = AtomFailed
	}
	a.ExitCode = lo.ToPtr(exitCode)
	a.Error = detail
	a.EndedAt = now
	return true, a.Status
}

// concludeIfFinished computes the final verdict once every atom is terminal:
// SUCCESS iff all atoms succeeded, FAILURE otherwise. Returns the status and
// whether the build just became terminal.
func (b *Build) concludeIfFinished(now time.Time) (BuildStatus, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status != BuildBuilding || len(b.atoms) == 0 {
		return b.status, false
	}
	failed := []int{}
	for _, a := range b.atoms {
		if !a.Status.Terminal() {
			return b.status, false
		}
		if a.failed() {
			failed = append(failed, a.Ordinal)
		}
	}
	if len(failed) == 0 {
		b.status = BuildSuccess
	} else {
		b.status = BuildFailure
		b.errorMessage = fmt.Sprintf("%d of %d atoms failed", len(failed), len(b.atoms))
	}
	b.completedAt = now
	return b.status, true
}

// neverDispatched reports whether the build is still QUEUED waiting for
// fleet capacity, which is the condition under which the submission timeout
// applies. A build whose atomizer is running has found capacity and is no
// longer waiting.
func (b *Build) neverDispatched() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status == BuildQueued && !b.atomizing && len(b.atoms) == 0
}

// beginAtomization flags the build as having its atomizer in flight so the
// scheduler does not start it twice. Returns false if already started.
func (b *Build) beginAtomization() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status != BuildQueued || b.atomizing {
		return false
	}
	b.atomizing = true
	return true
}

func (b *Build) atom(ordinal int) *Atom {
	if ordinal < 0 || ordinal >= len(b.atoms) {
		return nil
	}
	return b.atoms[ordinal]
}

// Summary renders the build for list endpoints.
func (b *Build) Summary() api.BuildSummary {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.summaryLocked()
}

func (b *Build) summaryLocked() api.BuildSummary {
	finished := lo.CountBy(b.atoms, func(a *Atom) bool { return a.Status.Terminal() })
	s := api.BuildSummary{
		ID:          b.ID,
		JobName:     b.Job.Name,
		Status:      string(b.status),
		NumAtoms:    len(b.atoms),
		NumFinished: finished,
		CreatedAt:   b.createdAt.UTC().Format(time.RFC3339),
	}
	if !b.completedAt.IsZero() {
		s.CompletedAt = b.completedAt.UTC().Format(time.RFC3339)
	}
	return s
}

// Detail renders the build for the detail endpoint. Terminal-only fields
// stay null until they are known.
func (b *Build) Detail() api.BuildDetail {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := api.BuildDetail{
		BuildSummary: b.summaryLocked(),
		FailedAtoms:  []int{},
	}
	if len(b.atoms) > 0 {
		finished := d.NumFinished
		d.Completion = fmt.Sprintf("%d/%d (%d%%)", finished, len(b.atoms), finished*100/len(b.atoms))
	} else {
		d.Completion = "0/0 (0%)"
	}
	for _, a := range b.atoms {
		if a.failed() {
			d.FailedAtoms = append(d.FailedAtoms, a.Ordinal)
		}
	}
	if b.status.Terminal() && b.errorMessage != "" {
		d.ErrorMessage = lo.ToPtr(b.errorMessage)
	}
	if b.status.Terminal() && b.status != BuildError {
		d.ArtifactsURL = lo.ToPtr(fmt.Sprintf("/v1/build/%d/artifacts.tar.gz", b.ID))
	}
	return d
}
