package scheduler

import "time"

type AtomStatus string

const (
	AtomPending   AtomStatus = "pending"
	AtomClaimed   AtomStatus = "claimed"
	AtomRunning   AtomStatus = "running"
	AtomSucceeded AtomStatus = "succeeded"
	AtomFailed    AtomStatus = "failed"
	AtomTimedOut  AtomStatus = "timed_out"
)

// Terminal reports whether the status is final for an atom.
func (s AtomStatus) Terminal() bool {
	switch s {
	case AtomSucceeded, AtomFailed, AtomTimedOut:
		return true
	}
	return false
}

// Atom is the smallest independently schedulable unit of work: one value of
// the job's free variable, identified within its build by an ordinal that
// matches the atomizer's output order. Atoms are created in bulk when
// atomization completes and live as long as their build.
type Atom struct {
	Ordinal int
	Value   string

	Status   AtomStatus
	Worker   string // assigned worker id while claimed or running
	Slot     int
	ExitCode *int
	Error    string
	Retries  int

	StartedAt time.Time
	EndedAt   time.Time
}

func (a *Atom) failed() bool {
	return a.Status == AtomFailed || a.Status == AtomTimedOut
}
