package scheduler

type Event interface{}

// Builds

type EventBuildQueued struct {
	Build uint64
	Job   string
}

type EventBuildStarted struct {
	Build uint64
	Atoms int
}

type EventBuildFinished struct {
	Build  uint64
	Status BuildStatus
}

// Atoms

type EventAtomDispatched struct {
	Build   uint64
	Ordinal int
	Worker  string
	Slot    int
}

type EventAtomFinished struct {
	Build    uint64
	Ordinal  int
	Status   AtomStatus
	ExitCode int
}

type EventAtomRequeued struct {
	Build   uint64
	Ordinal int
	Reason  string
}

// Workers

type EventWorkerRegistered struct {
	Worker string
	Slots  int
}

type EventWorkerLost struct {
	Worker        string
	ReleasedSlots int
}
