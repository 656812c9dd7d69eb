package scheduler

import (
	"fmt"
	"log/slog"
	"time"
)

type Config struct {
	Logger *slog.Logger `json:"-"`

	// DataRoot is the directory under which per-build artifact directories
	// and bundles are written.
	DataRoot string `json:"data-root"`

	// WorkerClient delivers atom execution requests to workers.
	WorkerClient WorkerClient `json:"-"`

	// HeartbeatTimeout is how long a worker may stay silent before it is
	// marked unreachable and its claimed slots are force-released.
	HeartbeatTimeout time.Duration `json:"heartbeat-timeout"`

	// HeartbeatInterval is the period of the unreachability scan.
	HeartbeatInterval time.Duration `json:"heartbeat-interval"`

	// SubmissionTimeout bounds how long a build may wait in QUEUED for a
	// reachable worker before going to ERROR.
	SubmissionTimeout time.Duration `json:"submission-timeout"`

	// AtomRetryBudget is how many times an atom lost to a worker
	// communication fault is returned to PENDING before it is declared
	// failed. Command failures never retry.
	AtomRetryBudget int `json:"atom-retry-budget"`

	// AtomTimeout bounds a single atom execution on a worker. Zero means
	// no limit.
	AtomTimeout time.Duration `json:"atom-timeout"`

	// now is replaceable in tests.
	now func() time.Time
}

func Validate(c Config) error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.DataRoot == "" {
		return fmt.Errorf("data root is required")
	}
	if c.WorkerClient == nil {
		return fmt.Errorf("worker client is required")
	}
	if c.HeartbeatTimeout <= 0 {
		return fmt.Errorf("heartbeat timeout must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if c.SubmissionTimeout <= 0 {
		return fmt.Errorf("submission timeout must be positive")
	}
	if c.AtomRetryBudget < 0 {
		return fmt.Errorf("atom retry budget must not be negative")
	}
	return nil
}
