package scheduler

import (
	"fmt"

	"github.com/hiveci/hive/api"
)

// Job wraps the caller-supplied job specification. The specification itself
// is immutable; the engine only ever reads it.
type Job struct {
	api.JobSpec
}

// Validate checks the parts of a job specification the engine depends on.
func (j Job) Validate() error {
	if j.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if j.AtomizerVar == "" {
		return fmt.Errorf("job atomizer variable is required")
	}
	if j.Atomizer == "" {
		return fmt.Errorf("job atomizer command is required")
	}
	if len(j.Commands) == 0 {
		return fmt.Errorf("job requires at least one command")
	}
	if j.MaxExecutors < 0 {
		return fmt.Errorf("max_executors must not be negative")
	}
	return nil
}
