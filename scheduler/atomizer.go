package scheduler

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strings"
)

// atomizer turns a job specification into the build's atom list by running
// the job's atomizer command exactly once and splitting its stdout on line
// boundaries. Atomization is never interleaved with execution: the whole
// atom sequence exists before the first dispatch.
type atomizer struct {
	log *slog.Logger
}

// Atomize executes the atomizer command in the job's project directory and
// returns one PENDING atom per non-empty output line, in emission order.
// A non-zero exit or an empty atom list is an AtomizationError: a build
// cannot have zero units of work.
func (a *atomizer) Atomize(ctx context.Context, job Job) ([]*Atom, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", job.Atomizer)
	cmd.Dir = job.ProjectDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
			err = nil
		}
		a.log.Error("Atomizer command failed",
			"job", job.Name, "command", job.Atomizer, "exit_code", exitCode, "stderr", stderr.String())
		return nil, &AtomizationError{Command: job.Atomizer, ExitCode: exitCode, Output: stderr.String(), Err: err}
	}

	var atoms []*Atom
	for _, line := range strings.Split(stdout.String(), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		atoms = append(atoms, &Atom{
			Ordinal: len(atoms),
			Value:   line,
			Status:  AtomPending,
		})
	}
	if len(atoms) == 0 {
		a.log.Error("Atomizer produced no atoms", "job", job.Name, "command", job.Atomizer)
		return nil, &AtomizationError{Command: job.Atomizer, Output: "produced no atoms"}
	}

	a.log.Info("Atomization complete", "job", job.Name, "atoms", len(atoms))
	return atoms, nil
}
