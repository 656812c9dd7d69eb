package main

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/alessio/shellescape"
	"github.com/hiveci/hive/api"
	"github.com/klauspost/compress/gzip"
)

// executor runs atoms on this machine, bounded by the agent's declared slot
// count. The master claims slots before dispatching, so the semaphore only
// guards against a confused or restarted master overcommitting us.
type executor struct {
	workspace string
	slots     chan struct{}
	log       *slog.Logger
}

func newExecutor(workspace string, slots int, log *slog.Logger) *executor {
	e := &executor{
		workspace: workspace,
		slots:     make(chan struct{}, slots),
		log:       log,
	}
	for i := 0; i < slots; i++ {
		e.slots <- struct{}{}
	}
	return e
}

var errBusy = errors.New("all executor slots are busy")

// Start claims a local slot and runs the atom asynchronously. The result is
// reported back to the master when the atom finishes.
func (e *executor) Start(ctx context.Context, req api.DispatchRequest, report func(api.DispatchRequest, api.AtomResultRequest)) error {
	select {
	case <-e.slots:
	default:
		return errBusy
	}

	go func() {
		defer func() { e.slots <- struct{}{} }()
		report(req, e.run(ctx, req))
	}()
	return nil
}

// run executes setup then the templated commands in one shell (stopping at
// the first failure), always runs teardown, and tars up the atom's artifact
// directory.
func (e *executor) run(ctx context.Context, req api.DispatchRequest) api.AtomResultRequest {
	log := e.log.With("build", req.BuildID, "atom", req.AtomOrdinal)
	log.Info("Executing atom", "executor", req.ExecutorIndex)

	dir := filepath.Join(e.workspace, fmt.Sprintf("build_%d", req.BuildID), fmt.Sprintf("atom_%d", req.AtomOrdinal))
	artifactDir := filepath.Join(dir, "artifacts")
	if err := os.MkdirAll(artifactDir, 0755); err != nil {
		return api.AtomResultRequest{ExitCode: -1, Error: fmt.Sprintf("failed to create workspace: %s", err)}
	}

	console, err := os.Create(filepath.Join(artifactDir, "console.log"))
	if err != nil {
		return api.AtomResultRequest{ExitCode: -1, Error: fmt.Sprintf("failed to create console log: %s", err)}
	}
	defer console.Close()

	runCtx := ctx
	if req.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	env := append(os.Environ(),
		"ARTIFACT_DIR="+artifactDir,
		fmt.Sprintf("EXECUTOR_INDEX=%d", req.ExecutorIndex),
		fmt.Sprintf("BUILD_ID=%d", req.BuildID),
	)
	if req.ProjectDir != "" {
		env = append(env, "PROJECT_DIR="+req.ProjectDir)
	}

	result := api.AtomResultRequest{}

	// Setup and commands share one shell so the atom's free variable export
	// is visible to every command; the first failure stops the script.
	script := []string{"set -e", fmt.Sprintf("export %s=%s", req.EnvName, shellescape.Quote(req.EnvValue))}
	script = append(script, req.SetupCommands...)
	script = append(script, req.Commands...)
	result.ExitCode = e.runScript(runCtx, strings.Join(script, "\n"), req.ProjectDir, env, console)
	if runCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.Error = fmt.Sprintf("atom timed out after %ds", req.TimeoutSeconds)
	} else if result.ExitCode != 0 {
		result.Error = fmt.Sprintf("atom command exited with code %d", result.ExitCode)
	}

	// Teardown always runs, even after a failure or timeout, and cannot
	// change the verdict.
	if len(req.TeardownCommands) > 0 {
		if code := e.runScript(ctx, strings.Join(req.TeardownCommands, "\n"), req.ProjectDir, env, console); code != 0 {
			log.Warn("Teardown failed", "exit_code", code)
		}
	}

	if payload, err := tarDirectory(artifactDir); err != nil {
		log.Warn("Failed to archive artifacts", "error", err)
	} else {
		result.Artifact = payload
	}

	log.Info("Atom finished", "exit_code", result.ExitCode, "timed_out", result.TimedOut)
	return result
}

func (e *executor) runScript(ctx context.Context, script, dir string, env []string, console io.Writer) int {
	cmd := exec.CommandContext(ctx, "sh", "-c", script)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdout = console
	cmd.Stderr = console

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		return -1
	}
	return 0
}

// tarDirectory archives a directory into an in-memory gzipped tarball,
// base64-ready for the result report.
func tarDirectory(dir string) (string, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil || rel == "." {
			return err
		}
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		src, err := os.Open(p)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	})
	if err != nil {
		return "", err
	}
	if err := tw.Close(); err != nil {
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
