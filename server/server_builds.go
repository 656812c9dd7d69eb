package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hiveci/hive/api"
	schedulerpkg "github.com/hiveci/hive/scheduler"
)

func handleSubmitBuild(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitBuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := scheduler.Submit(schedulerpkg.Job{JobSpec: req.Job})
	if err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, api.SubmitBuildResponse{
		Status:  api.StatusSuccess,
		BuildID: id,
	})
}

func handleListBuilds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.BuildsResponse{
		Status: api.StatusSuccess,
		Builds: scheduler.Builds(),
	})
}

func handleQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.BuildsResponse{
		Status: api.StatusSuccess,
		Builds: scheduler.Queue(),
	})
}

func handleBuildDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := buildID(w, r)
	if !ok {
		return
	}

	detail, err := scheduler.BuildDetail(id)
	if errors.Is(err, schedulerpkg.ErrNotFound) {
		writeFailure(w, http.StatusNotFound, "build not found")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func handleUpdateBuild(w http.ResponseWriter, r *http.Request) {
	id, ok := buildID(w, r)
	if !ok {
		return
	}

	var req api.CancelBuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Status != string(schedulerpkg.BuildCanceled) {
		writeFailure(w, http.StatusBadRequest, "the only supported status update is 'canceled'")
		return
	}

	switch err := scheduler.Cancel(id); {
	case errors.Is(err, schedulerpkg.ErrNotFound):
		writeFailure(w, http.StatusNotFound, "build not found")
	case errors.Is(err, schedulerpkg.ErrBuildTerminal):
		writeFailure(w, http.StatusConflict, err.Error())
	default:
		writeJSON(w, http.StatusOK, api.GenericResponse{Status: api.StatusSuccess})
	}
}

func handleBuildArtifacts(w http.ResponseWriter, r *http.Request) {
	id, ok := buildID(w, r)
	if !ok {
		return
	}

	bundle, err := scheduler.ArtifactBundle(id)
	switch {
	case errors.Is(err, schedulerpkg.ErrNotFound):
		writeFailure(w, http.StatusNotFound, "build not found")
		return
	case errors.Is(err, schedulerpkg.ErrBuildRunning):
		writeFailure(w, http.StatusConflict, "build is still in progress")
		return
	}

	if _, err := os.Stat(bundle); err != nil {
		// The verdict is in but aggregation has not finished yet.
		writeFailure(w, http.StatusNotFound, "artifact bundle is not ready")
		return
	}
	w.Header().Set("Content-Type", "application/gzip")
	http.ServeFile(w, r, bundle)
}

// handleAtomResult is the worker-facing completion report endpoint. Reports
// always yield SUCCESS: duplicate or stale reports are idempotent no-ops in
// the collector, not errors.
func handleAtomResult(w http.ResponseWriter, r *http.Request) {
	id, ok := buildID(w, r)
	if !ok {
		return
	}
	ordinal, err := strconv.Atoi(chi.URLParam(r, "ordinal"))
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid atom ordinal")
		return
	}

	var req api.AtomResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var artifact []byte
	if req.Artifact != "" {
		if artifact, err = base64.StdEncoding.DecodeString(req.Artifact); err != nil {
			writeFailure(w, http.StatusBadRequest, "invalid artifact payload")
			return
		}
	}

	scheduler.Report(schedulerpkg.Report{
		BuildID:  id,
		Ordinal:  ordinal,
		Worker:   req.WorkerID,
		ExitCode: req.ExitCode,
		TimedOut: req.TimedOut,
		Error:    req.Error,
		Artifact: artifact,
	})
	writeJSON(w, http.StatusOK, api.GenericResponse{Status: api.StatusSuccess})
}

func buildID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid build id")
		return 0, false
	}
	return id, true
}
