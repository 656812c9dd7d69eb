package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hiveci/hive/api"
	schedulerpkg "github.com/hiveci/hive/scheduler"
)

func handleListWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.WorkersResponse{
		Status:  api.StatusSuccess,
		Workers: scheduler.Workers(),
	})
}

func handleRegisterWorker(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterWorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" || req.URL == "" || req.Session == "" || req.Slots < 1 {
		writeFailure(w, http.StatusBadRequest, "worker id, url, session and a positive slot count are required")
		return
	}

	scheduler.RegisterWorker(req.ID, req.URL, req.Session, req.Slots)
	writeJSON(w, http.StatusOK, api.GenericResponse{Status: api.StatusSuccess})
}

func handleWorkerHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := scheduler.WorkerHeartbeat(id); err != nil {
		if errors.Is(err, schedulerpkg.ErrUnknownWorker) {
			// Tell the worker to re-register, e.g. after a server restart.
			writeFailure(w, http.StatusNotFound, "unknown worker")
			return
		}
		writeFailure(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.GenericResponse{Status: api.StatusSuccess})
}
