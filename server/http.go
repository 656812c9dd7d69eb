package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hiveci/hive/api"
	"github.com/hiveci/hive/server/log"
)

func newRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/version", handleVersion)
		r.Get("/queue", handleQueue)

		r.Route("/build", func(r chi.Router) {
			r.Get("/", handleListBuilds)
			r.With(requireDigest).Post("/", handleSubmitBuild)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", handleBuildDetail)
				r.With(requireDigest).Put("/", handleUpdateBuild)
				r.Get("/artifacts.tar.gz", handleBuildArtifacts)
				r.With(requireDigest).Post("/atom/{ordinal}/result", handleAtomResult)
			})
		})

		r.Route("/slave", func(r chi.Router) {
			r.Get("/", handleListWorkers)
			r.With(requireDigest).Post("/", handleRegisterWorker)
			r.With(requireDigest).Post("/{id}/heartbeat", handleWorkerHeartbeat)
		})
	})

	return r
}

// requireDigest rejects mutating requests whose message authentication
// digest does not prove knowledge of the cluster secret. Rejected requests
// never reach the engine: no state is mutated.
func requireDigest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeFailure(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		if !api.DigestValid(secret, body, r.Header.Get(api.DigestHeader)) {
			log.Warn("Rejected request with bad authentication digest",
				"method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
			writeFailure(w, http.StatusUnauthorized, "invalid message authentication digest")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("Failed to write response", "error", err)
	}
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, api.GenericResponse{Status: api.StatusFailure, Error: message})
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.VersionResponse{
		Status:  api.StatusSuccess,
		Version: version,
		Commit:  commit,
	})
}
