package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hiveci/hive/agent/flags"
	"github.com/hiveci/hive/api"
	"github.com/spf13/viper"
)

// Versioning information set at build time
var version, commit = "dev", "n/a"

var log *slog.Logger

func main() {
	if err := initLog(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log.Info("Hive agent starting up...", "version", version, "commit", commit)

	secret := []byte(viper.GetString(flags.Secret))
	if len(secret) < 8 {
		log.Error("Secret must be at least 8 characters long")
		os.Exit(1)
	}

	listen := viper.GetString(flags.Listen)
	advertise := viper.GetString(flags.AdvertiseURL)
	if advertise == "" {
		host, _ := os.Hostname()
		advertise = fmt.Sprintf("http://%s%s", host, listen[strings.LastIndex(listen, ":"):])
	}
	slots := viper.GetInt(flags.Slots)
	// The worker id doubles as a URL path segment in the heartbeat route, so
	// it must stay slash-free. The session fences one process lifetime: a
	// re-registration with a new one tells the master our previous in-flight
	// executions are gone.
	workerID := strings.TrimPrefix(advertise, "http://")
	session := fmt.Sprintf("%d-%d", os.Getpid(), time.Now().Unix())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	exec := newExecutor(viper.GetString(flags.Workspace), slots, log.With("component", "executor"))
	master := newMasterClient(viper.GetString(flags.Master), workerID, session, secret, log.With("component", "master"))

	if err := master.Register(ctx, advertise, slots); err != nil {
		log.Error("Failed to register with master", "error", err)
		os.Exit(1)
	}
	log.Info("Registered with master", "worker", workerID, "slots", slots)

	go master.HeartbeatLoop(ctx, viper.GetDuration(flags.HeartbeatInterval), advertise, slots)

	server := &http.Server{
		Addr:    listen,
		Handler: newRouter(ctx, secret, exec, master),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		server.Shutdown(shutdownCtx)
	}()

	log.Info("Agent listening", "address", listen)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("Failed to serve", "error", err)
		os.Exit(1)
	}
	log.Info("Shutdown completed. Bye!")
}

func initLog() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString(flags.LogLevel))); err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}
	options := slog.HandlerOptions{Level: level}

	switch format := viper.GetString(flags.LogFormat); format {
	case "json":
		log = slog.New(slog.NewJSONHandler(os.Stdout, &options))
	case "text":
		log = slog.New(slog.NewTextHandler(os.Stdout, &options))
	default:
		return fmt.Errorf("unknown log format '%s'", format)
	}
	log = log.With("component", "agent")
	return nil
}

func newRouter(ctx context.Context, secret []byte, exec *executor, master *masterClient) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/v1/executor", func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, api.GenericResponse{Status: api.StatusFailure, Error: "failed to read request body"})
			return
		}
		if !api.DigestValid(secret, body, req.Header.Get(api.DigestHeader)) {
			log.Warn("Rejected dispatch with bad authentication digest", "remote", req.RemoteAddr)
			writeJSON(w, http.StatusUnauthorized, api.GenericResponse{Status: api.StatusFailure, Error: "invalid message authentication digest"})
			return
		}

		var dispatch api.DispatchRequest
		if err := json.NewDecoder(bytes.NewReader(body)).Decode(&dispatch); err != nil {
			writeJSON(w, http.StatusBadRequest, api.GenericResponse{Status: api.StatusFailure, Error: "invalid request body"})
			return
		}

		// Execution outlives the dispatch request; it stops only on agent
		// shutdown.
		err = exec.Start(ctx, dispatch, func(req api.DispatchRequest, result api.AtomResultRequest) {
			master.ReportResult(ctx, req, result)
		})
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, api.GenericResponse{Status: api.StatusFailure, Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusAccepted, api.GenericResponse{Status: api.StatusSuccess})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
