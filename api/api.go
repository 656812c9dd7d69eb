// Package api defines the JSON wire types shared by the server, the worker
// agent and the command-line client, along with the request authentication
// digest scheme.
package api

// Status is the application-level verdict carried by every JSON response,
// in addition to the HTTP status code.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// JobSpec is the caller-supplied definition of a distributable test suite.
// It is parsed and validated outside the core; the engine treats it as
// read-only.
type JobSpec struct {
	Name             string   `json:"name" yaml:"name"`
	ProjectDir       string   `json:"project_dir,omitempty" yaml:"project_dir"`
	AtomizerVar      string   `json:"atomizer_var" yaml:"atomizer_var"`
	Atomizer         string   `json:"atomizer" yaml:"atomizer"`
	SetupCommands    []string `json:"setup,omitempty" yaml:"setup"`
	Commands         []string `json:"commands" yaml:"commands"`
	TeardownCommands []string `json:"teardown,omitempty" yaml:"teardown"`
	MaxExecutors     int      `json:"max_executors,omitempty" yaml:"max_executors"`
}

// SubmitBuildRequest is the body of POST /v1/build.
type SubmitBuildRequest struct {
	Job JobSpec `json:"job"`
}

// SubmitBuildResponse acknowledges a build submission with 202.
type SubmitBuildResponse struct {
	Status  Status `json:"STATUS"`
	BuildID uint64 `json:"build_id"`
}

// BuildSummary is one entry of GET /v1/build and GET /v1/queue.
type BuildSummary struct {
	ID          uint64 `json:"id"`
	JobName     string `json:"job_name"`
	Status      string `json:"status"`
	NumAtoms    int    `json:"num_atoms"`
	NumFinished int    `json:"num_finished"`
	CreatedAt   string `json:"created_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// BuildDetail is the body of GET /v1/build/{id}. Unlike the other response
// bodies it carries no verdict envelope, so the embedded build status is the
// only "status" field.
type BuildDetail struct {
	BuildSummary
	Completion   string  `json:"completion"`
	FailedAtoms  []int   `json:"failed_atoms"`
	ErrorMessage *string `json:"error_message"`
	ArtifactsURL *string `json:"artifacts_url"`
}

// BuildsResponse is the body of GET /v1/build and GET /v1/queue.
type BuildsResponse struct {
	Status Status         `json:"STATUS"`
	Builds []BuildSummary `json:"builds"`
}

// CancelBuildRequest is the body of PUT /v1/build/{id}. The only supported
// status transition a caller may request is "canceled".
type CancelBuildRequest struct {
	Status string `json:"status"`
}

// RegisterWorkerRequest is the body of POST /v1/slave. Session is unique per
// agent process; re-registering with a new session tells the server that the
// previous process and its in-flight executions are gone.
type RegisterWorkerRequest struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Session string `json:"session"`
	Slots   int    `json:"slots"`
}

// WorkerInfo is one entry of GET /v1/slave. The route name is kept for
// compatibility with external autoscaling integrations that map instance
// IDs to worker ids before issuing a shutdown.
type WorkerInfo struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Slots     int    `json:"slots"`
	BusySlots int    `json:"busy_slots"`
	Reachable bool   `json:"reachable"`
}

// WorkersResponse is the body of GET /v1/slave.
type WorkersResponse struct {
	Status  Status       `json:"STATUS"`
	Workers []WorkerInfo `json:"workers"`
}

// DispatchRequest is sent by the server to a worker's /v1/executor endpoint
// to start one atom on one executor slot.
type DispatchRequest struct {
	BuildID          uint64   `json:"build_id"`
	AtomOrdinal      int      `json:"atom_ordinal"`
	ExecutorIndex    int      `json:"executor_index"`
	EnvName          string   `json:"env_name"`
	EnvValue         string   `json:"env_value"`
	SetupCommands    []string `json:"setup,omitempty"`
	Commands         []string `json:"commands"`
	TeardownCommands []string `json:"teardown,omitempty"`
	ProjectDir       string   `json:"project_dir,omitempty"`
	TimeoutSeconds   int      `json:"timeout_seconds,omitempty"`
}

// AtomResultRequest is the completion report a worker posts back to
// POST /v1/build/{id}/atom/{ordinal}/result. Artifact is a base64-encoded
// gzipped tarball of the atom's artifact directory, and may be empty.
type AtomResultRequest struct {
	WorkerID string `json:"worker_id"`
	ExitCode int    `json:"exit_code"`
	TimedOut bool   `json:"timed_out,omitempty"`
	Error    string `json:"error,omitempty"`
	Artifact string `json:"artifact,omitempty"`
}

// GenericResponse is used for responses that only carry a verdict.
type GenericResponse struct {
	Status Status `json:"STATUS"`
	Error  string `json:"error,omitempty"`
}

// VersionResponse is the body of GET /v1/version.
type VersionResponse struct {
	Status  Status `json:"STATUS"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}
