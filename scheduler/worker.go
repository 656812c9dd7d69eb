package scheduler

import (
	"context"

	"github.com/hiveci/hive/api"
)

// WorkerClient is the capability the engine uses to deliver an atom
// execution request to a worker. The single production implementation talks
// HTTP; tests substitute their own. Dispatch is called without any engine
// lock held and may block on the network.
type WorkerClient interface {
	Dispatch(ctx context.Context, worker api.WorkerInfo, req api.DispatchRequest) error
}
