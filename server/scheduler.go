package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hiveci/hive/api"
	schedulerpkg "github.com/hiveci/hive/scheduler"
	"github.com/hiveci/hive/server/flags"
	"github.com/hiveci/hive/server/log"
	"github.com/spf13/viper"
	"resty.dev/v3"
)

var scheduler *schedulerpkg.Scheduler

func createScheduler() error {
	config := schedulerpkg.Config{
		Logger:            log.Base.With("component", "scheduler"),
		DataRoot:          dataRoot,
		WorkerClient:      newWorkerClient(secret),
		HeartbeatTimeout:  viper.GetDuration(flags.HeartbeatTimeout),
		HeartbeatInterval: viper.GetDuration(flags.HeartbeatInterval),
		SubmissionTimeout: viper.GetDuration(flags.SubmissionTimeout),
		AtomRetryBudget:   viper.GetInt(flags.AtomRetryBudget),
		AtomTimeout:       viper.GetDuration(flags.AtomTimeout),
	}
	if err := schedulerpkg.Validate(config); err != nil {
		return fmt.Errorf("invalid scheduler config: %w", err)
	}

	scheduler = schedulerpkg.New(config)
	return nil
}

// workerClient delivers atom execution requests to worker agents over HTTP,
// signing each request with the cluster secret.
type workerClient struct {
	secret []byte
	client *resty.Client
}

func newWorkerClient(secret []byte) *workerClient {
	return &workerClient{
		secret: secret,
		client: resty.New(),
	}
}

func (c *workerClient) Dispatch(ctx context.Context, worker api.WorkerInfo, req api.DispatchRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode dispatch request: %w", err)
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(api.DigestHeader, api.Digest(c.secret, body)).
		SetBody(body).
		Post(worker.URL + "/v1/executor")
	if err != nil {
		return fmt.Errorf("failed to reach worker '%s': %w", worker.ID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("worker '%s' rejected dispatch: %s", worker.ID, resp.Status())
	}
	return nil
}
