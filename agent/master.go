package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hiveci/hive/agent/internal"
	"github.com/hiveci/hive/api"
	"resty.dev/v3"
)

// masterClient is the agent's view of the master server: registration,
// heartbeats and atom-completion reports, all signed with the cluster
// secret.
type masterClient struct {
	baseURL  string
	workerID string
	session  string
	secret   []byte
	client   *resty.Client
	log      *slog.Logger
}

func newMasterClient(baseURL, workerID, session string, secret []byte, log *slog.Logger) *masterClient {
	return &masterClient{
		baseURL:  baseURL,
		workerID: workerID,
		session:  session,
		secret:   secret,
		client:   resty.New().SetTimeout(30 * time.Second),
		log:      log,
	}
}

func (m *masterClient) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	resp, err := m.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader(api.DigestHeader, api.Digest(m.secret, payload)).
		SetBody(payload).
		Post(m.baseURL + path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("master replied %s", resp.Status())
	}
	return nil
}

// Register announces this agent and its slot count to the master.
// Registration is idempotent on the master side, so it retries freely.
func (m *masterClient) Register(ctx context.Context, url string, slots int) error {
	return internal.RetryWithContext(ctx, 5, func() error {
		return m.post(ctx, "/v1/slave", api.RegisterWorkerRequest{
			ID:      m.workerID,
			URL:     url,
			Session: m.session,
			Slots:   slots,
		})
	})
}

// HeartbeatLoop keeps the master's reachability view of this agent fresh.
// A heartbeat rejected with "unknown worker" means the master restarted;
// the agent re-registers.
func (m *masterClient) HeartbeatLoop(ctx context.Context, interval time.Duration, url string, slots int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.post(ctx, fmt.Sprintf("/v1/slave/%s/heartbeat", m.workerID), struct{}{}); err != nil {
				m.log.Warn("Heartbeat failed, re-registering", "error", err)
				if err := m.Register(ctx, url, slots); err != nil {
					m.log.Error("Re-registration failed", "error", err)
				}
			}
		}
	}
}

// ReportResult delivers an atom-completion report, retrying on transient
// network faults. The master treats duplicates as no-ops, so retries after
// an ambiguous failure are safe.
func (m *masterClient) ReportResult(ctx context.Context, req api.DispatchRequest, result api.AtomResultRequest) {
	result.WorkerID = m.workerID
	path := fmt.Sprintf("/v1/build/%d/atom/%d/result", req.BuildID, req.AtomOrdinal)

	if err := internal.RetryWithContext(ctx, 5, func() error {
		return m.post(ctx, path, result)
	}); err != nil {
		m.log.Error("Failed to report atom result", "build", req.BuildID, "atom", req.AtomOrdinal, "error", err)
	}
}
