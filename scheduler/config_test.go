package scheduler

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigValidate(t *testing.T) {
	valid := Config{
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		DataRoot:          "/tmp/hive",
		WorkerClient:      newMockWorkerClient(),
		HeartbeatTimeout:  45 * time.Second,
		HeartbeatInterval: 5 * time.Second,
		SubmissionTimeout: 10 * time.Minute,
		AtomRetryBudget:   2,
	}
	assert.NoError(t, Validate(valid))

	for name, mutate := range map[string]func(*Config){
		"missing logger":              func(c *Config) { c.Logger = nil },
		"missing data root":           func(c *Config) { c.DataRoot = "" },
		"missing worker client":       func(c *Config) { c.WorkerClient = nil },
		"zero heartbeat timeout":      func(c *Config) { c.HeartbeatTimeout = 0 },
		"zero heartbeat interval":     func(c *Config) { c.HeartbeatInterval = 0 },
		"zero submission timeout":     func(c *Config) { c.SubmissionTimeout = 0 },
		"negative atom retry budget":  func(c *Config) { c.AtomRetryBudget = -1 },
	} {
		t.Run(name, func(t *testing.T) {
			config := valid
			mutate(&config)
			assert.Error(t, Validate(config))
		})
	}
}
