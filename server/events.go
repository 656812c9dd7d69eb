package main

import (
	schedulerpkg "github.com/hiveci/hive/scheduler"
	"github.com/hiveci/hive/server/log"
)

// listenEvents consumes the scheduler event stream for operational logging.
// The engine already logs its own decisions; this gives operators a single
// "lifecycle" channel to grep without the scheduling noise.
func listenEvents(c <-chan schedulerpkg.Event) {
	logger := log.With("channel", "lifecycle")

	for event := range c {
		switch event := event.(type) {
		case schedulerpkg.EventBuildQueued:
			logger.Info("Build queued", "build", event.Build, "job", event.Job)
		case schedulerpkg.EventBuildStarted:
			logger.Info("Build started", "build", event.Build, "atoms", event.Atoms)
		case schedulerpkg.EventBuildFinished:
			logger.Info("Build finished", "build", event.Build, "status", event.Status)
		case schedulerpkg.EventWorkerRegistered:
			logger.Info("Worker joined", "worker", event.Worker, "slots", event.Slots)
		case schedulerpkg.EventWorkerLost:
			logger.Warn("Worker lost", "worker", event.Worker, "released_slots", event.ReleasedSlots)
		case schedulerpkg.EventAtomRequeued:
			logger.Warn("Atom requeued", "build", event.Build, "atom", event.Ordinal, "reason", event.Reason)
		}
	}
}
