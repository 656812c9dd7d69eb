package scheduler

// The result collector half of the engine: completion reports arrive on the
// reports channel and are applied here, on the event-loop goroutine.

// handleReport validates and applies one atom-completion report. Duplicate
// and stale reports are idempotent no-ops; a worker may legitimately report
// twice after a retried network call, or report for a build that was
// canceled or concluded in the meantime.
func (s *Scheduler) handleReport(r Report) {
	b := s.build(r.BuildID)
	if b == nil {
		s.log.Debug("Dropping report for unknown build", "build", r.BuildID, "atom", r.Ordinal)
		return
	}

	worker, slotIndex, ok := b.assignment(r.Ordinal)
	if !ok || worker != r.Worker {
		s.log.Debug("Dropping duplicate or stale atom report",
			"build", r.BuildID, "atom", r.Ordinal, "worker", r.Worker)
		return
	}
	ref := SlotRef{Worker: worker, Index: slotIndex}

	if b.Status().Terminal() {
		// The build was canceled or concluded while this atom was in
		// flight: free the slot, discard the result.
		s.registry.Release(ref, b.ID, r.Ordinal)
		b.clearAssignment(r.Ordinal, worker)
		s.requestTick()
		return
	}

	applied, status := b.finishAtom(r.Ordinal, r.Worker, r.ExitCode, r.TimedOut, r.Error, s.config.now())
	if !applied {
		return
	}
	s.registry.Release(ref, b.ID, r.Ordinal)

	if len(r.Artifact) > 0 {
		if err := s.store.SaveAtomArtifact(b.ID, r.Ordinal, r.Artifact); err != nil {
			s.log.Error("Failed to save atom artifact", "build", b.ID, "atom", r.Ordinal, "error", err)
		}
	}

	s.log.Debug("Atom finished", "build", b.ID, "atom", r.Ordinal, "status", status, "exit_code", r.ExitCode)
	s.emit(EventAtomFinished{Build: b.ID, Ordinal: r.Ordinal, Status: status, ExitCode: r.ExitCode})

	s.concludeBuild(b)
	s.requestTick()
}

// concludeBuild computes the final verdict once every atom is terminal and
// triggers artifact aggregation.
func (s *Scheduler) concludeBuild(b *Build) {
	status, done := b.concludeIfFinished(s.config.now())
	if !done {
		return
	}
	s.log.Info("Build finished", "build", b.ID, "status", status)
	s.emit(EventBuildFinished{Build: b.ID, Status: status})
	go s.watchBundling(b.ID)
	s.requestTick()
}

func (s *Scheduler) watchBundling(buildID uint64) {
	if _, err := s.store.BundleBuild(buildID); err != nil {
		s.log.Error("Failed to bundle build artifacts", "build", buildID, "error", err)
	}
}
