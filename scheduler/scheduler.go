// Package scheduler implements the build-orchestration engine: it atomizes
// job specifications into units of work, tracks the worker fleet and its
// execution slots, dispatches atoms to free slots, collects results, and
// aggregates them into a build verdict with artifacts.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/anandvarma/namegen"
	"github.com/hiveci/hive/api"
	"github.com/samber/lo"
)

// Scheduler is the process-lifetime engine instance. All cross-aggregate
// mutation funnels through its single event-loop goroutine; Build and
// Registry records additionally carry their own mutexes so API readers
// never observe partial transitions. Network calls (dispatch) run in
// watcher goroutines that hold no locks and re-enter the loop through
// channels.
type Scheduler struct {
	name   string
	config Config
	log    *slog.Logger

	registry *Registry
	atomizer *atomizer
	store    *artifactStore

	ctx    context.Context
	cancel context.CancelFunc

	buildsMu sync.Mutex
	builds   map[uint64]*Build
	order    []uint64
	lastID   uint64

	input        chan *Build
	reports      chan Report
	tickRequests chan any
	deferred     chan func()

	stop     chan any
	stopOnce sync.Once
	wg       sync.WaitGroup

	subscribersMu sync.Mutex
	subscribers   map[chan Event]struct{}
}

// Report is an atom-completion report handed to the engine by the transport
// layer. Artifact, when present, is a gzipped tarball of the atom's
// artifact directory.
type Report struct {
	BuildID  uint64
	Ordinal  int
	Worker   string
	ExitCode int
	TimedOut bool
	Error    string
	Artifact []byte
}

func New(config Config) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	if config.now == nil {
		config.now = time.Now
	}

	s := &Scheduler{
		name:   namegen.New().Get(),
		config: config,
		log:    config.Logger,

		registry: NewRegistry(),
		atomizer: &atomizer{log: config.Logger.With("component", "atomizer")},
		store:    &artifactStore{root: config.DataRoot},

		ctx:    ctx,
		cancel: cancel,

		builds: make(map[uint64]*Build),

		input:        make(chan *Build),
		reports:      make(chan Report, 64),
		tickRequests: make(chan any, 1),
		deferred:     make(chan func()),

		stop: make(chan any),

		subscribers: make(map[chan Event]struct{}),
	}
	return s
}

// Run executes the engine event loop until Shutdown is called.
func (s *Scheduler) Run() {
	s.log.Info("Scheduler is running", "name", s.name)

	s.wg.Add(1)
	go s.heartbeatLoop()

	s.wg.Add(1)
	defer s.wg.Done()
	for {
		select {
		case b := <-s.input:
			s.emit(EventBuildQueued{Build: b.ID, Job: b.Job.Name})
			s.armSubmissionTimer(b)
			s.maybeAtomize(b)

		case <-s.tickRequests:
			s.startQueuedBuilds()
			s.dispatchPending()

		case r := <-s.reports:
			s.handleReport(r)

		case f := <-s.deferred:
			f()

		case <-s.stop:
			s.log.Info("Scheduler is stopping")
			s.cancel()
			return
		}
	}
}

// Shutdown stops the event loop. In-flight worker executions are abandoned.
func (s *Scheduler) Shutdown() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Wait blocks until the event loop and its companion goroutines have
// returned. It must be called after Shutdown.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Submit registers a new build for the given job and queues it. The build
// id is monotonic and unique for the process lifetime.
func (s *Scheduler) Submit(job Job) (uint64, error) {
	if err := job.Validate(); err != nil {
		return 0, err
	}

	s.buildsMu.Lock()
	s.lastID++
	b := newBuild(s.lastID, job, s.config.now())
	s.builds[b.ID] = b
	s.order = append(s.order, b.ID)
	s.buildsMu.Unlock()

	select {
	case s.input <- b:
		return b.ID, nil
	case <-s.stop:
		return 0, ErrShuttingDown
	}
}

// Cancel marks a build CANCELED. Atoms already dispatched run to completion
// on their workers; their late reports only release slots.
func (s *Scheduler) Cancel(id uint64) error {
	b := s.build(id)
	if b == nil {
		return ErrNotFound
	}
	if !b.cancel(s.config.now()) {
		return ErrBuildTerminal
	}
	s.log.Info("Build canceled", "build", id)
	s.emit(EventBuildFinished{Build: id, Status: BuildCanceled})
	s.requestTick()
	return nil
}

// Report hands an atom-completion report to the result collector.
func (s *Scheduler) Report(r Report) {
	select {
	case s.reports <- r:
	case <-s.stop:
	}
}

// RegisterWorker adds a worker to the fleet or refreshes its registration.
// A registration carrying a new session means the agent process restarted:
// atoms its previous process had in flight are requeued, since their results
// will never arrive.
func (s *Scheduler) RegisterWorker(id, url, session string, slots int) {
	claims := s.registry.Register(id, url, session, slots, s.config.now())
	s.log.Info("Worker registered", "worker", id, "url", url, "slots", slots)
	s.emit(EventWorkerRegistered{Worker: id, Slots: slots})

	if len(claims) > 0 {
		s.log.Warn("Worker session changed, requeuing its atoms", "worker", id, "atoms", len(claims))
		select {
		case s.deferred <- func() { s.requeueClaims(claims, "worker restarted") }:
		case <-s.stop:
		}
	}
	s.requestTick()
}

// WorkerHeartbeat refreshes a worker's last-seen time.
func (s *Scheduler) WorkerHeartbeat(id string) error {
	if err := s.registry.Heartbeat(id, s.config.now()); err != nil {
		return err
	}
	s.requestTick()
	return nil
}

// Workers returns a snapshot of the fleet.
func (s *Scheduler) Workers() []api.WorkerInfo {
	return s.registry.Workers()
}

// Builds returns summaries of every build, oldest first.
func (s *Scheduler) Builds() []api.BuildSummary {
	return lo.Map(s.buildsInOrder(), func(b *Build, _ int) api.BuildSummary { return b.Summary() })
}

// Queue returns summaries of builds that are not yet terminal, oldest first.
func (s *Scheduler) Queue() []api.BuildSummary {
	active := lo.Filter(s.buildsInOrder(), func(b *Build, _ int) bool { return !b.Status().Terminal() })
	return lo.Map(active, func(b *Build, _ int) api.BuildSummary { return b.Summary() })
}

// BuildDetail returns the detail view of one build.
func (s *Scheduler) BuildDetail(id uint64) (api.BuildDetail, error) {
	b := s.build(id)
	if b == nil {
		return api.BuildDetail{}, ErrNotFound
	}
	return b.Detail(), nil
}

// ArtifactBundle returns the path of a terminal build's artifact archive.
func (s *Scheduler) ArtifactBundle(id uint64) (string, error) {
	b := s.build(id)
	if b == nil {
		return "", ErrNotFound
	}
	if !b.Status().Terminal() {
		return "", ErrBuildRunning
	}
	return s.store.BundlePath(id), nil
}

// Subscribe registers an event listener. The returned cancel function must
// be called to release it. Slow listeners lose events rather than blocking
// the engine.
func (s *Scheduler) Subscribe() (<-chan Event, func()) {
	s.subscribersMu.Lock()
	defer s.subscribersMu.Unlock()

	channel := make(chan Event, 1024)
	s.subscribers[channel] = struct{}{}

	return channel, func() {
		s.subscribersMu.Lock()
		defer s.subscribersMu.Unlock()
		delete(s.subscribers, channel)
	}
}

func (s *Scheduler) emit(event Event) {
	s.subscribersMu.Lock()
	defer s.subscribersMu.Unlock()
	for channel := range s.subscribers {
		select {
		case channel <- event:
		default:
			s.log.Debug("Subscriber queue full, dropping event")
		}
	}
}

// requestTick requests a scheduling pass as soon as possible. Pending ticks
// are coalesced. Safe to call from any goroutine.
func (s *Scheduler) requestTick() {
	select {
	case s.tickRequests <- nil:
	default:
	}
}

// after schedules f to run on the event-loop goroutine once d has elapsed.
func (s *Scheduler) after(d time.Duration, f func()) {
	time.AfterFunc(d, func() {
		select {
		case s.deferred <- f:
		case <-s.stop:
		}
	})
}

// maybeAtomize starts atomization for a queued build, unless no worker is
// reachable, in which case the build waits for capacity (bounded by the
// submission timeout).
func (s *Scheduler) maybeAtomize(b *Build) {
	if !s.registry.HasReachable() {
		s.log.Warn("No reachable workers, build stays queued", "build", b.ID)
		return
	}
	if b.beginAtomization() {
		go s.watchAtomization(b)
	}
}

// startQueuedBuilds retries atomization for builds that were submitted
// while the fleet had no capacity.
func (s *Scheduler) startQueuedBuilds() {
	for _, b := range s.buildsInOrder() {
		if b.Status() == BuildQueued {
			s.maybeAtomize(b)
		}
	}
}

// watchAtomization runs the atomizer off the event loop and re-enters with
// the result.
func (s *Scheduler) watchAtomization(b *Build) {
	atoms, err := s.atomizer.Atomize(s.ctx, b.Job)

	select {
	case s.deferred <- func() { s.finishAtomization(b, atoms, err) }:
	case <-s.stop:
	}
}

func (s *Scheduler) finishAtomization(b *Build, atoms []*Atom, err error) {
	if err != nil {
		if b.fail(BuildError, err.Error(), s.config.now()) {
			s.log.Error("Build failed to atomize", "build", b.ID, "error", err)
			s.emit(EventBuildFinished{Build: b.ID, Status: BuildError})
		}
		return
	}
	if !b.setAtoms(atoms) {
		s.log.Info("Build was canceled during atomization", "build", b.ID)
		return
	}
	s.log.Info("Build is now building", "build", b.ID, "atoms", len(atoms))
	s.emit(EventBuildStarted{Build: b.ID, Atoms: len(atoms)})
	s.requestTick()
}

func (s *Scheduler) armSubmissionTimer(b *Build) {
	s.after(s.config.SubmissionTimeout, func() {
		if !b.neverDispatched() {
			return
		}
		if b.fail(BuildError, "no reachable workers before submission timeout", s.config.now()) {
			s.log.Error("Build timed out waiting for capacity", "build", b.ID)
			s.emit(EventBuildFinished{Build: b.ID, Status: BuildError})
		}
	})
}

/// dispatchPending is the greedy fair-share allocator: builds are served
// oldest first, and each keeps claiming slots until its concurrency cap,
// its atom list, or the fleet is exhausted.
func (s *Scheduler) dispatchPending() {
	for _, b := range s.buildsInOrder() {
		if b.Status() != BuildBuilding {
			continue
		}
		for {
			atom, inFlight := b.nextPending()
			if atom == nil {
				break
			}
			if b.Job.MaxExecutors > 0 && inFlight >= b.Job.MaxExecutors {
				break
			}

			ref, ok := s.registry.ClaimAnySlot(b.ID, atom.Ordinal)
			if !ok {
				return // fleet exhausted, stop this cycle
			}
			worker, _ := s.registry.Worker(ref.Worker)

			if !b.claimAtom(atom.Ordinal, ref.Worker, ref.Index, s.config.now()) {
				s.registry.Release(ref, b.ID, atom.Ordinal)
				break
			}

			s.log.Debug("Dispatching atom", "build", b.ID, "atom", atom.Ordinal, "worker", ref.Worker, "slot", ref.Index)
			s.emit(EventAtomDispatched{Build: b.ID, Ordinal: atom.Ordinal, Worker: ref.Worker, Slot: ref.Index})
			go s.watchDispatch(b, atom.Ordinal, atom.Value, ref, worker)
		}
	}
}

// watchDispatch performs the network round trip to the worker with no locks
// held, then applies the outcome on the event-loop goroutine.
func (s *Scheduler) watchDispatch(b *Build, ordinal int, value string, ref SlotRef, worker api.WorkerInfo) {
	req := api.DispatchRequest{
		BuildID:          b.ID,
		AtomOrdinal:      ordinal,
		ExecutorIndex:    ref.Index,
		EnvName:          b.Job.AtomizerVar,
		EnvValue:         value,
		SetupCommands:    b.Job.SetupCommands,
		Commands:         b.Job.Commands,
		TeardownCommands: b.Job.TeardownCommands,
		ProjectDir:       b.Job.ProjectDir,
		TimeoutSeconds:   int(s.config.AtomTimeout / time.Second),
	}

	err := s.config.WorkerClient.Dispatch(s.ctx, worker, req)

	select {
	case s.deferred <- func() {
		if err != nil {
			s.log.Warn("Dispatch failed", "build", b.ID, "atom", ordinal, "worker", ref.Worker, "error", err)
			s.requeueAfterFault(b, ordinal, ref, "dispatch to worker failed: "+err.Error())
			return
		}
		b.markRunning(ordinal, ref.Worker)
	}:
	case <-s.stop:
	}
}

// heartbeatLoop periodically sweeps the registry for silent workers. It is
// the only path that returns RUNNING atoms to PENDING without a completion
// report.
func (s *Scheduler) heartbeatLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			select {
			case s.deferred <- s.expireWorkers:
			case <-s.stop:
				return
			}
		case <-s.stop:
			return
		}
	}
}

func (s *Scheduler) expireWorkers() {
	claims := s.registry.ExpireWorkers(s.config.HeartbeatTimeout, s.config.now())
	if len(claims) == 0 {
		return
	}

	for worker, lost := range lo.GroupBy(claims, func(c Claim) string { return c.Slot.Worker }) {
		s.log.Warn("Worker is unreachable, requeuing its atoms", "worker", worker, "atoms", len(lost))
		s.emit(EventWorkerLost{Worker: worker, ReleasedSlots: len(lost)})
	}

	s.requeueClaims(claims, "worker became unreachable")
}

// requeueClaims returns the atoms of force-released claims to PENDING. The
// slots themselves were already freed by the registry. Runs on the event
// loop.
func (s *Scheduler) requeueClaims(claims []Claim, reason string) {
	for _, claim := range claims {
		b := s.build(claim.BuildID)
		if b == nil {
			continue
		}
		s.requeueAtom(b, claim.Ordinal, reason)
	}
	s.requestTick()
}

// requeueAfterFault releases the slot and returns the atom to PENDING (or
// fails it when the retry budget is exhausted).
func (s *Scheduler) requeueAfterFault(b *Build, ordinal int, ref SlotRef, reason string) {
	s.registry.Release(ref, b.ID, ordinal)
	s.requeueAtom(b, ordinal, reason)
	s.requestTick()
}

func (s *Scheduler) requeueAtom(b *Build, ordinal int, reason string) {
	requeued, failed := b.requeueAtom(ordinal, s.config.AtomRetryBudget, reason, s.config.now())
	switch {
	case requeued:
		s.emit(EventAtomRequeued{Build: b.ID, Ordinal: ordinal, Reason: reason})
	case failed:
		s.log.Warn("Atom failed after exhausting retries", "build", b.ID, "atom", ordinal, "reason", reason)
		s.emit(EventAtomFinished{Build: b.ID, Ordinal: ordinal, Status: AtomFailed, ExitCode: -1})
		s.concludeBuild(b)
	}
}

func (s *Scheduler) build(id uint64) *Build {
	s.buildsMu.Lock()
	defer s.buildsMu.Unlock()
	return s.builds[id]
}

func (s *Scheduler) buildsInOrder() []*Build {
	s.buildsMu.Lock()
	defer s.buildsMu.Unlock()
	return lo.Map(s.order, func(id uint64, _ int) *Build { return s.builds[id] })
}
