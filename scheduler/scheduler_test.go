package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hiveci/hive/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock worker client ---

type mockWorkerClient struct {
	mu         sync.Mutex
	dispatches chan api.DispatchRequest
	fail       func(api.DispatchRequest) error
}

func newMockWorkerClient() *mockWorkerClient {
	return &mockWorkerClient{dispatches: make(chan api.DispatchRequest, 64)}
}

func (m *mockWorkerClient) Dispatch(ctx context.Context, worker api.WorkerInfo, req api.DispatchRequest) error {
	m.mu.Lock()
	fail := m.fail
	m.mu.Unlock()
	if fail != nil {
		if err := fail(req); err != nil {
			return err
		}
	}
	m.dispatches <- req
	return nil
}

func (m *mockWorkerClient) setFail(fail func(api.DispatchRequest) error) {
	m.mu.Lock()
	m.fail = fail
	m.mu.Unlock()
}

// --- Fake clock ---

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// --- Helpers ---

func newTestScheduler(t *testing.T, mutate func(*Config)) (*Scheduler, *mockWorkerClient) {
	t.Helper()

	wc := newMockWorkerClient()
	config := Config{
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		DataRoot:          t.TempDir(),
		WorkerClient:      wc,
		HeartbeatTimeout:  time.Minute,
		HeartbeatInterval: 10 * time.Millisecond,
		SubmissionTimeout: time.Minute,
		AtomRetryBudget:   0,
	}
	if mutate != nil {
		mutate(&config)
	}
	require.NoError(t, Validate(config))

	s := New(config)
	go s.Run()
	t.Cleanup(func() {
		s.Shutdown()
		s.Wait()
	})
	return s, wc
}

func testJob(atomizer string, maxExecutors int) Job {
	return Job{api.JobSpec{
		Name:         "suite",
		AtomizerVar:  "TOKEN",
		Atomizer:     atomizer,
		Commands:     []string{"echo $TOKEN"},
		MaxExecutors: maxExecutors,
	}}
}

func waitForDispatch(t *testing.T, wc *mockWorkerClient) api.DispatchRequest {
	t.Helper()
	select {
	case d := <-wc.dispatches:
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for dispatch")
		return api.DispatchRequest{}
	}
}

func waitForEvent[T Event](t *testing.T, events <-chan Event) T {
	t.Helper()
	for {
		select {
		case ev := <-events:
			if typed, ok := ev.(T); ok {
				return typed
			}
		case <-time.After(5 * time.Second):
			var zero T
			t.Fatalf("timed out waiting for event %T", zero)
			return zero
		}
	}
}

func assertNoDispatch(t *testing.T, wc *mockWorkerClient, within time.Duration) {
	t.Helper()
	select {
	case d := <-wc.dispatches:
		t.Fatalf("unexpected dispatch of atom %d", d.AtomOrdinal)
	case <-time.After(within):
	}
}

// --- Tests ---

func TestBuildSucceedsWithAtomsInEmissionOrder(t *testing.T) {
	s, wc := newTestScheduler(t, nil)
	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	s.RegisterWorker("w1", "http://w1", "s1", 3)
	id, err := s.Submit(testJob(`printf '1\n2\n3\n'`, 0))
	require.NoError(t, err)

	started := waitForEvent[EventBuildStarted](t, events)
	assert.Equal(t, 3, started.Atoms)

	values := map[int]string{}
	for i := 0; i < 3; i++ {
		d := waitForDispatch(t, wc)
		assert.Equal(t, id, d.BuildID)
		assert.Equal(t, "TOKEN", d.EnvName)
		values[d.AtomOrdinal] = d.EnvValue
		s.Report(Report{BuildID: id, Ordinal: d.AtomOrdinal, Worker: "w1", ExitCode: 0})
	}
	assert.Equal(t, map[int]string{0: "1", 1: "2", 2: "3"}, values)

	finished := waitForEvent[EventBuildFinished](t, events)
	assert.Equal(t, BuildSuccess, finished.Status)

	detail, err := s.BuildDetail(id)
	require.NoError(t, err)
	assert.Equal(t, "success", detail.Status)
	assert.Equal(t, "3/3 (100%)", detail.Completion)
	assert.Empty(t, detail.FailedAtoms)
}

func TestFailingAtomFailsBuildWithFailedAtomList(t *testing.T) {
	s, wc := newTestScheduler(t, nil)
	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	s.RegisterWorker("w1", "http://w1", "s1", 3)
	id, err := s.Submit(testJob(`printf 'a\nb\nc\n'`, 0))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		d := waitForDispatch(t, wc)
		exitCode := 0
		if d.AtomOrdinal == 1 {
			exitCode = 1
		}
		s.Report(Report{BuildID: id, Ordinal: d.AtomOrdinal, Worker: "w1", ExitCode: exitCode})
	}

	finished := waitForEvent[EventBuildFinished](t, events)
	assert.Equal(t, BuildFailure, finished.Status)

	detail, err := s.BuildDetail(id)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, detail.FailedAtoms)
	require.NotNil(t, detail.ErrorMessage)
	assert.Equal(t, "1 of 3 atoms failed", *detail.ErrorMessage)
}

func TestMaxExecutorsCapsConcurrency(t *testing.T) {
	s, wc := newTestScheduler(t, nil)
	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	s.RegisterWorker("w1", "http://w1", "s1", 5)
	id, err := s.Submit(testJob(`printf '1\n2\n3\n'`, 1))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		d := waitForDispatch(t, wc)
		assertNoDispatch(t, wc, 100*time.Millisecond)
		s.Report(Report{BuildID: id, Ordinal: d.AtomOrdinal, Worker: "w1", ExitCode: 0})
	}

	finished := waitForEvent[EventBuildFinished](t, events)
	assert.Equal(t, BuildSuccess, finished.Status)
}

func TestDuplicateReportsAreIdempotent(t *testing.T) {
	s, wc := newTestScheduler(t, nil)

	s.RegisterWorker("w1", "http://w1", "s1", 2)
	id, err := s.Submit(testJob(`printf 'a\nb\n'`, 0))
	require.NoError(t, err)

	first := waitForDispatch(t, wc)
	second := waitForDispatch(t, wc)

	report := Report{BuildID: id, Ordinal: first.AtomOrdinal, Worker: "w1", ExitCode: 0}
	s.Report(report)
	s.Report(report)
	s.Report(report)

	require.Eventually(t, func() bool {
		detail, _ := s.BuildDetail(id)
		return detail.NumFinished == 1
	}, 5*time.Second, 10*time.Millisecond)

	detail, err := s.BuildDetail(id)
	require.NoError(t, err)
	assert.Equal(t, "building", detail.Status)
	assert.Equal(t, 1, detail.NumFinished)

	s.Report(Report{BuildID: id, Ordinal: second.AtomOrdinal, Worker: "w1", ExitCode: 0})
	require.Eventually(t, func() bool {
		detail, _ := s.BuildDetail(id)
		return detail.Status == "success"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCancelAbandonsInFlightAtomsAndFreesSlots(t *testing.T) {
	s, wc := newTestScheduler(t, nil)
	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	s.RegisterWorker("w1", "http://w1", "s1", 1)
	id, err := s.Submit(testJob(`printf 'a\n'`, 0))
	require.NoError(t, err)

	d := waitForDispatch(t, wc)
	require.NoError(t, s.Cancel(id))

	finished := waitForEvent[EventBuildFinished](t, events)
	assert.Equal(t, BuildCanceled, finished.Status)

	// The late report only releases the slot; its result is discarded.
	s.Report(Report{BuildID: id, Ordinal: d.AtomOrdinal, Worker: "w1", ExitCode: 0})
	require.Eventually(t, func() bool {
		return s.Workers()[0].BusySlots == 0
	}, 5*time.Second, 10*time.Millisecond)

	detail, err := s.BuildDetail(id)
	require.NoError(t, err)
	assert.Equal(t, "canceled", detail.Status)
	assert.Equal(t, 0, detail.NumFinished)

	assert.ErrorIs(t, s.Cancel(id), ErrBuildTerminal)
}

func TestDispatchFaultConsumesRetryBudget(t *testing.T) {
	s, wc := newTestScheduler(t, func(c *Config) { c.AtomRetryBudget = 1 })
	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	attempts := 0
	var mu sync.Mutex
	wc.setFail(func(api.DispatchRequest) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return context.DeadlineExceeded
		}
		return nil
	})

	s.RegisterWorker("w1", "http://w1", "s1", 1)
	id, err := s.Submit(testJob(`printf 'a\n'`, 0))
	require.NoError(t, err)

	requeued := waitForEvent[EventAtomRequeued](t, events)
	assert.Equal(t, id, requeued.Build)

	d := waitForDispatch(t, wc)
	s.Report(Report{BuildID: id, Ordinal: d.AtomOrdinal, Worker: "w1", ExitCode: 0})

	finished := waitForEvent[EventBuildFinished](t, events)
	assert.Equal(t, BuildSuccess, finished.Status)
}

func TestDispatchFaultBeyondBudgetFailsBuild(t *testing.T) {
	s, wc := newTestScheduler(t, nil) // zero retry budget
	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	wc.setFail(func(api.DispatchRequest) error { return context.DeadlineExceeded })

	s.RegisterWorker("w1", "http://w1", "s1", 1)
	_, err := s.Submit(testJob(`printf 'a\n'`, 0))
	require.NoError(t, err)

	finished := waitForEvent[EventBuildFinished](t, events)
	assert.Equal(t, BuildFailure, finished.Status)
}

func TestWorkerLossRequeuesItsAtoms(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	s, wc := newTestScheduler(t, func(c *Config) {
		c.AtomRetryBudget = 1
		c.HeartbeatTimeout = time.Minute
		c.now = clock.Now
	})
	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	s.RegisterWorker("w1", "http://w1", "s1", 1)
	id, err := s.Submit(testJob(`printf 'a\n'`, 0))
	require.NoError(t, err)
	waitForDispatch(t, wc)

	// w1 stops heartbeating and crosses the timeout.
	clock.Advance(2 * time.Minute)

	lost := waitForEvent[EventWorkerLost](t, events)
	assert.Equal(t, "w1", lost.Worker)
	assert.Equal(t, 1, lost.ReleasedSlots)
	waitForEvent[EventAtomRequeued](t, events)

	// A fresh worker picks up the requeued atom.
	s.RegisterWorker("w2", "http://w2", "s1", 1)
	d := waitForDispatch(t, wc)
	s.Report(Report{BuildID: id, Ordinal: d.AtomOrdinal, Worker: "w2", ExitCode: 0})

	finished := waitForEvent[EventBuildFinished](t, events)
	assert.Equal(t, BuildSuccess, finished.Status)
}

func TestNoCapacityTimesOutToError(t *testing.T) {
	s, _ := newTestScheduler(t, func(c *Config) { c.SubmissionTimeout = 50 * time.Millisecond })
	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	id, err := s.Submit(testJob(`printf 'a\n'`, 0))
	require.NoError(t, err)

	finished := waitForEvent[EventBuildFinished](t, events)
	assert.Equal(t, BuildError, finished.Status)

	detail, err := s.BuildDetail(id)
	require.NoError(t, err)
	require.NotNil(t, detail.ErrorMessage)
	assert.Contains(t, *detail.ErrorMessage, "no reachable workers")
}

func TestSlowAtomizerOutlivesSubmissionTimeout(t *testing.T) {
	s, wc := newTestScheduler(t, func(c *Config) { c.SubmissionTimeout = 200 * time.Millisecond })
	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	// Capacity exists, so the build is atomizing when the timer fires; the
	// timeout only applies to builds still waiting for a reachable worker.
	s.RegisterWorker("w1", "http://w1", "s1", 1)
	id, err := s.Submit(testJob(`sleep 1; printf 'a\n'`, 0))
	require.NoError(t, err)

	d := waitForDispatch(t, wc)
	s.Report(Report{BuildID: id, Ordinal: d.AtomOrdinal, Worker: "w1", ExitCode: 0})

	finished := waitForEvent[EventBuildFinished](t, events)
	assert.Equal(t, BuildSuccess, finished.Status)
}

func TestWorkerRestartRequeuesItsAtoms(t *testing.T) {
	s, wc := newTestScheduler(t, func(c *Config) { c.AtomRetryBudget = 1 })
	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	s.RegisterWorker("w1", "http://w1", "s1", 1)
	id, err := s.Submit(testJob(`printf 'a\n'`, 0))
	require.NoError(t, err)
	waitForDispatch(t, wc)

	// The agent restarts: same id, new session. Its in-flight execution is
	// gone and will never report, so the atom must go back to PENDING.
	s.RegisterWorker("w1", "http://w1", "s2", 1)

	requeued := waitForEvent[EventAtomRequeued](t, events)
	assert.Equal(t, id, requeued.Build)

	d := waitForDispatch(t, wc)
	s.Report(Report{BuildID: id, Ordinal: d.AtomOrdinal, Worker: "w1", ExitCode: 0})

	finished := waitForEvent[EventBuildFinished](t, events)
	assert.Equal(t, BuildSuccess, finished.Status)
}

func TestAtomizerFailureErrorsBuild(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	s.RegisterWorker("w1", "http://w1", "s1", 1)
	_, err := s.Submit(testJob(`exit 3`, 0))
	require.NoError(t, err)

	finished := waitForEvent[EventBuildFinished](t, events)
	assert.Equal(t, BuildError, finished.Status)
}

func TestOlderBuildsAreServedFirst(t *testing.T) {
	s, wc := newTestScheduler(t, nil)

	s.RegisterWorker("w1", "http://w1", "s1", 1)
	first, err := s.Submit(testJob(`printf '1\n2\n'`, 0))
	require.NoError(t, err)
	d := waitForDispatch(t, wc)

	second, err := s.Submit(testJob(`printf '1\n2\n'`, 0))
	require.NoError(t, err)

	// Finish the first build's atoms one by one; the single slot must keep
	// going to the older build until it has no pending atoms left.
	s.Report(Report{BuildID: first, Ordinal: d.AtomOrdinal, Worker: "w1", ExitCode: 0})
	d = waitForDispatch(t, wc)
	assert.Equal(t, first, d.BuildID)
	s.Report(Report{BuildID: first, Ordinal: d.AtomOrdinal, Worker: "w1", ExitCode: 0})

	d = waitForDispatch(t, wc)
	assert.Equal(t, second, d.BuildID)
	s.Report(Report{BuildID: second, Ordinal: d.AtomOrdinal, Worker: "w1", ExitCode: 0})
	d = waitForDispatch(t, wc)
	s.Report(Report{BuildID: second, Ordinal: d.AtomOrdinal, Worker: "w1", ExitCode: 0})

	require.Eventually(t, func() bool {
		detail, _ := s.BuildDetail(second)
		return detail.Status == "success"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestQueueListsOnlyActiveBuilds(t *testing.T) {
	s, wc := newTestScheduler(t, nil)

	s.RegisterWorker("w1", "http://w1", "s1", 1)
	id, err := s.Submit(testJob(`printf 'a\n'`, 0))
	require.NoError(t, err)

	d := waitForDispatch(t, wc)
	assert.Len(t, s.Queue(), 1)

	s.Report(Report{BuildID: id, Ordinal: d.AtomOrdinal, Worker: "w1", ExitCode: 0})
	require.Eventually(t, func() bool { return len(s.Queue()) == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, s.Builds(), 1)
}
