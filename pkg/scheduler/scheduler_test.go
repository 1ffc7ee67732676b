package scheduler_test

import (
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/voidforge/foundry/pkg/dispatch"
	"github.com/voidforge/foundry/pkg/graph"
	"github.com/voidforge/foundry/pkg/registry"
	"github.com/voidforge/foundry/pkg/scheduler"
	"github.com/voidforge/foundry/pkg/state"
	"github.com/voidforge/foundry/pkg/storage/mem"
	"github.com/voidforge/foundry/pkg/types"
)

type fakeTransport struct {
	mu       sync.Mutex
	sent     []dispatch.Match
	aborts   []types.AbortRequest
	failSend bool
}

func (f *fakeTransport) Send(m dispatch.Match) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return dispatch.ErrNoCapacity{}
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeTransport) Abort(req types.AbortRequest, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborts = append(f.aborts, req)
	return nil
}

func (f *fakeTransport) sentJobs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sent {
		out = append(out, m.Assignment.JobID)
	}
	return out
}

type testEnv struct {
	Sched *scheduler.Scheduler
	Reg   *registry.Registry
	Store *state.Store
	Xport *fakeTransport

	now time.Time
}

func newTestEnv(t *testing.T, budget int) *testEnv {
	t.Helper()
	l := hclog.NewNullLogger()
	st := state.New(l, mem.New())
	reg := registry.New(l, st, 30*time.Second, time.Second)
	ft := new(fakeTransport)

	sched, err := scheduler.New(
		scheduler.WithLogger(l),
		scheduler.WithStore(st),
		scheduler.WithRegistry(reg),
		scheduler.WithDispatcher(dispatch.New(l, ft)),
		scheduler.WithRetryBudget(budget),
	)
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	reg.OnDeath(sched.RequeueWorker)

	env := &testEnv{
		Sched: sched,
		Reg:   reg,
		Store: st,
		Xport: ft,
		now:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	sched.Now = env.Now
	reg.Now = env.Now
	return env
}

func (e *testEnv) Now() time.Time { return e.now }

func (e *testEnv) advance(d time.Duration) { e.now = e.now.Add(d) }

func (e *testEnv) worker(t *testing.T, id string, capacity int, tags ...string) {
	t.Helper()
	err := e.Reg.Heartbeat(types.Heartbeat{WorkerID: id, Endpoint: "http://" + id, Capacity: capacity, Tags: tags})
	if err != nil {
		t.Fatalf("heartbeat %s: %v", id, err)
	}
}

func spec(name string, deps ...string) graph.ProjectSpec {
	return graph.ProjectSpec{
		Project:   types.Project{Name: name, Target: "x86_64"},
		DependsOn: deps,
	}
}

func (e *testEnv) submit(t *testing.T, specs ...graph.ProjectSpec) string {
	t.Helper()
	id, err := e.Sched.Submit("", specs)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return id
}

func (e *testEnv) jobFor(t *testing.T, groupID, project string) string {
	t.Helper()
	g, err := e.Store.GetGroup(groupID)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	for id, j := range g.Jobs {
		if j.Project.Name == project {
			return id
		}
	}
	t.Fatalf("no job for project %s", project)
	return ""
}

func (e *testEnv) jobState(t *testing.T, groupID, jobID string) types.JobState {
	t.Helper()
	g, err := e.Store.GetGroup(groupID)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	return g.Jobs[jobID].State
}

func (e *testEnv) groupState(t *testing.T, groupID string) types.GroupState {
	t.Helper()
	g, err := e.Store.GetGroup(groupID)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	return g.State
}

func (e *testEnv) report(t *testing.T, jobID, workerID string, kind types.ReportKind) {
	t.Helper()
	err := e.Sched.HandleReport(types.JobReport{JobID: jobID, WorkerID: workerID, Kind: kind})
	if err != nil {
		t.Fatalf("report %s %s: %v", kind, jobID, err)
	}
}

// Scenario A: b completes, a becomes ready, dispatches, completes,
// group completes.
func TestChainCompletes(t *testing.T) {
	e := newTestEnv(t, 3)
	e.worker(t, "w1", 2, "x86_64")

	gid := e.submit(t, spec("b"), spec("a", "b"))
	a := e.jobFor(t, gid, "a")
	b := e.jobFor(t, gid, "b")

	if e.jobState(t, gid, b) != types.JobReady {
		t.Fatal("dependency-free job must be ready on creation")
	}
	if e.jobState(t, gid, a) != types.JobPending {
		t.Fatal("dependent job must start pending")
	}

	e.Sched.DispatchPass()
	if got := e.Xport.sentJobs(); len(got) != 1 || got[0] != b {
		t.Fatalf("only b may dispatch first, got %v", got)
	}

	e.report(t, b, "w1", types.ReportStarted)
	e.report(t, b, "w1", types.ReportSucceeded)
	if e.jobState(t, gid, a) != types.JobReady {
		t.Fatal("a must become ready the instant b completes")
	}

	e.Sched.DispatchPass()
	e.report(t, a, "w1", types.ReportStarted)
	e.report(t, a, "w1", types.ReportSucceeded)

	if st := e.groupState(t, gid); st != types.GroupComplete {
		t.Fatalf("expected complete group, got %v", st)
	}
}

// Scenario B: b fails, a cascades to dependency-failed without ever
// being ready.
func TestFailureCascades(t *testing.T) {
	e := newTestEnv(t, 3)
	e.worker(t, "w1", 2, "x86_64")

	gid := e.submit(t, spec("b"), spec("a", "b"))
	a := e.jobFor(t, gid, "a")
	b := e.jobFor(t, gid, "b")

	e.Sched.DispatchPass()
	e.report(t, b, "w1", types.ReportStarted)
	e.report(t, b, "w1", types.ReportFailed)

	if st := e.jobState(t, gid, a); st != types.JobDependencyFailed {
		t.Fatalf("a must cascade, got %v", st)
	}
	if st := e.groupState(t, gid); st != types.GroupFailed {
		t.Fatalf("expected failed group, got %v", st)
	}

	// The cascade victim must never dispatch.
	e.Sched.DispatchPass()
	for _, id := range e.Xport.sentJobs() {
		if id == a {
			t.Fatal("cascaded job was dispatched")
		}
	}

	g, _ := e.Store.GetGroup(gid)
	causes := g.RootCauses()
	if len(causes) != 1 || causes[0] != b {
		t.Fatalf("root cause must be b alone, got %v", causes)
	}
}

// Cascade completeness over a deeper graph: everything transitively
// reachable from the failure ends dependency-failed, independent
// branches keep going.
func TestCascadeCompleteness(t *testing.T) {
	e := newTestEnv(t, 3)
	e.worker(t, "w1", 8, "x86_64")

	gid := e.submit(t,
		spec("base"),
		spec("mid", "base"),
		spec("top", "mid"),
		spec("island"),
	)
	base := e.jobFor(t, gid, "base")
	mid := e.jobFor(t, gid, "mid")
	top := e.jobFor(t, gid, "top")
	island := e.jobFor(t, gid, "island")

	e.Sched.DispatchPass()
	e.report(t, base, "w1", types.ReportStarted)
	e.report(t, base, "w1", types.ReportFailed)

	if e.jobState(t, gid, mid) != types.JobDependencyFailed {
		t.Fatal("mid must cascade")
	}
	if e.jobState(t, gid, top) != types.JobDependencyFailed {
		t.Fatal("top must cascade transitively")
	}

	// The island is unaffected and the group is not yet settled.
	if e.groupState(t, gid) != types.GroupQueued {
		t.Fatal("group must not settle while the island can still succeed")
	}
	e.report(t, island, "w1", types.ReportStarted)
	e.report(t, island, "w1", types.ReportSucceeded)
	if e.groupState(t, gid) != types.GroupFailed {
		t.Fatal("group must fail once every job settled")
	}
}

// Replayed terminal reports are dropped without state changes.
func TestDuplicateReportsAreIdempotent(t *testing.T) {
	e := newTestEnv(t, 3)
	e.worker(t, "w1", 2, "x86_64")

	gid := e.submit(t, spec("solo"))
	solo := e.jobFor(t, gid, "solo")

	e.Sched.DispatchPass()
	e.report(t, solo, "w1", types.ReportStarted)
	e.report(t, solo, "w1", types.ReportSucceeded)

	before, _ := e.Store.GetGroup(gid)

	// At-least-once transport: everything shows up again.
	e.report(t, solo, "w1", types.ReportStarted)
	e.report(t, solo, "w1", types.ReportSucceeded)
	e.report(t, solo, "w1", types.ReportFailed)

	after, _ := e.Store.GetGroup(gid)
	if after.Jobs[solo].State != types.JobComplete {
		t.Fatalf("replay changed terminal state to %v", after.Jobs[solo].State)
	}
	if after.Version != before.Version {
		t.Fatal("replayed reports must not commit new transactions")
	}
	if e.groupState(t, gid) != types.GroupComplete {
		t.Fatal("group outcome changed by replay")
	}
}

// Scenario C: worker loss requeues the job onto another worker.
func TestWorkerLossRequeues(t *testing.T) {
	e := newTestEnv(t, 3)
	e.worker(t, "w1", 2, "x86_64")

	gid := e.submit(t, spec("c"))
	c := e.jobFor(t, gid, "c")

	e.Sched.DispatchPass()
	e.report(t, c, "w1", types.ReportStarted)

	// w1 goes quiet past the timeout; w2 shows up.
	e.advance(2 * time.Minute)
	e.worker(t, "w2", 2, "x86_64")
	e.Reg.Sweep()

	if st := e.jobState(t, gid, c); st != types.JobReady {
		t.Fatalf("job must be ready again after worker loss, got %v", st)
	}

	e.Sched.DispatchPass()
	sent := e.Xport.sent
	last := sent[len(sent)-1]
	if last.WorkerID != "w2" {
		t.Fatalf("expected reassignment to w2, got %s", last.WorkerID)
	}

	e.report(t, c, "w2", types.ReportStarted)
	e.report(t, c, "w2", types.ReportSucceeded)
	if e.groupState(t, gid) != types.GroupComplete {
		t.Fatal("group must complete after reassignment")
	}
}

// Worker loss with the retry budget exhausted fails the job and
// cascades.
func TestWorkerLossExhaustsBudget(t *testing.T) {
	e := newTestEnv(t, 0)
	e.worker(t, "w1", 2, "x86_64")

	gid := e.submit(t, spec("b"), spec("a", "b"))
	a := e.jobFor(t, gid, "a")
	b := e.jobFor(t, gid, "b")

	e.Sched.DispatchPass()
	e.report(t, b, "w1", types.ReportStarted)

	e.advance(2 * time.Minute)
	e.Reg.Sweep()

	if st := e.jobState(t, gid, b); st != types.JobFailed {
		t.Fatalf("job must fail with no retries left, got %v", st)
	}
	if st := e.jobState(t, gid, a); st != types.JobDependencyFailed {
		t.Fatalf("dependent must cascade, got %v", st)
	}
	if e.groupState(t, gid) != types.GroupFailed {
		t.Fatal("group must fail")
	}
}

// Scenario D: cancellation while running takes effect locally,
// independent of the worker's cooperation.
func TestCancelWhileRunning(t *testing.T) {
	e := newTestEnv(t, 3)
	e.worker(t, "w1", 2, "x86_64")

	gid := e.submit(t, spec("d"), spec("later", "d"))
	d := e.jobFor(t, gid, "d")
	later := e.jobFor(t, gid, "later")

	e.Sched.DispatchPass()
	e.report(t, d, "w1", types.ReportStarted)

	if err := e.Sched.Cancel(gid); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if st := e.jobState(t, gid, d); st != types.JobCanceled {
		t.Fatalf("running job must cancel immediately, got %v", st)
	}
	if st := e.jobState(t, gid, later); st != types.JobCanceled {
		t.Fatalf("pending job must cancel, got %v", st)
	}
	if e.groupState(t, gid) != types.GroupCanceled {
		t.Fatal("group must be canceled")
	}

	if len(e.Xport.aborts) != 1 || e.Xport.aborts[0].JobID != d {
		t.Fatalf("running job should get an abort message, got %+v", e.Xport.aborts)
	}

	// Idempotent on a terminal group.
	if err := e.Sched.Cancel(gid); err != nil {
		t.Fatalf("second cancel: %v", err)
	}
}

// A failed send leaves the job ready and dispatches nothing.
func TestSendFailureIsBackpressure(t *testing.T) {
	e := newTestEnv(t, 3)
	e.worker(t, "w1", 2, "x86_64")
	e.Xport.failSend = true

	gid := e.submit(t, spec("solo"))
	solo := e.jobFor(t, gid, "solo")

	e.Sched.DispatchPass()
	if st := e.jobState(t, gid, solo); st != types.JobReady {
		t.Fatalf("job must stay ready after send failure, got %v", st)
	}

	// Capacity must have been returned.
	snaps := e.Reg.Snapshots()
	if len(snaps) != 1 || snaps[0].Load != 0 {
		t.Fatalf("reservation leaked: %+v", snaps)
	}

	// Recovery: transport heals, next pass dispatches.
	e.Xport.failSend = false
	e.worker(t, "w1", 2, "x86_64")
	e.Sched.DispatchPass()
	if st := e.jobState(t, gid, solo); st != types.JobDispatched {
		t.Fatalf("job must dispatch once the transport heals, got %v", st)
	}
}

// Jobs with no eligible worker simply wait.
func TestNoWorkerMeansWait(t *testing.T) {
	e := newTestEnv(t, 3)
	e.worker(t, "w-arm", 2, "aarch64")

	gid := e.submit(t, spec("solo"))
	solo := e.jobFor(t, gid, "solo")

	e.Sched.DispatchPass()
	if st := e.jobState(t, gid, solo); st != types.JobReady {
		t.Fatalf("unmatchable job must stay ready, got %v", st)
	}

	e.worker(t, "w-x86", 2, "x86_64")
	e.Sched.DispatchPass()
	if st := e.jobState(t, gid, solo); st != types.JobDispatched {
		t.Fatalf("job must dispatch once a matching worker joins, got %v", st)
	}
}

// A restart rebuilds scheduling state from the store alone.
func TestRecoverResumesGroups(t *testing.T) {
	e := newTestEnv(t, 3)
	e.worker(t, "w1", 2, "x86_64")

	gid := e.submit(t, spec("b"), spec("a", "b"))
	b := e.jobFor(t, gid, "b")

	e.Sched.DispatchPass()
	e.report(t, b, "w1", types.ReportStarted)
	e.report(t, b, "w1", types.ReportSucceeded)

	// New scheduler over the same store.
	l := hclog.NewNullLogger()
	ft := new(fakeTransport)
	sched2, err := scheduler.New(
		scheduler.WithLogger(l),
		scheduler.WithStore(e.Store),
		scheduler.WithRegistry(e.Reg),
		scheduler.WithDispatcher(dispatch.New(l, ft)),
	)
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	sched2.Now = e.Now
	if err := sched2.Recover(); err != nil {
		t.Fatalf("recover: %v", err)
	}

	sched2.DispatchPass()
	a := e.jobFor(t, gid, "a")
	if got := ft.sentJobs(); len(got) != 1 || got[0] != a {
		t.Fatalf("recovered scheduler must dispatch a, got %v", got)
	}
}

// Submissions with validation problems never create state.
func TestInvalidSubmissionLeavesNothing(t *testing.T) {
	e := newTestEnv(t, 3)

	_, err := e.Sched.Submit("", []graph.ProjectSpec{spec("a", "b"), spec("b", "a")})
	if err == nil {
		t.Fatal("expected cycle rejection")
	}

	ids, err := e.Store.GroupIDs()
	if err != nil {
		t.Fatalf("group ids: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("rejected submission created groups: %v", ids)
	}
}
