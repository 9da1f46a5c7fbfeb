package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/vinayprograms/inkpanel/display"
	perrors "github.com/vinayprograms/inkpanel/errors"
	"github.com/vinayprograms/inkpanel/state"
	"github.com/vinayprograms/inkpanel/tasks"
)

const statusKey = "state.txt"

// fakeRunner blocks persistent tasks until canceled and returns one-shot
// tasks immediately.
type fakeRunner struct {
	mu      sync.Mutex
	started []string
	stopped []string
	gens    []uint64

	running    atomic.Int32
	maxRunning atomic.Int32

	block func(spec tasks.Spec) bool
	err   error
	panic bool
}

func (r *fakeRunner) Run(ctx context.Context, spec tasks.Spec, generation uint64) error {
	n := r.running.Add(1)
	defer r.running.Add(-1)
	for {
		peak := r.maxRunning.Load()
		if n <= peak || r.maxRunning.CompareAndSwap(peak, n) {
			break
		}
	}

	r.mu.Lock()
	r.started = append(r.started, spec.Kind.Key())
	r.gens = append(r.gens, generation)
	r.mu.Unlock()

	if r.panic {
		panic("render exploded")
	}
	blocking := spec.Kind.Persistent()
	if r.block != nil {
		blocking = r.block(spec)
	}
	if !blocking {
		return r.err
	}
	<-ctx.Done()
	r.mu.Lock()
	r.stopped = append(r.stopped, spec.Kind.Key())
	r.mu.Unlock()
	return ctx.Err()
}

func (r *fakeRunner) Started() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.started...)
}

func (r *fakeRunner) Stopped() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.stopped...)
}

func newTestSupervisor(t *testing.T, runner Runner) (*Supervisor, *state.MemoryStore, *tasks.Ledger) {
	t.Helper()
	store := state.NewMemoryStore()
	t.Cleanup(func() { store.Close() })
	ledger := tasks.NewLedger(store)
	sup := New(Config{
		Store:       store,
		StatusKey:   statusKey,
		Launcher:    NewInProcessLauncher(runner),
		Ledger:      ledger,
		StopTimeout: time.Second,
	})
	t.Cleanup(func() { sup.Stop(context.Background()) })
	return sup, store, ledger
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func runStatus(t *testing.T, ledger *tasks.Ledger, runID string) tasks.RunStatus {
	t.Helper()
	run, err := ledger.Get(context.Background(), runID)
	if err != nil {
		t.Fatalf("ledger get %s: %v", runID, err)
	}
	return run.Status
}

// ============================================================================
// Requests
// ============================================================================

func TestRequestTask_StopsPrevious(t *testing.T) {
	runner := &fakeRunner{block: func(tasks.Spec) bool { return true }}
	sup, store, ledger := newTestSupervisor(t, runner)
	ctx := context.Background()

	music, err := sup.RequestTask(ctx, tasks.Spec{Kind: tasks.KindMusic})
	if err != nil {
		t.Fatalf("request music: %v", err)
	}
	eventually(t, "music to start", func() bool { return len(runner.Started()) == 1 })

	weather, err := sup.RequestTask(ctx, tasks.Spec{Kind: tasks.KindWeather})
	if err != nil {
		t.Fatalf("request weather: %v", err)
	}

	if diff := cmp.Diff([]string{"music"}, runner.Stopped()); diff != "" {
		t.Errorf("stopped tasks mismatch (-want +got):\n%s", diff)
	}
	if weather.Generation <= music.Generation {
		t.Errorf("generation did not advance: %d then %d", music.Generation, weather.Generation)
	}

	value, err := store.Get(statusKey)
	if err != nil || string(value) != "weather" {
		t.Errorf("record = %q, %v; want weather", value, err)
	}
	active, ok := sup.Active()
	if !ok || active.Kind != tasks.KindWeather {
		t.Errorf("Active() = %+v, %v", active, ok)
	}

	eventually(t, "music run to be stopped", func() bool {
		return runStatus(t, ledger, music.RunID) == tasks.StatusStopped
	})
}

func TestRequestTask_PassesGeneration(t *testing.T) {
	runner := &fakeRunner{}
	sup, store, _ := newTestSupervisor(t, runner)

	info, err := sup.RequestTask(context.Background(), tasks.Spec{Kind: tasks.KindMusic})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	kv, err := store.GetKeyValue(statusKey)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if info.Generation != kv.Revision {
		t.Errorf("generation = %d, record revision = %d", info.Generation, kv.Revision)
	}
	eventually(t, "music to start", func() bool { return len(runner.Started()) == 1 })
	runner.mu.Lock()
	got := runner.gens[0]
	runner.mu.Unlock()
	if got != kv.Revision {
		t.Errorf("runner saw generation %d, want %d", got, kv.Revision)
	}
}

func TestRequestTask_OneShotCompletes(t *testing.T) {
	runner := &fakeRunner{}
	sup, store, ledger := newTestSupervisor(t, runner)

	info, err := sup.RequestTask(context.Background(), tasks.Spec{Kind: tasks.KindDashboard})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	eventually(t, "run to complete", func() bool {
		return runStatus(t, ledger, info.RunID) == tasks.StatusCompleted
	})
	eventually(t, "active to clear", func() bool {
		_, ok := sup.Active()
		return !ok
	})

	// The record outlives the task.
	if got := sup.QueryStatus(); got != "Dashboard" {
		t.Errorf("QueryStatus() = %q, want Dashboard", got)
	}
	if _, err := store.Get(statusKey); err != nil {
		t.Errorf("record removed: %v", err)
	}
}

func TestRequestTask_FailedRun(t *testing.T) {
	runner := &fakeRunner{err: perrors.FetchFailed("weather.gov", errors.New("503"))}
	sup, _, ledger := newTestSupervisor(t, runner)

	info, err := sup.RequestTask(context.Background(), tasks.Spec{Kind: tasks.KindWeather})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	eventually(t, "run to fail", func() bool {
		return runStatus(t, ledger, info.RunID) == tasks.StatusFailed
	})
	run, _ := ledger.Get(context.Background(), info.RunID)
	if run.ErrorCode != string(perrors.ErrCodeFetchFailed) {
		t.Errorf("ErrorCode = %q", run.ErrorCode)
	}
}

func TestRequestTask_RunnerPanic(t *testing.T) {
	runner := &fakeRunner{panic: true}
	sup, _, ledger := newTestSupervisor(t, runner)

	info, err := sup.RequestTask(context.Background(), tasks.Spec{Kind: tasks.KindClean})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	eventually(t, "run to fail", func() bool {
		return runStatus(t, ledger, info.RunID) == tasks.StatusFailed
	})
	run, _ := ledger.Get(context.Background(), info.RunID)
	if run.ErrorCode != string(perrors.ErrCodePanic) {
		t.Errorf("ErrorCode = %q, want PANIC", run.ErrorCode)
	}
}

func TestRequestTask_InvalidSpec(t *testing.T) {
	runner := &fakeRunner{}
	sup, store, _ := newTestSupervisor(t, runner)

	_, err := sup.RequestTask(context.Background(), tasks.Spec{Kind: tasks.KindMessage})
	if !errors.Is(err, tasks.ErrInvalidSpec) {
		t.Fatalf("err = %v, want ErrInvalidSpec", err)
	}
	if _, err := store.Get(statusKey); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("record written for invalid spec: %v", err)
	}
}

func TestRequestKey_Unknown(t *testing.T) {
	runner := &fakeRunner{}
	sup, store, _ := newTestSupervisor(t, runner)
	store.Put(statusKey, []byte("weather"), 0)

	_, ok, err := sup.RequestKey(context.Background(), "birthday", "", "http")
	if !perrors.Is(err, perrors.ErrCodeUnknownTask) {
		t.Fatalf("err = %v, want UNKNOWN_TASK", err)
	}
	if ok {
		t.Error("unknown key should not be accepted")
	}
	if got := sup.QueryStatus(); got != "Weather" {
		t.Errorf("record changed: %q", got)
	}
	if len(runner.Started()) != 0 {
		t.Errorf("launched %v", runner.Started())
	}
}

func TestRequestKey_EmptyMessageIgnored(t *testing.T) {
	runner := &fakeRunner{}
	sup, store, _ := newTestSupervisor(t, runner)

	for _, text := range []string{"", "   "} {
		_, ok, err := sup.RequestKey(context.Background(), "message", text, "http")
		if err != nil || ok {
			t.Errorf("RequestKey(message, %q) = %v, %v; want ignored", text, ok, err)
		}
	}
	if _, err := store.Get(statusKey); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("record written: %v", err)
	}
}

func TestRequestKey_Message(t *testing.T) {
	var got atomic.Value
	runner := RunnerFunc(func(ctx context.Context, spec tasks.Spec, _ uint64) error {
		got.Store(spec.Message.Text)
		return nil
	})
	sup, _, _ := newTestSupervisor(t, runner)

	info, ok, err := sup.RequestKey(context.Background(), "MESSAGE", "hello there", "http")
	if err != nil || !ok {
		t.Fatalf("RequestKey: %v %v", ok, err)
	}
	if info.Kind != tasks.KindMessage {
		t.Errorf("Kind = %v", info.Kind)
	}
	eventually(t, "message to run", func() bool { return got.Load() != nil })
	if got.Load().(string) != "hello there" {
		t.Errorf("text = %q", got.Load())
	}
}

// failingPutStore rejects writes to the status key.
type failingPutStore struct {
	*state.MemoryStore
}

func (s failingPutStore) Put(key string, value []byte, ttl time.Duration) (uint64, error) {
	if key == statusKey {
		return 0, errors.New("read-only file system")
	}
	return s.MemoryStore.Put(key, value, ttl)
}

func TestRequestTask_StatusWriteFailureStillLaunches(t *testing.T) {
	mem := state.NewMemoryStore()
	defer mem.Close()
	runner := &fakeRunner{}
	sup := New(Config{
		Store:     failingPutStore{mem},
		StatusKey: statusKey,
		Launcher:  NewInProcessLauncher(runner),
	})
	defer sup.Stop(context.Background())

	info, err := sup.RequestTask(context.Background(), tasks.Spec{Kind: tasks.KindMusic})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if info.Generation != 0 {
		t.Errorf("Generation = %d, want 0", info.Generation)
	}
	eventually(t, "music to start", func() bool { return len(runner.Started()) == 1 })
}

type failingLauncher struct{}

func (failingLauncher) Launch(context.Context, tasks.Spec, uint64) (Handle, error) {
	return nil, errors.New("fork: resource temporarily unavailable")
}

func TestRequestTask_LaunchFailure(t *testing.T) {
	store := state.NewMemoryStore()
	defer store.Close()
	sup := New(Config{Store: store, StatusKey: statusKey, Launcher: failingLauncher{}})

	_, err := sup.RequestTask(context.Background(), tasks.Spec{Kind: tasks.KindWeather})
	if !perrors.Is(err, perrors.ErrCodeLaunchFailed) {
		t.Fatalf("err = %v, want LAUNCH_FAILED", err)
	}
	if _, ok := sup.Active(); ok {
		t.Error("nothing should be active")
	}
}

func TestRequestTask_AtMostOneRunning(t *testing.T) {
	runner := &fakeRunner{block: func(tasks.Spec) bool { return true }}
	sup, _, _ := newTestSupervisor(t, runner)

	kinds := tasks.Kinds()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		kind := kinds[i%len(kinds)]
		if kind == tasks.KindMessage {
			kind = tasks.KindClean
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			sup.RequestTask(context.Background(), tasks.Spec{Kind: kind})
		}()
	}
	wg.Wait()

	if peak := runner.maxRunning.Load(); peak > 1 {
		t.Errorf("max concurrent tasks = %d, want 1", peak)
	}
	eventually(t, "last task to start", func() bool { return len(runner.Started()) == 20 })
}

// stubbornHandle ignores Stop.
type stubbornHandle struct {
	done chan struct{}
}

func (h *stubbornHandle) Kind() tasks.Kind               { return tasks.KindMusic }
func (h *stubbornHandle) Done() <-chan struct{}          { return h.done }
func (h *stubbornHandle) Err() error                     { return nil }
func (h *stubbornHandle) Stop(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }

type stubbornLauncher struct{ launched atomic.Int32 }

func (l *stubbornLauncher) Launch(context.Context, tasks.Spec, uint64) (Handle, error) {
	l.launched.Add(1)
	return &stubbornHandle{done: make(chan struct{})}, nil
}

func TestRequestTask_StopTimeoutAbandonsTask(t *testing.T) {
	store := state.NewMemoryStore()
	defer store.Close()
	launcher := &stubbornLauncher{}
	sup := New(Config{
		Store:       store,
		StatusKey:   statusKey,
		Launcher:    launcher,
		StopTimeout: 20 * time.Millisecond,
	})

	sup.RequestTask(context.Background(), tasks.Spec{Kind: tasks.KindMusic})
	start := time.Now()
	if _, err := sup.RequestTask(context.Background(), tasks.Spec{Kind: tasks.KindWeather}); err != nil {
		t.Fatalf("request: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("second request took %v", elapsed)
	}
	if launcher.launched.Load() != 2 {
		t.Errorf("launched %d tasks, want 2", launcher.launched.Load())
	}
}

func TestRequestTask_AbandonedTaskCannotPublish(t *testing.T) {
	driver := display.NewMemoryDriver(4, 4)
	pub := display.NewPublisher(driver)
	release := make(chan struct{})
	wedged := make(chan error, 1)

	runner := RunnerFunc(func(ctx context.Context, spec tasks.Spec, generation uint64) error {
		f := display.NewFrame(4, 4)
		if spec.Kind == tasks.KindWeather {
			// Ignores cancellation until released.
			<-release
			f.SetIndex(0, 0, display.Black)
			err := pub.Publish(ctx, "weather", f)
			wedged <- err
			return err
		}
		f.SetIndex(0, 0, display.Red)
		return pub.Publish(ctx, "clean", f)
	})

	store := state.NewMemoryStore()
	defer store.Close()
	sup := New(Config{
		Store:       store,
		StatusKey:   statusKey,
		Launcher:    NewInProcessLauncher(runner),
		StopTimeout: 20 * time.Millisecond,
	})
	defer sup.Stop(context.Background())

	if _, err := sup.RequestTask(context.Background(), tasks.Spec{Kind: tasks.KindWeather}); err != nil {
		t.Fatalf("request weather: %v", err)
	}
	if _, err := sup.RequestTask(context.Background(), tasks.Spec{Kind: tasks.KindClean}); err != nil {
		t.Fatalf("request clean: %v", err)
	}
	eventually(t, "clean frame", func() bool { return driver.Shows() == 1 })

	close(release)
	if err := <-wedged; !errors.Is(err, context.Canceled) {
		t.Errorf("abandoned publish = %v, want context.Canceled", err)
	}
	if driver.Shows() != 1 || driver.Shown().Index(0, 0) != display.Red {
		t.Error("abandoned task replaced its successor's frame")
	}
}

// ============================================================================
// Status
// ============================================================================

func TestQueryStatus(t *testing.T) {
	tests := []struct {
		name   string
		record *string
		want   string
	}{
		{"absent", nil, "Idle"},
		{"empty", strPtr(""), "Idle"},
		{"whitespace", strPtr(" \n"), "Idle"},
		{"known", strPtr("weather"), "Weather"},
		{"foreign case", strPtr("MUSIC\n"), "Music"},
		{"unregistered", strPtr("birthday"), "Birthday"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sup, store, _ := newTestSupervisor(t, &fakeRunner{})
			if tt.record != nil {
				store.Put(statusKey, []byte(*tt.record), 0)
			}
			if got := sup.QueryStatus(); got != tt.want {
				t.Errorf("QueryStatus() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestQueryStatus_ClosedStore(t *testing.T) {
	store := state.NewMemoryStore()
	sup := New(Config{Store: store, StatusKey: statusKey, Launcher: NewInProcessLauncher(&fakeRunner{})})
	store.Close()

	if got := sup.QueryStatus(); got != StatusError {
		t.Errorf("QueryStatus() = %q, want Error", got)
	}
}

func TestStatus_Revision(t *testing.T) {
	sup, store, _ := newTestSupervisor(t, &fakeRunner{})
	rev, _ := store.Put(statusKey, []byte("clean"), 0)

	want := StatusInfo{Status: "Clean", Revision: rev}
	if diff := cmp.Diff(want, sup.Status()); diff != "" {
		t.Errorf("Status() mismatch (-want +got):\n%s", diff)
	}
}

// ============================================================================
// Stop
// ============================================================================

func TestStop(t *testing.T) {
	runner := &fakeRunner{}
	sup, _, ledger := newTestSupervisor(t, runner)

	info, _ := sup.RequestTask(context.Background(), tasks.Spec{Kind: tasks.KindMusic})
	eventually(t, "music to start", func() bool { return len(runner.Started()) == 1 })

	if err := sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, ok := sup.Active(); ok {
		t.Error("task still active after Stop")
	}
	if got := runStatus(t, ledger, info.RunID); got != tasks.StatusStopped {
		t.Errorf("run status = %v, want stopped", got)
	}
	if got := sup.QueryStatus(); got != "Music" {
		t.Errorf("record should survive Stop, got %q", got)
	}
}

func strPtr(s string) *string { return &s }
