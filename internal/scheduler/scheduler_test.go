package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkranes/signalflow/internal/store"
)

// mockSchedulerStore satisfies store.Store for scheduler tests.
type mockSchedulerStore struct {
	store.Store
	mu   sync.Mutex
	runs map[string]*store.ScheduledRun
}

func newMockSchedulerStore() *mockSchedulerStore {
	return &mockSchedulerStore{runs: make(map[string]*store.ScheduledRun)}
}

func (m *mockSchedulerStore) CreateScheduledRun(_ context.Context, run *store.ScheduledRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *mockSchedulerStore) get(id string) *store.ScheduledRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

func (m *mockSchedulerStore) UpdateScheduledRun(_ context.Context, id string, update store.ScheduledRunUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil
	}
	if update.CronExpr != nil {
		r.CronExpr = *update.CronExpr
	}
	if update.Enabled != nil {
		r.Enabled = *update.Enabled
	}
	if update.LastRun != nil {
		r.LastRun = update.LastRun
	}
	if update.NextRun != nil {
		r.NextRun = update.NextRun
	}
	return nil
}

func (m *mockSchedulerStore) ListScheduledRuns(_ context.Context, filter store.ScheduledRunFilter) ([]*store.ScheduledRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*store.ScheduledRun
	for _, r := range m.runs {
		if filter.EnabledOnly && !r.Enabled {
			continue
		}
		if filter.GraphID != "" && r.GraphID != filter.GraphID {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}
	return result, nil
}

func (m *mockSchedulerStore) DeleteScheduledRun(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runs, id)
	return nil
}

// mockRunner tracks RunGraph calls.
type mockRunner struct {
	mu     sync.Mutex
	graphs []string
	err    error
}

func (r *mockRunner) RunGraph(_ context.Context, graphID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.graphs = append(r.graphs, graphID)
	return r.err
}

func (r *mockRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.graphs)
}

func (r *mockRunner) called() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.graphs...)
}

func newTestScheduler(s store.Store, runner GraphRunner) *Scheduler {
	return NewScheduler(s, runner, slog.Default())
}

// --- Tests ---

func TestCalculateNextRun(t *testing.T) {
	sched := newTestScheduler(newMockSchedulerStore(), &mockRunner{})
	from := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	// Every hour at minute 0.
	next, err := sched.CalculateNextRun("0 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 10, 13, 0, 0, 0, time.UTC), next)

	// Every 15 minutes.
	next, err = sched.CalculateNextRun("*/15 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 10, 12, 15, 0, 0, time.UTC), next)

	// Daily at midnight.
	next, err = sched.CalculateNextRun("0 0 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC), next)

	// Invalid expression.
	_, err = sched.CalculateNextRun("invalid cron", from)
	require.Error(t, err)
}

func TestTickRunsDueSchedules(t *testing.T) {
	ms := newMockSchedulerStore()
	runner := &mockRunner{}
	sched := newTestScheduler(ms, runner)

	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Hour)

	require.NoError(t, ms.CreateScheduledRun(ctx, &store.ScheduledRun{
		ID: "sched-1", GraphID: "graph-a", CronExpr: "0 * * * *",
		Enabled: true, NextRun: &past,
	}))

	sched.Tick(ctx)

	assert.Equal(t, []string{"graph-a"}, runner.called())

	got := ms.get("sched-1")
	require.NotNil(t, got)
	assert.NotNil(t, got.LastRun)
	require.NotNil(t, got.NextRun)
	assert.True(t, got.NextRun.After(time.Now().UTC().Add(-time.Second)))
}

func TestTickSkipsNotDueSchedules(t *testing.T) {
	ms := newMockSchedulerStore()
	runner := &mockRunner{}
	sched := newTestScheduler(ms, runner)

	ctx := context.Background()
	future := time.Now().UTC().Add(time.Hour)

	require.NoError(t, ms.CreateScheduledRun(ctx, &store.ScheduledRun{
		ID: "sched-future", GraphID: "graph-a", CronExpr: "0 * * * *",
		Enabled: true, NextRun: &future,
	}))

	sched.Tick(ctx)

	assert.Equal(t, 0, runner.callCount())
}

func TestDisabledSchedulesSkipped(t *testing.T) {
	ms := newMockSchedulerStore()
	runner := &mockRunner{}
	sched := newTestScheduler(ms, runner)

	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Hour)

	require.NoError(t, ms.CreateScheduledRun(ctx, &store.ScheduledRun{
		ID: "sched-off", GraphID: "graph-a", CronExpr: "0 * * * *",
		Enabled: false, NextRun: &past,
	}))

	sched.Tick(ctx)

	assert.Equal(t, 0, runner.callCount())
}

func TestTimestampsAdvanceOnRunFailure(t *testing.T) {
	ms := newMockSchedulerStore()
	runner := &mockRunner{err: assert.AnError}
	sched := newTestScheduler(ms, runner)

	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Hour)

	require.NoError(t, ms.CreateScheduledRun(ctx, &store.ScheduledRun{
		ID: "sched-fail", GraphID: "graph-a", CronExpr: "0 * * * *",
		Enabled: true, NextRun: &past,
	}))

	sched.Tick(ctx)

	// A failing graph must not be retried every tick.
	got := ms.get("sched-fail")
	require.NotNil(t, got.NextRun)
	assert.True(t, got.NextRun.After(time.Now().UTC()))
}

func TestTickWithNilNextRun(t *testing.T) {
	ms := newMockSchedulerStore()
	runner := &mockRunner{}
	sched := newTestScheduler(ms, runner)

	ctx := context.Background()

	// A schedule that has never run is treated as due.
	require.NoError(t, ms.CreateScheduledRun(ctx, &store.ScheduledRun{
		ID: "sched-new", GraphID: "graph-a", CronExpr: "0 * * * *",
		Enabled: true, NextRun: nil,
	}))

	sched.Tick(ctx)

	assert.Equal(t, 1, runner.callCount())
}

func TestDedupPreventsDoubleRun(t *testing.T) {
	ms := newMockSchedulerStore()
	runner := &mockRunner{}
	sched := newTestScheduler(ms, runner)

	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Hour)

	require.NoError(t, ms.CreateScheduledRun(ctx, &store.ScheduledRun{
		ID: "sched-dedup", GraphID: "graph-a", CronExpr: "0 * * * *",
		Enabled: true, NextRun: &past,
	}))

	// Pre-acquire the schedule to simulate an in-flight execution.
	assert.True(t, sched.tryAcquire("sched-dedup"))

	sched.Tick(ctx)
	assert.Equal(t, 0, runner.callCount())

	// Release and tick again — now it runs.
	sched.release("sched-dedup")
	sched.Tick(ctx)
	assert.Equal(t, 1, runner.callCount())
}

func TestDedupReleasedAfterTick(t *testing.T) {
	ms := newMockSchedulerStore()
	runner := &mockRunner{}
	sched := newTestScheduler(ms, runner)

	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Hour)

	require.NoError(t, ms.CreateScheduledRun(ctx, &store.ScheduledRun{
		ID: "sched-release", GraphID: "graph-a", CronExpr: "0 * * * *",
		Enabled: true, NextRun: &past,
	}))

	sched.Tick(ctx)
	assert.Equal(t, 1, runner.callCount())

	// Inflight is released after the tick; make it due again.
	past2 := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, ms.UpdateScheduledRun(ctx, "sched-release", store.ScheduledRunUpdate{
		NextRun: &past2,
	}))

	sched.Tick(ctx)
	assert.Equal(t, 2, runner.callCount())
}

func TestMultipleSchedulesSomeDue(t *testing.T) {
	ms := newMockSchedulerStore()
	runner := &mockRunner{}
	sched := newTestScheduler(ms, runner)

	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)

	require.NoError(t, ms.CreateScheduledRun(ctx, &store.ScheduledRun{
		ID: "due-1", GraphID: "graph-a", CronExpr: "0 * * * *", Enabled: true, NextRun: &past,
	}))
	require.NoError(t, ms.CreateScheduledRun(ctx, &store.ScheduledRun{
		ID: "not-due", GraphID: "graph-b", CronExpr: "0 * * * *", Enabled: true, NextRun: &future,
	}))
	require.NoError(t, ms.CreateScheduledRun(ctx, &store.ScheduledRun{
		ID: "due-2", GraphID: "graph-c", CronExpr: "0 * * * *", Enabled: true, NextRun: nil,
	}))

	sched.Tick(ctx)

	names := runner.called()
	assert.Len(t, names, 2)
	assert.Contains(t, names, "graph-a")
	assert.Contains(t, names, "graph-c")
	assert.NotContains(t, names, "graph-b")
}

func TestStartStop(t *testing.T) {
	sched := newTestScheduler(newMockSchedulerStore(), &mockRunner{})
	ctx := context.Background()

	require.NoError(t, sched.Start(ctx))

	// Double start should error.
	err := sched.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")

	require.NoError(t, sched.Stop())

	// Stop again should be a no-op.
	require.NoError(t, sched.Stop())
}
