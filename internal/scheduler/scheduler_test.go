package scheduler

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmacl/vspilot/internal/lock"
	"github.com/pmacl/vspilot/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(io.Discard, logging.LevelError, "test")
}

func TestSchedulerRunsImmediatelyAndOnPlanChange(t *testing.T) {
	dir := t.TempDir()
	planPath := filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(planPath, []byte("tasks: []\n"), 0644))

	iterations := make(chan struct{}, 16)
	s := New(Options{
		Interval: time.Hour, // only the plan watcher should trigger the second run
		PlanPath: planPath,
		LockPath: LockPath(dir),
	}, func(ctx context.Context) error {
		iterations <- struct{}{}
		return nil
	}, testLogger())

	started := make(chan error, 1)
	go func() { started <- s.Start(context.Background()) }()

	select {
	case <-iterations:
	case <-time.After(2 * time.Second):
		t.Fatal("first iteration did not run on startup")
	}

	// Give the watcher a beat to be registered, then rewrite the plan.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(planPath, []byte("tasks:\n  - id: t1\n    repo_selector: all\n"), 0644))

	select {
	case <-iterations:
	case <-time.After(2 * time.Second):
		t.Fatal("plan change did not trigger an iteration")
	}

	s.Stop()
	require.NoError(t, <-started)
}

func TestSchedulerHoldsSingleLock(t *testing.T) {
	dir := t.TempDir()
	lockPath := LockPath(dir)

	held := lock.NewFileLock(lockPath)
	require.NoError(t, held.TryLock())
	defer held.Unlock()

	s := New(Options{
		Interval: time.Hour,
		LockPath: lockPath,
	}, func(ctx context.Context) error { return nil }, testLogger())

	err := s.Start(context.Background())
	require.Error(t, err, "a second loop against the same state dir must refuse to start")
}

func TestSchedulerContinuesAfterIterationError(t *testing.T) {
	dir := t.TempDir()

	count := 0
	iterations := make(chan int, 16)
	s := New(Options{
		Interval: 50 * time.Millisecond,
		LockPath: LockPath(dir),
	}, func(ctx context.Context) error {
		count++
		iterations <- count
		return assert.AnError
	}, testLogger())

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()

	for i := 0; i < 2; i++ {
		select {
		case <-iterations:
		case <-time.After(2 * time.Second):
			t.Fatalf("iteration %d never ran; failures must not stop the loop", i+1)
		}
	}

	s.Stop()
	require.NoError(t, <-done)
}

func TestIterateCoalescesOverlappingTriggers(t *testing.T) {
	dir := t.TempDir()

	var runs atomic.Int32
	release := make(chan struct{})
	running := make(chan struct{}, 1)
	s := New(Options{
		Interval: time.Hour,
		LockPath: LockPath(dir),
	}, func(ctx context.Context) error {
		runs.Add(1)
		running <- struct{}{}
		<-release
		return nil
	}, testLogger())

	ctx := context.Background()
	s.iterate(ctx)
	select {
	case <-running:
	case <-time.After(2 * time.Second):
		t.Fatal("first iteration never started")
	}

	// Triggers landing while an iteration is in flight must join it, not
	// queue additional runs.
	s.iterate(ctx)
	s.iterate(ctx)
	time.Sleep(100 * time.Millisecond) // let both triggers reach the group
	close(release)
	s.inFlight.Wait()

	if got := runs.Load(); got != 1 {
		t.Fatalf("expected overlapping triggers to coalesce into 1 run, got %d", got)
	}
}

func TestSchedulerStopsOnContextCancel(t *testing.T) {
	dir := t.TempDir()
	s := New(Options{
		Interval: time.Hour,
		LockPath: LockPath(dir),
	}, func(ctx context.Context) error { return nil }, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on context cancel")
	}
}
