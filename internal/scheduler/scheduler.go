// Package scheduler runs engine iterations on an interval, with an
// immediate iteration whenever the plan file changes. A state-directory
// file lock keeps it to one loop per deployment.
package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/singleflight"

	"github.com/pmacl/vspilot/internal/lock"
	"github.com/pmacl/vspilot/internal/logging"
)

// RunFunc executes one full iteration. Iteration failures are the
// scheduler's to log, not to die on.
type RunFunc func(ctx context.Context) error

// Options configures a Scheduler.
type Options struct {
	Interval        time.Duration
	PlanPath        string
	LockPath        string
	ShutdownTimeout time.Duration
}

type Scheduler struct {
	opts   Options
	run    RunFunc
	logger *logging.Logger

	group    singleflight.Group
	inFlight sync.WaitGroup
	flock    *lock.FileLock
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func New(opts Options, run RunFunc, logger *logging.Logger) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Minute
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	return &Scheduler{
		opts:   opts,
		run:    run,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start acquires the loop lock and blocks running iterations until the
// context is cancelled or Stop is called. The first iteration runs
// immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.flock = lock.NewFileLock(s.opts.LockPath)
	if err := s.flock.TryLock(); err != nil {
		return err
	}
	defer func() {
		if err := s.flock.Unlock(); err != nil {
			s.logger.Warnf("release loop lock: %v", err)
		}
	}()
	defer close(s.doneCh)
	defer s.inFlight.Wait()

	watcher, planEvents := s.watchPlan()
	if watcher != nil {
		defer watcher.Close()
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.iterate(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return nil
		case <-ticker.C:
			s.iterate(ctx)
		case <-planEvents:
			s.logger.Infof("plan changed, running iteration")
			s.iterate(ctx)
		}
	}
}

// Stop requests shutdown and waits for the loop to exit, up to the
// configured timeout.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	select {
	case <-s.doneCh:
	case <-time.After(s.opts.ShutdownTimeout):
		s.logger.Warnf("shutdown timed out after %s", s.opts.ShutdownTimeout)
	}
}

// iterate starts one iteration without blocking the trigger loop, so a
// plan change arriving mid-iteration joins the in-flight execution
// instead of queueing a duplicate run.
func (s *Scheduler) iterate(ctx context.Context) {
	s.inFlight.Add(1)
	go func() {
		defer s.inFlight.Done()
		_, err, _ := s.group.Do("iteration", func() (any, error) {
			return nil, s.run(ctx)
		})
		if err != nil && ctx.Err() == nil {
			s.logger.Errorf("run.error: %v", err)
		}
	}()
}

// watchPlan watches the plan file's directory and forwards write or
// create events on the plan file itself. Watching the directory instead
// of the file survives editors that replace the file on save.
func (s *Scheduler) watchPlan() (*fsnotify.Watcher, <-chan struct{}) {
	events := make(chan struct{}, 1)
	if s.opts.PlanPath == "" {
		return nil, events
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warnf("plan watcher unavailable: %v", err)
		return nil, events
	}
	dir := filepath.Dir(s.opts.PlanPath)
	if err := watcher.Add(dir); err != nil {
		s.logger.Warnf("watch %s: %v", dir, err)
		watcher.Close()
		return nil, events
	}

	target := filepath.Clean(s.opts.PlanPath)
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				select {
				case events <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warnf("plan watcher: %v", err)
			}
		}
	}()
	return watcher, events
}

// LockPath returns the conventional loop lock path under a state dir.
func LockPath(stateDir string) string {
	return filepath.Join(stateDir, "vspilot.lock")
}
