package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pmacl/vspilot/internal/scheduler"
)

var loopIntervalSec int

var runOnceCmd = &cobra.Command{
	Use:   "run-once",
	Short: "Execute one complete run and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := newRuntime(configPath)
		if err != nil {
			return err
		}
		defer r.Close()

		st, err := r.iteration(cmd.Context())
		if err != nil {
			return err
		}

		validated := st.Validation != nil && st.Validation.Validated
		fmt.Printf("DONE run_id=%s validated=%t retries=%d\n", st.RunID, validated, st.RetryCount)
		return nil
	},
}

var runLoopCmd = &cobra.Command{
	Use:   "run-loop",
	Short: "Run continuously on an interval, re-running when the plan changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := newRuntime(configPath)
		if err != nil {
			return err
		}
		defer r.Close()

		interval := time.Duration(r.cfg.Scheduler.IntervalSec) * time.Second
		if loopIntervalSec > 0 {
			interval = time.Duration(loopIntervalSec) * time.Second
		}

		sched := scheduler.New(scheduler.Options{
			Interval:        interval,
			PlanPath:        r.cfg.PlanPath,
			LockPath:        scheduler.LockPath(r.cfg.StateDir),
			ShutdownTimeout: time.Duration(r.cfg.Scheduler.ShutdownTimeoutSec) * time.Second,
		}, func(ctx context.Context) error {
			_, err := r.iteration(ctx)
			return err
		}, r.logger)

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		r.logger.Infof("loop started, interval %s, pid %d", interval, os.Getpid())
		if err := sched.Start(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		r.logger.Infof("loop stopped")
		return nil
	},
}

func init() {
	runLoopCmd.Flags().IntVar(&loopIntervalSec, "interval-sec", 0, "override the iteration interval in seconds")
	rootCmd.AddCommand(runOnceCmd)
	rootCmd.AddCommand(runLoopCmd)
}
