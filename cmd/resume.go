package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cwbudde/lsqfit/internal/store"
)

var (
	resumeDataDir string
	resumeIters   int
)

var resumeCmd = &cobra.Command{
	Use:   "resume [job-id]",
	Short: "Continue a stored fit from its checkpoint",
	Long: `Loads the checkpoint of a saved job and runs the local solver again from
its best parameters. The continuation is stored as a new job.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeDataDir, "data-dir", "./data", "Base directory for stored jobs")
	resumeCmd.Flags().IntVar(&resumeIters, "iters", 0, "Override the solver iteration limit (0 = keep)")
	resumeCmd.Flags().StringVar(&outPath, "out", "", "Write the result as JSON to this path")
	resumeCmd.Flags().StringVar(&chartPath, "chart", "", "Write a PNG chart to this path")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	jobID := args[0]

	st, err := store.NewFSStore(resumeDataDir)
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}

	checkpoint, err := st.LoadCheckpoint(jobID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no checkpoint for job %s in %s", jobID, resumeDataDir)
	}
	if err != nil {
		return err
	}
	if err := checkpoint.Validate(); err != nil {
		return fmt.Errorf("checkpoint cannot be resumed: %w", err)
	}

	problem := checkpoint.ResumeProblem()
	if resumeIters > 0 {
		problem.Settings.MaxIters = resumeIters
	}

	newID := uuid.New().String()
	slog.Info("Resuming job", "from", jobID, "job_id", newID, "best_cost", checkpoint.BestCost, "iteration", checkpoint.Iteration)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return executeFit(ctx, &problem, st, newID)
}
