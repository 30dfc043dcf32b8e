package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gonum.org/v1/plot"

	"github.com/cwbudde/lsqfit/internal/fit"
	"github.com/cwbudde/lsqfit/internal/opt"
	"github.com/cwbudde/lsqfit/internal/report"
	"github.com/cwbudde/lsqfit/internal/store"
)

var (
	problemPath string
	solverName  string
	outPath     string
	chartPath   string
	saveRun     bool
	fitDataDir  string
)

var fitCmd = &cobra.Command{
	Use:   "fit",
	Short: "Fit a model to the samples in a problem file",
	Long: `Reads a YAML or JSON problem file, runs the configured solver and prints
the fitted parameters. With --save the run is stored as a job with a
checkpoint, a step trace and a convergence chart, and can be resumed later.`,
	RunE: runFit,
}

func init() {
	fitCmd.Flags().StringVar(&problemPath, "problem", "", "Problem file, YAML or JSON (required)")
	fitCmd.Flags().StringVar(&solverName, "solver", "", "Override the problem's solver (levmar, newton, gradient)")
	fitCmd.Flags().StringVar(&outPath, "out", "", "Write the result as JSON to this path")
	fitCmd.Flags().StringVar(&chartPath, "chart", "", "Write a PNG chart to this path")
	fitCmd.Flags().BoolVar(&saveRun, "save", false, "Store checkpoint, trace and chart under --data-dir")
	fitCmd.Flags().StringVar(&fitDataDir, "data-dir", "./data", "Base directory for stored jobs")

	fitCmd.MarkFlagRequired("problem")
	rootCmd.AddCommand(fitCmd)
}

// fitReport is the JSON document written by --out.
type fitReport struct {
	JobID       string             `json:"jobId,omitempty"`
	Model       string             `json:"model"`
	Solver      string             `json:"solver"`
	Params      []float64          `json:"params"`
	Named       map[string]float64 `json:"named"`
	Cost        float64            `json:"cost"`
	InitialCost float64            `json:"initialCost"`
	Iterations  int                `json:"iterations"`
	Evaluations int                `json:"evaluations"`
	Status      opt.Status         `json:"status"`
	Seeded      bool               `json:"seeded"`
	Stalled     bool               `json:"stalled"`
	Elapsed     float64            `json:"elapsed"`
}

func runFit(cmd *cobra.Command, args []string) error {
	problem, err := fit.LoadProblem(problemPath)
	if err != nil {
		return err
	}
	if solverName != "" {
		problem.Solver = solverName
	}

	var st *store.FSStore
	jobID := ""
	if saveRun {
		st, err = store.NewFSStore(fitDataDir)
		if err != nil {
			return fmt.Errorf("failed to create store: %w", err)
		}
		jobID = uuid.New().String()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return executeFit(ctx, problem, st, jobID)
}

// executeFit runs a problem and writes the requested artifacts. A non-nil
// store records the run under jobID.
func executeFit(ctx context.Context, problem *fit.Problem, st *store.FSStore, jobID string) error {
	var observer opt.Observer
	var trace *store.TraceWriter
	if st != nil {
		tw, err := store.NewTraceWriter(st.BaseDir(), jobID, false)
		if err != nil {
			return err
		}
		trace = tw
		observer = func(step opt.Step) {
			if err := trace.Write(store.NewTraceEntry(step, false)); err != nil {
				slog.Warn("Failed to write trace entry", "job_id", jobID, "error", err)
			}
		}
	}

	start := time.Now()
	out, err := fit.Run(ctx, problem, fit.Options{
		Observer:    observer,
		Convergence: fit.DefaultConvergenceConfig(),
	})
	if trace != nil {
		if cerr := trace.Close(); cerr != nil {
			slog.Warn("Failed to close trace", "job_id", jobID, "error", cerr)
		}
	}
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	m, err := fit.LookupModel(problem.Model)
	if err != nil {
		return err
	}
	rep := fitReport{
		JobID:       jobID,
		Model:       m.Name,
		Solver:      problem.SolverName(),
		Params:      out.Params,
		Named:       make(map[string]float64, len(out.Params)),
		Cost:        out.Cost,
		InitialCost: out.InitialCost,
		Iterations:  out.Iterations,
		Evaluations: out.Evaluations,
		Status:      out.Status,
		Seeded:      out.Seeded,
		Stalled:     out.Stalled,
		Elapsed:     elapsed.Seconds(),
	}
	for i, name := range m.Params {
		rep.Named[name] = out.Params[i]
	}

	if outPath != "" {
		if err := writeReport(outPath, rep); err != nil {
			return err
		}
	}

	if chartPath != "" || st != nil {
		p, err := chartFor(problem, m, out)
		if err != nil {
			return fmt.Errorf("failed to build chart: %w", err)
		}
		if chartPath != "" {
			if err := report.SavePNG(chartPath, p); err != nil {
				return err
			}
		}
		if st != nil {
			if err := report.SavePNG(st.ChartPath(jobID), p); err != nil {
				return err
			}
		}
	}

	if st != nil {
		checkpoint := store.NewCheckpoint(jobID, out.Params, out.Cost, out.InitialCost, out.Iterations, out.Status, *problem)
		if err := st.SaveCheckpoint(jobID, checkpoint); err != nil {
			return err
		}
	}

	slog.Info("Fit finished",
		"elapsed", elapsed,
		"status", out.Status,
		"initial_cost", out.InitialCost,
		"final_cost", out.Cost,
		"iterations", out.Iterations,
	)

	for i, name := range m.Params {
		fmt.Printf("%-12s %.10g\n", name, out.Params[i])
	}
	fmt.Printf("\nstatus %s after %d iterations (cost %.6g -> %.6g)\n", out.Status, out.Iterations, out.InitialCost, out.Cost)
	if jobID != "" {
		fmt.Printf("saved as job %s\n", jobID)
	}
	return nil
}

// chartFor draws data and fitted curve for single-input models and the
// convergence history for everything else.
func chartFor(problem *fit.Problem, m fit.Model, out *fit.Outcome) (*plot.Plot, error) {
	if m.Inputs != 1 || m.Outputs != 1 || problem.Batch {
		return report.Convergence(out.History, m.Name+" convergence")
	}

	predicted, err := problem.Predict(out.Params)
	if err != nil {
		return nil, err
	}
	xs := make([]float64, len(problem.Inputs))
	ys := make([]float64, len(problem.Inputs))
	fitted := make([]float64, len(problem.Inputs))
	for i := range problem.Inputs {
		xs[i] = problem.Inputs[i][0]
		ys[i] = problem.Targets[i][0]
		fitted[i] = predicted[i][0]
	}
	return report.Fit(xs, ys, fitted, m.Name+" fit")
}

func writeReport(path string, rep fitReport) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}
