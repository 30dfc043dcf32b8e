package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/lsqfit/internal/fit"
	"github.com/cwbudde/lsqfit/internal/store"
)

var (
	checkpointDataDir string
	keepLast          int
	olderThanDays     int
	forceClean        bool
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Manage stored fit checkpoints",
	Long: `Manage stored fit checkpoints including listing and cleaning old ones.
A checkpoint holds the best parameters of a job and the problem it solved,
so the fit can be continued with the resume command.`,
}

var listCheckpointsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all available checkpoints",
	Long:  `Display all checkpoints with job ID, timestamp, model, solver, iterations, cost, status and size.`,
	RunE:  runListCheckpoints,
}

var showCheckpointCmd = &cobra.Command{
	Use:   "show [job-id]",
	Short: "Show the parameters stored in a checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowCheckpoint,
}

var cleanCheckpointsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean old checkpoints",
	Long: `Delete stored jobs by retention policy: keep only the newest N jobs,
drop jobs older than N days, or both. The whole job directory is removed,
including its trace and chart.`,
	RunE: runCleanCheckpoints,
}

func init() {
	rootCmd.AddCommand(checkpointsCmd)
	checkpointsCmd.AddCommand(listCheckpointsCmd, showCheckpointCmd, cleanCheckpointsCmd)

	checkpointsCmd.PersistentFlags().StringVar(&checkpointDataDir, "data-dir", "./data", "Base directory for stored jobs")

	cleanCheckpointsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the newest N checkpoints (0 = keep all)")
	cleanCheckpointsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete checkpoints older than N days (0 = no age limit)")
	cleanCheckpointsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func runListCheckpoints(cmd *cobra.Command, args []string) error {
	st, err := store.NewFSStore(checkpointDataDir)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	infos, err := st.ListCheckpoints()
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}
	if len(infos) == 0 {
		fmt.Println("No checkpoints found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB ID\tTIMESTAMP\tMODEL\tSOLVER\tSAMPLES\tITERATION\tBEST COST\tSTATUS\tSIZE")
	for _, info := range infos {
		size := "unknown"
		if n, err := getDirSize(st.JobDir(info.JobID)); err == nil {
			size = formatBytes(n)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%.6g\t%s\t%s\n",
			shortJobID(info.JobID),
			info.Timestamp.Format("2006-01-02 15:04:05"),
			info.Model,
			info.Solver,
			info.Samples,
			info.Iteration,
			info.BestCost,
			info.Status,
			size,
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\nTotal checkpoints: %d\n", len(infos))
	return nil
}

func runShowCheckpoint(cmd *cobra.Command, args []string) error {
	st, err := store.NewFSStore(checkpointDataDir)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	checkpoint, err := st.LoadCheckpoint(args[0])
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no checkpoint for job %s", args[0])
	}
	if err != nil {
		return err
	}
	return printCheckpoint(os.Stdout, checkpoint)
}

func printCheckpoint(w io.Writer, c *store.Checkpoint) error {
	m, err := fit.LookupModel(c.Problem.Model)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Job: %s\n", c.JobID)
	fmt.Fprintf(w, "Saved: %s\n", c.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(w, "Model: %s (%s)\n", m.Name, m.Formula)
	fmt.Fprintf(w, "Solver: %s, %d samples\n", c.Problem.SolverName(), len(c.Problem.Inputs))
	fmt.Fprintf(w, "Iteration %d, cost %.6g -> %.6g", c.Iteration, c.InitialCost, c.BestCost)
	if c.Status != "" {
		fmt.Fprintf(w, " (%s)", c.Status)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for i, v := range c.BestParams {
		name := fmt.Sprintf("p%d", i)
		if i < len(m.Params) {
			name = m.Params[i]
		}
		fmt.Fprintf(tw, "%s\t%.10g\n", name, v)
	}
	return tw.Flush()
}

func runCleanCheckpoints(cmd *cobra.Command, args []string) error {
	policy := retentionPolicy{KeepLast: keepLast, MaxAge: time.Duration(olderThanDays) * 24 * time.Hour}
	if policy.empty() {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	st, err := store.NewFSStore(checkpointDataDir)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	infos, err := st.ListCheckpoints()
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}
	if len(infos) == 0 {
		fmt.Println("No checkpoints to clean.")
		return nil
	}

	toDelete := policy.expired(infos, time.Now())
	if len(toDelete) == 0 {
		fmt.Println("No checkpoints match deletion criteria.")
		return nil
	}

	fmt.Printf("Found %d checkpoint(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Printf("  - %s (%s, cost %.6g, %s)\n",
			shortJobID(info.JobID),
			info.Model,
			info.BestCost,
			info.Timestamp.Format("2006-01-02 15:04:05"),
		)
	}

	if !forceClean && !confirm(os.Stdin, os.Stdout, "\nProceed with deletion? [y/N]: ") {
		fmt.Println("Aborted.")
		return nil
	}

	deleted, failed := 0, 0
	for _, info := range toDelete {
		if err := st.DeleteCheckpoint(info.JobID); err != nil {
			slog.Error("Failed to delete checkpoint", "job_id", info.JobID, "error", err)
			failed++
			continue
		}
		slog.Info("Deleted checkpoint", "job_id", info.JobID)
		deleted++
	}

	fmt.Printf("\nDeleted %d checkpoint(s), %d failed.\n", deleted, failed)
	return nil
}

// retentionPolicy decides which stored jobs a clean run removes. A zero
// field disables that rule.
type retentionPolicy struct {
	KeepLast int
	MaxAge   time.Duration
}

func (p retentionPolicy) empty() bool {
	return p.KeepLast <= 0 && p.MaxAge <= 0
}

// expired returns the checkpoints older than MaxAge plus every checkpoint
// beyond the newest KeepLast, oldest first and without duplicates.
func (p retentionPolicy) expired(infos []store.CheckpointInfo, now time.Time) []store.CheckpointInfo {
	sorted := append([]store.CheckpointInfo(nil), infos...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	surplus := 0
	if p.KeepLast > 0 && len(sorted) > p.KeepLast {
		surplus = len(sorted) - p.KeepLast
	}
	cutoff := now.Add(-p.MaxAge)

	var out []store.CheckpointInfo
	for i, info := range sorted {
		tooOld := p.MaxAge > 0 && info.Timestamp.Before(cutoff)
		if tooOld || i < surplus {
			out = append(out, info)
		}
	}
	return out
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func shortJobID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}

// getDirSize sums the sizes of all regular files below path.
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.WalkDir(path, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		size += info.Size()
		return nil
	})
	return size, err
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
