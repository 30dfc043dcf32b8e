package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Query server status or specific job",
	Long: `Queries the server for job status information.
If no job-id is provided, lists all jobs.
If job-id is provided, shows detailed status for that job.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

// jobStatus mirrors the status document served for one job.
type jobStatus struct {
	ID          string    `json:"id"`
	State       string    `json:"state"`
	Model       string    `json:"model"`
	Solver      string    `json:"solver"`
	Samples     int       `json:"samples"`
	BestParams  []float64 `json:"bestParams"`
	BestCost    float64   `json:"bestCost"`
	InitialCost float64   `json:"initialCost"`
	Iterations  int       `json:"iterations"`
	Lambda      float64   `json:"lambda"`
	Status      string    `json:"status"`
	Stalled     bool      `json:"stalled"`
	Seeded      bool      `json:"seeded"`
	Elapsed     float64   `json:"elapsed"`
	Error       string    `json:"error"`
	ResumedFrom string    `json:"resumedFrom"`
}

// jobSummary is the subset of a listed job shown in the overview.
type jobSummary struct {
	ID      string `json:"id"`
	State   string `json:"state"`
	Problem struct {
		Model  string `json:"model"`
		Solver string `json:"solver"`
	} `json:"problem"`
	BestCost    float64 `json:"bestCost"`
	InitialCost float64 `json:"initialCost"`
	Iterations  int     `json:"iterations"`
	Status      string  `json:"status"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return listJobs(fmt.Sprintf("%s/api/v1/jobs", serverURL))
	}
	jobID := args[0]
	return getJobStatus(fmt.Sprintf("%s/api/v1/jobs/%s/status", serverURL, jobID), jobID)
}

func getJSON(url string, v any) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

var errNotFound = errors.New("not found")

func listJobs(url string) error {
	var jobs []jobSummary
	if err := getJSON(url, &jobs); err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "JOB ID\tSTATE\tMODEL\tSOLVER\tITERATIONS\tCOST")
	for _, job := range jobs {
		solver := job.Problem.Solver
		if solver == "" {
			solver = "levmar"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%.6g -> %.6g\n",
			job.ID, job.State, job.Problem.Model, solver, job.Iterations, job.InitialCost, job.BestCost)
	}
	return w.Flush()
}

func getJobStatus(url, jobID string) error {
	var status jobStatus
	if err := getJSON(url, &status); err != nil {
		if errors.Is(err, errNotFound) {
			return fmt.Errorf("job not found: %s", jobID)
		}
		return err
	}
	printJobStatus(os.Stdout, status)
	return nil
}

func printJobStatus(w io.Writer, status jobStatus) {
	fmt.Fprintf(w, "Job: %s\n", status.ID)
	fmt.Fprintf(w, "State: %s\n", status.State)
	if status.ResumedFrom != "" {
		fmt.Fprintf(w, "Resumed from: %s\n", status.ResumedFrom)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Problem:")
	fmt.Fprintf(w, "  Model: %s\n", status.Model)
	fmt.Fprintf(w, "  Solver: %s\n", status.Solver)
	fmt.Fprintf(w, "  Samples: %d\n", status.Samples)
	if status.Seeded {
		fmt.Fprintln(w, "  Seeded: yes")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Progress:")
	fmt.Fprintf(w, "  Iterations: %d\n", status.Iterations)
	if status.InitialCost > 0 {
		fmt.Fprintf(w, "  Initial Cost: %.6g\n", status.InitialCost)
		improvement := status.InitialCost - status.BestCost
		fmt.Fprintf(w, "  Best Cost: %.6g\n", status.BestCost)
		fmt.Fprintf(w, "  Improvement: %.6g (%.1f%%)\n", improvement, improvement/status.InitialCost*100)
	}
	if status.Lambda > 0 {
		fmt.Fprintf(w, "  Lambda: %.3g\n", status.Lambda)
	}
	if status.Status != "" {
		fmt.Fprintf(w, "  Status: %s\n", status.Status)
	}
	if status.Stalled {
		fmt.Fprintln(w, "  Stalled: yes")
	}
	fmt.Fprintf(w, "  Elapsed: %s\n", time.Duration(status.Elapsed*float64(time.Second)).Round(time.Millisecond))

	if len(status.BestParams) > 0 {
		fmt.Fprintf(w, "  Params: %v\n", status.BestParams)
	}
	if status.Error != "" {
		fmt.Fprintf(w, "\nError: %s\n", status.Error)
	}
}
