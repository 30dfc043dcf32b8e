// Package ui holds the HTML views served by the job server.
package ui

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/a-h/templ"
)

// JobListItem is one row of the job overview.
type JobListItem struct {
	ID          string
	State       string
	Model       string
	Solver      string
	Samples     int
	Iterations  int
	Status      string
	BestCost    float64
	InitialCost float64
	StartTime   time.Time
	EndTime     *time.Time
	Error       string
}

// Duration returns the run time so far.
func (j JobListItem) Duration() time.Duration {
	if j.EndTime != nil {
		return j.EndTime.Sub(j.StartTime).Round(time.Millisecond)
	}
	return time.Since(j.StartTime).Round(time.Millisecond)
}

// JobList renders the job overview page.
func JobList(jobs []JobListItem) templ.Component {
	return layout("lsqfit jobs", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if len(jobs) == 0 {
			_, err := io.WriteString(w, `<p class="empty">No jobs yet. POST a problem to /api/v1/jobs.</p>`)
			return err
		}

		if _, err := io.WriteString(w, `<table><thead><tr><th>Job</th><th>State</th><th>Model</th><th>Solver</th><th>Samples</th><th>Iterations</th><th>Initial cost</th><th>Best cost</th><th>Result</th><th>Duration</th></tr></thead><tbody>`); err != nil {
			return err
		}
		for _, j := range jobs {
			result := j.Status
			if j.Error != "" {
				result = j.Error
			}
			_, err := fmt.Fprintf(w,
				`<tr class="%s"><td><a href="/api/v1/jobs/%s">%s</a></td><td>%s</td><td>%s</td><td>%s</td><td>%d</td><td>%d</td><td>%.6g</td><td>%.6g</td><td>%s</td><td>%s</td></tr>`,
				templ.EscapeString(j.State),
				templ.EscapeString(j.ID), templ.EscapeString(shortID(j.ID)),
				templ.EscapeString(j.State),
				templ.EscapeString(j.Model),
				templ.EscapeString(j.Solver),
				j.Samples, j.Iterations, j.InitialCost, j.BestCost,
				templ.EscapeString(result),
				j.Duration(),
			)
			if err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, `</tbody></table>`)
		return err
	}))
}

func layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := fmt.Fprintf(w, `<!DOCTYPE html><html><head><meta charset="utf-8"><title>%s</title><style>%s</style></head><body><h1>%s</h1>`,
			templ.EscapeString(title), style, templ.EscapeString(title)); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</body></html>`)
		return err
	})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

const style = `body{font-family:sans-serif;margin:2em}table{border-collapse:collapse}td,th{padding:4px 10px;border-bottom:1px solid #ddd;text-align:left}tr.failed td{color:#b00}tr.running td{color:#06c}`
