package domain

import "time"

// RunReport summarizes one completed run.
type RunReport struct {
	RunTime   time.Time     `json:"run_time"`
	Duration  time.Duration `json:"duration_ns"`
	Sites     int           `json:"sites"`
	Skipped   []string      `json:"skipped_sites,omitempty"`
	Rows      int           `json:"rows"`
	Upserted  int           `json:"upserted"`
	Published int           `json:"published"`
	DryRun    bool          `json:"dry_run,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Succeeded reports whether the run finished without error.
func (r RunReport) Succeeded() bool { return r.Error == "" }
