// Package async runs a batch of lookups on a bounded worker pool with pulse control
// (pause, resume, cancel) and live progress.
package async

import (
	"time"
)

// RunStatus represents the current state of a run
type RunStatus string

const (
	StatusIdle      RunStatus = "idle"
	StatusRunning   RunStatus = "running"
	StatusPaused    RunStatus = "paused"
	StatusCancelled RunStatus = "cancelled"
	StatusCompleted RunStatus = "completed"
)

// IsValidStatus returns true if the status string is a valid RunStatus
func IsValidStatus(s string) bool {
	switch RunStatus(s) {
	case StatusIdle, StatusRunning, StatusPaused, StatusCancelled, StatusCompleted:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further control calls except Start/Reset apply.
func (s RunStatus) IsTerminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// IsActive reports whether the run is running or paused.
func (s RunStatus) IsActive() bool {
	return s == StatusRunning || s == StatusPaused
}

// Progress represents run progress information
type Progress struct {
	Current int `json:"current"` // Settled items
	Total   int `json:"total"`   // Total items
}

// Percentage calculates progress as a percentage (0-100)
func (p Progress) Percentage() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Current) / float64(p.Total) * 100
}

// JobState is a point-in-time view of a run.
//
// ProcessedCount counts items that received a lookup outcome. Items that were
// never issued because the run was cancelled count in CancelledCount instead.
// Once a run has drained, SuccessCount+FailureCount == ProcessedCount and
// ProcessedCount+CancelledCount == TotalItems.
type JobState struct {
	RunID          string     `json:"run_id"`
	Status         RunStatus  `json:"status"`
	TotalItems     int        `json:"total_items"`
	ProcessedCount int        `json:"processed_count"`
	SuccessCount   int        `json:"success_count"`
	FailureCount   int        `json:"failure_count"`
	CancelledCount int        `json:"cancelled_count"`
	InFlight       int        `json:"in_flight"`
	StartedAt      time.Time  `json:"started_at"`
	LastUpdatedAt  time.Time  `json:"last_updated_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// Settled returns the number of items with any terminal outcome.
func (s JobState) Settled() int {
	return s.ProcessedCount + s.CancelledCount
}

// Progress returns settled over total.
func (s JobState) Progress() Progress {
	return Progress{Current: s.Settled(), Total: s.TotalItems}
}

// SuccessRate is successful lookups as a percentage of processed items.
func (s JobState) SuccessRate() float64 {
	if s.ProcessedCount == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.ProcessedCount) * 100
}

// Elapsed is the run's wall time, up to FinishedAt or the last update.
func (s JobState) Elapsed() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	end := s.LastUpdatedAt
	if s.FinishedAt != nil && s.FinishedAt.After(end) {
		end = *s.FinishedAt
	}
	if end.Before(s.StartedAt) {
		return 0
	}
	return end.Sub(s.StartedAt)
}

// Throughput is processed items per second over Elapsed.
func (s JobState) Throughput() float64 {
	secs := s.Elapsed().Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.ProcessedCount) / secs
}
