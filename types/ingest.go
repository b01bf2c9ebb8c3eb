package types

import (
	"strings"
	"time"
)

// IngestPhase is the observed state of the backend ingest job.
type IngestPhase string

const (
	// PhaseIdle means no ingest is running.
	PhaseIdle IngestPhase = "idle"
	// PhaseRunning means the backend reports an ingest in progress.
	PhaseRunning IngestPhase = "running"
	// PhaseError means the last ingest ended in failure.
	PhaseError IngestPhase = "error"
)

// IngestStatus is one observation of the ingest job.
type IngestStatus struct {
	Phase         IngestPhase `json:"phase"`
	RawStatus     string      `json:"status"`
	Busy          bool        `json:"busy"`
	StartedAt     *time.Time  `json:"started_at,omitempty"`
	LastSuccessAt *time.Time  `json:"last_success_at,omitempty"`
	ObservedAt    time.Time   `json:"observed_at"`
}

// PhaseFromStatus maps the backend's busy flag and status string to a phase.
//
// Mapping:
//   - busy, or status "running": running
//   - status "failed", "error" or "error: <detail>": error
//   - anything else ("idle", "ok", "done", unknown): idle
func PhaseFromStatus(busy bool, status string) IngestPhase {
	s := strings.ToLower(strings.TrimSpace(status))
	if busy || s == "running" {
		return PhaseRunning
	}
	if s == "failed" || strings.HasPrefix(s, "error") {
		return PhaseError
	}
	return PhaseIdle
}

// IsCompletion reports whether prev -> next is a completion event:
// leaving running for idle or error.
func IsCompletion(prev, next IngestPhase) bool {
	return prev == PhaseRunning && (next == PhaseIdle || next == PhaseError)
}
