package core

import (
	"context"
	"io"
	"time"
)

// RunPhase indicates the current stage of a resolution run.
type RunPhase string

const (
	PhaseStarting  RunPhase = "starting"
	PhaseResolving RunPhase = "resolving"
	PhaseComplete  RunPhase = "complete"
	PhaseCancelled RunPhase = "cancelled"
	PhaseFailed    RunPhase = "failed"
)

// Finished reports whether the phase is terminal.
func (p RunPhase) Finished() bool {
	return p == PhaseComplete || p == PhaseCancelled || p == PhaseFailed
}

// RunRequest describes a file to resolve.
type RunRequest struct {
	FileName string
	Body     io.Reader

	// Column is the requested query column. Empty uses the service default.
	Column string

	// Fallbacks are tried in order when Column is absent. Nil uses the
	// service defaults; an empty non-nil slice disables fallbacks.
	Fallbacks []string
}

// RunTicket is returned by StartRun once the file has been accepted.
type RunTicket struct {
	RunID         string   `json:"run_id"`
	QueryColumn   string   `json:"query_column"`
	TotalRows     int      `json:"total_rows"`
	Headers       []string `json:"headers"`
	ReplacedBytes int      `json:"replaced_bytes,omitempty"`
}

// RunStatus represents the current state of a run.
type RunStatus struct {
	RunID       string   `json:"run_id"`
	FileName    string   `json:"file_name"`
	QueryColumn string   `json:"query_column"`
	Phase       RunPhase `json:"phase"`
	Progress
	Percent   int       `json:"percent"`
	Error     string    `json:"message,omitempty"` // Non-empty if Phase is cancelled or failed
	StartedAt time.Time `json:"started_at"`
}

// RunResult contains the final state of a run.
type RunResult struct {
	RunID       string        `json:"run_id"`
	FileName    string        `json:"file_name"`
	QueryColumn string        `json:"query_column"`
	Headers     []string      `json:"headers"`
	Phase       RunPhase      `json:"phase"`
	Summary     BatchSummary  `json:"summary"`
	Completed   int           `json:"completed"`
	ArtifactKey string        `json:"artifact_key,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration_ns"`

	// Outcomes holds one entry per data row, in row order. It is nil unless
	// Phase is PhaseComplete.
	Outcomes []Outcome `json:"-"`

	err error
}

// Err returns the error that ended the run, if any.
func (r *RunResult) Err() error {
	return r.err
}

// ArtifactSink stores finished exports outside the process.
// Satisfied by *objectstore.MinioSink.
type ArtifactSink interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}
