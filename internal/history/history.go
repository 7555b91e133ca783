// Package history records finished batch runs so operators can see what was
// resolved, when, and with what result.
//
// Two stores are provided: an in-memory store used when no database is
// configured, and a PostgreSQL store built on pgx.
package history

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrNotFound is returned when a run ID has no record.
var ErrNotFound = errors.New("run not found")

// DefaultListLimit caps List when the caller passes a non-positive limit.
const DefaultListLimit = 50

// Record is the stored summary of one run. Per-row outcomes are not kept;
// the export artifact holds those.
type Record struct {
	ID          string        `json:"id"`
	FileName    string        `json:"file_name"`
	QueryColumn string        `json:"query_column"`
	Status      string        `json:"status"`
	Total       int           `json:"total"`
	Completed   int           `json:"completed"`
	Success     int           `json:"success"`
	NotFound    int           `json:"not_found"`
	Errors      int           `json:"errors"`
	Skipped     int           `json:"skipped"`
	ArtifactKey string        `json:"artifact_key,omitempty"`
	Error       string        `json:"error,omitempty"`
	ClientIP    string        `json:"client_ip,omitempty"`
	UserAgent   string        `json:"user_agent,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
}

// Store persists run records.
type Store interface {
	// Save inserts or replaces the record with r.ID.
	Save(ctx context.Context, r Record) error
	Get(ctx context.Context, id string) (Record, error)
	// List returns the most recent records first.
	List(ctx context.Context, limit int) ([]Record, error)
	// PurgeOlderThan deletes records started before cutoff and reports how
	// many were removed.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
