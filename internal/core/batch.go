package core

// batch.go runs a resolver over every row of a table.
//
// Rows are dispatched to a fixed number of workers. Each worker writes its
// outcome into the slot matching the row index, so the returned slice lines
// up with the input without sorting. A single collector goroutine owns the
// outcome slice and the running counts; nothing else touches them.

import (
	"context"
	"fmt"
	"strings"
)

const (
	// DefaultWorkers is the number of concurrent resolver calls per run.
	DefaultWorkers = 4

	// DefaultProgressInterval is how many completed rows pass between
	// progress callbacks.
	DefaultProgressInterval = 10
)

// Progress is a snapshot of a run in flight.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
	Success   int `json:"success"`
	NotFound  int `json:"not_found"`
	Error     int `json:"error"`
	Skipped   int `json:"skipped"`
}

// Percent returns completion as 0-100.
func (p Progress) Percent() int {
	if p.Total <= 0 {
		return 0
	}
	return p.Completed * 100 / p.Total
}

// ProgressFunc receives progress snapshots. It is always called from the
// same goroutine and must not block for long.
type ProgressFunc func(Progress)

// DriverConfig tunes a Driver. Zero values pick the defaults.
type DriverConfig struct {
	Workers          int
	ProgressInterval int
	OnProgress       ProgressFunc
}

// CancelledError is returned by Run when the context ends before every row
// has an outcome. No partial outcome slice is returned with it.
type CancelledError struct {
	Completed int
	Total     int
	Cause     error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("run cancelled, %d of %d completed", e.Completed, e.Total)
}

func (e *CancelledError) Unwrap() error {
	return e.Cause
}

// Driver resolves batches of rows.
type Driver struct {
	resolver Resolver
	cfg      DriverConfig
}

// NewDriver returns a Driver that sends queries to r.
func NewDriver(r Resolver, cfg DriverConfig) *Driver {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = DefaultProgressInterval
	}
	return &Driver{resolver: r, cfg: cfg}
}

type rowResult struct {
	index   int
	outcome Outcome
}

// Run resolves the value in column for every row and returns one outcome
// per row, in row order.
//
// A failing row never stops the run. If ctx is cancelled first, Run stops
// handing out rows, waits for calls already in flight, and returns a
// *CancelledError.
func (d *Driver) Run(ctx context.Context, rows []Row, column string) ([]Outcome, error) {
	total := len(rows)
	outcomes := make([]Outcome, total)

	workers := d.cfg.Workers
	if workers > total {
		workers = total
	}

	jobs := make(chan int)
	results := make(chan rowResult, workers)
	done := make(chan struct{})

	for i := 0; i < workers; i++ {
		go func() {
			for idx := range jobs {
				out, ok := d.resolveRow(ctx, rows[idx], column)
				if !ok {
					continue
				}
				results <- rowResult{index: idx, outcome: out}
			}
			done <- struct{}{}
		}()
	}

	go func() {
		defer close(jobs)
		for idx := range rows {
			select {
			case jobs <- idx:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		for i := 0; i < workers; i++ {
			<-done
		}
		close(results)
	}()

	progress := Progress{Total: total}
	for res := range results {
		outcomes[res.index] = res.outcome
		progress.Completed++
		progress.count(res.outcome)

		if progress.Completed%d.cfg.ProgressInterval == 0 && progress.Completed < total {
			d.report(progress)
		}
	}
	d.report(progress)

	if progress.Completed < total {
		return nil, &CancelledError{Completed: progress.Completed, Total: total, Cause: ctx.Err()}
	}
	return outcomes, nil
}

// resolveRow produces the outcome for one row. ok is false when the row was
// abandoned because ctx ended.
func (d *Driver) resolveRow(ctx context.Context, row Row, column string) (out Outcome, ok bool) {
	query := strings.TrimSpace(row.Get(column))
	if query == "" {
		return Skipped{Reason: SkipReasonEmpty}, true
	}
	if ctx.Err() != nil {
		return nil, false
	}

	defer func() {
		if r := recover(); r != nil {
			out, ok = Error{Query: query, Reason: fmt.Sprintf("resolver panic: %v", r)}, true
		}
	}()

	m, err := d.resolver.Resolve(ctx, query)
	if err != nil && ctx.Err() != nil && !IsNotFound(err) {
		return nil, false
	}
	return classify(query, m, err), true
}

func (d *Driver) report(p Progress) {
	if d.cfg.OnProgress != nil {
		d.cfg.OnProgress(p)
	}
}

func (p *Progress) count(o Outcome) {
	switch o.(type) {
	case Success:
		p.Success++
	case NotFound:
		p.NotFound++
	case Error:
		p.Error++
	case Skipped:
		p.Skipped++
	}
}
