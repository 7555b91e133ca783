package core

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/countrybatch/internal/history"
	"github.com/JonMunkholm/countrybatch/internal/objectstore"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

var (
	// ErrRunNotFound is returned for unknown or evicted run IDs.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunInProgress is returned when a finished-run operation is asked of
	// a run that is still resolving.
	ErrRunInProgress = errors.New("run still in progress")

	// ErrNoFile is returned when StartRun gets no body.
	ErrNoFile = errors.New("no file provided")

	// ErrArtifactStoreDisabled is returned by ExportLink without a sink.
	ErrArtifactStoreDisabled = errors.New("artifact store disabled")

	// ErrArtifactNotFound is returned by ExportLink when the run never
	// uploaded an export.
	ErrArtifactNotFound = errors.New("artifact not found")
)

// sideEffectTimeout bounds the artifact upload and history writes that
// follow a run. The run's own context may already be cancelled by then.
const sideEffectTimeout = 30 * time.Second

// ServiceConfig tunes a Service. Zero values pick the defaults.
type ServiceConfig struct {
	Workers          int
	ProgressInterval int
	MaxFileSize      int64

	MaxConcurrentRuns int
	MaxWait           time.Duration

	// RunTimeout bounds one run from start to finish.
	RunTimeout time.Duration
	// ResultTTL is how long a finished run stays queryable in memory.
	ResultTTL time.Duration

	DefaultColumn string
	Fallbacks     []string
	LegacyQuoting bool

	PresignTTL time.Duration
}

const (
	DefaultRunTimeout = 30 * time.Minute
	DefaultResultTTL  = 30 * time.Minute
	DefaultColumn     = "name"
)

// Service runs resolution batches in the background and tracks them until
// their results expire.
type Service struct {
	resolver Resolver
	cfg      ServiceConfig
	limiter  *RunLimiter
	history  history.Store
	sink     ArtifactSink
	log      *slog.Logger

	mu   sync.RWMutex
	runs map[string]*activeRun
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithHistory sets the run history store. The default is in-memory.
func WithHistory(store history.Store) Option {
	return func(s *Service) { s.history = store }
}

// WithArtifactSink uploads each completed export to sink.
func WithArtifactSink(sink ArtifactSink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithLogger replaces slog.Default for run logs.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

type activeRun struct {
	ID       string
	FileName string
	Column   string
	Headers  []string
	Total    int
	Cancel   context.CancelFunc

	// Client attribution captured at StartRun for the history record.
	ClientIP  string
	UserAgent string

	mu       sync.Mutex
	Progress RunStatus
	Result   *RunResult
	Done     chan struct{}

	Listeners  []chan RunStatus
	ListenerMu sync.Mutex
	closed     bool
}

// NewService creates a Service that resolves queries with r.
func NewService(r Resolver, cfg ServiceConfig, opts ...Option) *Service {
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = DefaultResultTTL
	}
	if cfg.DefaultColumn == "" {
		cfg.DefaultColumn = DefaultColumn
	}

	s := &Service{
		resolver: r,
		cfg:      cfg,
		limiter:  NewRunLimiter(cfg.MaxConcurrentRuns, cfg.MaxWait),
		history:  history.NewMemoryStore(),
		log:      slog.Default(),
		runs:     make(map[string]*activeRun),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartRun validates the file and begins resolving it in the background.
//
// Everything that can be rejected up front (size, empty input, missing
// query column, busy service) is reported here, synchronously, and no run
// is created. Use SubscribeProgress or GetRunResult to follow the run.
func (s *Service) StartRun(ctx context.Context, req RunRequest) (RunTicket, error) {
	if req.Body == nil {
		return RunTicket{}, ErrNoFile
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return RunTicket{}, err
	}
	release := true
	defer func() {
		if release {
			s.limiter.Release()
		}
	}()

	in, err := ReadInput(req.Body, s.cfg.MaxFileSize)
	if err != nil {
		return RunTicket{}, err
	}

	table, err := Parse(in.Content, DelimiterFor(req.FileName))
	if err != nil {
		return RunTicket{}, err
	}

	requested := req.Column
	if requested == "" {
		requested = s.cfg.DefaultColumn
	}
	fallbacks := req.Fallbacks
	if fallbacks == nil {
		fallbacks = s.cfg.Fallbacks
	}
	column, err := ResolveColumn(table.Headers, requested, fallbacks)
	if err != nil {
		return RunTicket{}, err
	}

	runID := uuid.New().String()
	runCtx, cancel := context.WithTimeout(context.Background(), s.cfg.RunTimeout)

	run := &activeRun{
		ID:        runID,
		FileName:  req.FileName,
		Column:    column,
		Headers:   table.Headers,
		Total:     len(table.Rows),
		Cancel:    cancel,
		ClientIP:  GetIPAddressFromContext(ctx),
		UserAgent: GetUserAgentFromContext(ctx),
		Progress: RunStatus{
			RunID:       runID,
			FileName:    req.FileName,
			QueryColumn: column,
			Phase:       PhaseStarting,
			Progress:    Progress{Total: len(table.Rows)},
			StartedAt:   time.Now().UTC(),
		},
		Done:      make(chan struct{}),
		Listeners: make([]chan RunStatus, 0),
	}

	s.mu.Lock()
	s.runs[runID] = run
	s.mu.Unlock()

	s.log.Info("run started",
		"run_id", runID,
		"file", req.FileName,
		"column", column,
		"rows", len(table.Rows),
		"bytes", in.Bytes,
		"replaced_bytes", in.Replaced,
	)
	s.saveRecord(run, nil)

	release = false
	go s.processRun(runCtx, run, table.Rows)

	return RunTicket{
		RunID:         runID,
		QueryColumn:   column,
		TotalRows:     len(table.Rows),
		Headers:       table.Headers,
		ReplacedBytes: in.Replaced,
	}, nil
}

// processRun drives the batch and publishes the result. It owns the run
// slot acquired by StartRun.
func (s *Service) processRun(ctx context.Context, run *activeRun, rows []Row) {
	defer run.Cancel()
	defer s.limiter.Release()

	run.setPhase(PhaseResolving)

	driver := NewDriver(s.resolver, DriverConfig{
		Workers:          s.cfg.Workers,
		ProgressInterval: s.cfg.ProgressInterval,
		OnProgress:       run.updateProgress,
	})

	outcomes, err := driver.Run(ctx, rows, run.Column)

	status := run.status()
	result := &RunResult{
		RunID:       run.ID,
		FileName:    run.FileName,
		QueryColumn: run.Column,
		Headers:     run.Headers,
		Completed:   status.Completed,
		StartedAt:   status.StartedAt,
		Duration:    time.Since(status.StartedAt),
	}

	switch {
	case err == nil:
		result.Phase = PhaseComplete
		result.Outcomes = outcomes
		result.Summary = Summarize(outcomes)
		result.Completed = len(outcomes)
		result.ArtifactKey = s.uploadArtifact(run.ID, outcomes)
	case errors.Is(err, context.DeadlineExceeded):
		err = errors.Wrapf(err, "run timed out after %s", s.cfg.RunTimeout)
		result.Phase = PhaseFailed
	default:
		result.Phase = PhaseCancelled
	}
	if err != nil {
		result.err = err
		result.Error = err.Error()
		result.Summary = BatchSummary{
			Total:    status.Total,
			Success:  status.Success,
			NotFound: status.NotFound,
			Error:    status.Progress.Error,
			Skipped:  status.Skipped,
		}
	}

	s.log.Info("run finished",
		"run_id", run.ID,
		"phase", result.Phase,
		"completed", result.Completed,
		"total", run.Total,
		"success", result.Summary.Success,
		"not_found", result.Summary.NotFound,
		"errors", result.Summary.Error,
		"skipped", result.Summary.Skipped,
		"duration_ms", result.Duration.Milliseconds(),
	)

	s.saveRecord(run, result)
	run.finish(result)
	s.cleanup(run.ID, s.cfg.ResultTTL)
}

// uploadArtifact stores the export and returns its key, or "" when no sink
// is configured or the upload failed.
func (s *Service) uploadArtifact(runID string, outcomes []Outcome) string {
	if s.sink == nil {
		return ""
	}

	var buf bytes.Buffer
	if err := Export(&buf, outcomes, ExportOptions{LegacyQuoting: s.cfg.LegacyQuoting}); err != nil {
		s.log.Error("render export failed", "run_id", runID, "error", err)
		return ""
	}

	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()

	key := objectstore.ArtifactKey(runID)
	if err := s.sink.Put(ctx, key, &buf, int64(buf.Len()), ExportContentType); err != nil {
		s.log.Error("artifact upload failed", "run_id", runID, "key", key, "error", err)
		return ""
	}
	return key
}

// saveRecord writes the history record for run. result is nil while the
// run is still in flight.
func (s *Service) saveRecord(run *activeRun, result *RunResult) {
	status := run.status()
	rec := history.Record{
		ID:          run.ID,
		FileName:    run.FileName,
		QueryColumn: run.Column,
		Status:      string(status.Phase),
		Total:       run.Total,
		ClientIP:    run.ClientIP,
		UserAgent:   run.UserAgent,
		StartedAt:   status.StartedAt,
	}
	if result != nil {
		rec.Status = string(result.Phase)
		rec.Completed = result.Completed
		rec.Success = result.Summary.Success
		rec.NotFound = result.Summary.NotFound
		rec.Errors = result.Summary.Error
		rec.Skipped = result.Summary.Skipped
		rec.ArtifactKey = result.ArtifactKey
		rec.Error = result.Error
		rec.Duration = result.Duration
	}

	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	if err := s.history.Save(ctx, rec); err != nil {
		s.log.Error("save run history failed", "run_id", run.ID, "error", err)
	}
}

func (s *Service) lookup(runID string) (*activeRun, error) {
	s.mu.RLock()
	run, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrRunNotFound, "run %s", runID)
	}
	return run, nil
}

// SubscribeProgress returns a channel that receives status updates.
// The channel is closed when the run finishes. Subscribing to a finished
// run yields its final status and a closed channel.
func (s *Service) SubscribeProgress(runID string) (<-chan RunStatus, error) {
	run, err := s.lookup(runID)
	if err != nil {
		return nil, err
	}

	ch := make(chan RunStatus, 10)
	current := run.status()

	run.ListenerMu.Lock()
	defer run.ListenerMu.Unlock()

	// Send current status immediately
	ch <- current
	if run.closed {
		close(ch)
		return ch, nil
	}
	run.Listeners = append(run.Listeners, ch)
	return ch, nil
}

// CancelRun cancels an in-progress run. Cancelling a finished run is a
// no-op.
func (s *Service) CancelRun(runID string) error {
	run, err := s.lookup(runID)
	if err != nil {
		return err
	}
	run.Cancel()
	return nil
}

// CancelAll cancels every run still in flight.
func (s *Service) CancelAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, run := range s.runs {
		run.Cancel()
	}
}

// GetRunStatus returns the current status without blocking.
func (s *Service) GetRunStatus(runID string) (RunStatus, error) {
	run, err := s.lookup(runID)
	if err != nil {
		return RunStatus{}, err
	}
	return run.status(), nil
}

// GetRunResult returns the result of a run, blocking until it finishes or
// ctx ends.
func (s *Service) GetRunResult(ctx context.Context, runID string) (*RunResult, error) {
	run, err := s.lookup(runID)
	if err != nil {
		return nil, err
	}

	select {
	case <-run.Done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	run.mu.Lock()
	defer run.mu.Unlock()
	return run.Result, nil
}

// FinishedResult returns the result of a finished run without blocking. It
// returns ErrRunInProgress while the run is still resolving.
func (s *Service) FinishedResult(runID string) (*RunResult, error) {
	run, err := s.lookup(runID)
	if err != nil {
		return nil, err
	}
	select {
	case <-run.Done:
	default:
		return nil, errors.Wrapf(ErrRunInProgress, "run %s", runID)
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.Result, nil
}

// ExportRun writes the export of a completed run to w. Cancelled and
// failed runs have no export and return the error that ended them.
func (s *Service) ExportRun(runID string, w io.Writer) error {
	result, err := s.FinishedResult(runID)
	if err != nil {
		return err
	}
	if result.Phase != PhaseComplete {
		return result.err
	}
	return Export(w, result.Outcomes, ExportOptions{LegacyQuoting: s.cfg.LegacyQuoting})
}

// ExportLink returns a presigned URL for the stored export of runID. It
// also works for runs already evicted from memory, via the history record.
func (s *Service) ExportLink(ctx context.Context, runID string) (string, error) {
	if s.sink == nil {
		return "", ErrArtifactStoreDisabled
	}

	var key string
	if result, err := s.FinishedResult(runID); err == nil {
		key = result.ArtifactKey
	} else if errors.Is(err, ErrRunInProgress) {
		return "", err
	} else {
		rec, herr := s.history.Get(ctx, runID)
		if herr != nil {
			if errors.Is(herr, history.ErrNotFound) {
				return "", errors.Wrapf(ErrRunNotFound, "run %s", runID)
			}
			return "", herr
		}
		key = rec.ArtifactKey
	}

	if key == "" {
		return "", errors.Wrapf(ErrArtifactNotFound, "run %s", runID)
	}
	return s.sink.PresignGet(ctx, key, s.cfg.PresignTTL)
}

// ListRuns returns recorded runs, most recent first.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]history.Record, error) {
	return s.history.List(ctx, limit)
}

// GetRunRecord returns the stored record for runID, including runs already
// evicted from memory.
func (s *Service) GetRunRecord(ctx context.Context, runID string) (history.Record, error) {
	rec, err := s.history.Get(ctx, runID)
	if errors.Is(err, history.ErrNotFound) {
		return history.Record{}, errors.Wrapf(ErrRunNotFound, "run %s", runID)
	}
	return rec, err
}

// WaitForRuns blocks until no run is active or ctx ends.
func (s *Service) WaitForRuns(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// LimiterStatus reports run slot usage.
func (s *Service) LimiterStatus() RunLimiterStatus {
	return s.limiter.Status()
}

// Config returns the effective configuration after defaults.
func (s *Service) Config() ServiceConfig {
	return s.cfg
}

func (run *activeRun) status() RunStatus {
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.Progress
}

func (run *activeRun) setPhase(phase RunPhase) {
	run.mu.Lock()
	run.Progress.Phase = phase
	run.mu.Unlock()
	run.notifyProgress()
}

func (run *activeRun) updateProgress(p Progress) {
	run.mu.Lock()
	run.Progress.Progress = p
	run.Progress.Percent = p.Percent()
	run.mu.Unlock()
	run.notifyProgress()
}

func (run *activeRun) finish(result *RunResult) {
	run.mu.Lock()
	run.Result = result
	run.Progress.Phase = result.Phase
	run.Progress.Error = result.Error
	run.Progress.Completed = result.Completed
	if result.Phase == PhaseComplete {
		run.Progress.Percent = 100
	}
	run.mu.Unlock()

	run.notifyProgress()
	close(run.Done)
	run.closeListeners()
}

// notifyProgress sends the current status to all listeners.
func (run *activeRun) notifyProgress() {
	current := run.status()

	run.ListenerMu.Lock()
	defer run.ListenerMu.Unlock()

	for _, ch := range run.Listeners {
		select {
		case ch <- current:
		default:
			// Listener is slow, skip this update
		}
	}
}

// closeListeners closes all listener channels.
func (run *activeRun) closeListeners() {
	run.ListenerMu.Lock()
	defer run.ListenerMu.Unlock()

	for _, ch := range run.Listeners {
		close(ch)
	}
	run.Listeners = nil
	run.closed = true
}

// cleanup removes the run from tracking after a delay.
func (s *Service) cleanup(runID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.runs, runID)
		s.mu.Unlock()
	})
}

// SplitColumnList splits a comma-separated column list, dropping blanks.
func SplitColumnList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
