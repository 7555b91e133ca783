package core

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/countrybatch/internal/history"
)

// memorySink records uploaded artifacts.
type memorySink struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemorySink() *memorySink {
	return &memorySink{objects: make(map[string][]byte)}
}

func (m *memorySink) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	if m.putErr != nil {
		return m.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[key] = data
	m.mu.Unlock()
	return nil
}

func (m *memorySink) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://objects.test/" + key + "?sig=x", nil
}

func (m *memorySink) object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	return b, ok
}

// failingStore rejects every write.
type failingStore struct{ history.Store }

func (failingStore) Save(context.Context, history.Record) error {
	return errors.New("database unavailable")
}

func countriesResolver() *stubResolver {
	return &stubResolver{known: map[string]Match{
		"France":  {Code: "FR", Name: "French Republic"},
		"Germany": {Code: "DE", Name: "Federal Republic of Germany"},
	}}
}

func blockingResolver() *stubResolver {
	return &stubResolver{delay: func(string) time.Duration { return time.Hour }}
}

func startRun(t *testing.T, s *Service, fileName, content string) RunTicket {
	t.Helper()
	ticket, err := s.StartRun(context.Background(), RunRequest{
		FileName: fileName,
		Body:     strings.NewReader(content),
	})
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	return ticket
}

func waitResult(t *testing.T, s *Service, runID string) *RunResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := s.GetRunResult(ctx, runID)
	if err != nil {
		t.Fatalf("GetRunResult() error = %v", err)
	}
	return res
}

func TestService_CompleteRun(t *testing.T) {
	sink := newMemorySink()
	store := history.NewMemoryStore()
	s := NewService(countriesResolver(), ServiceConfig{}, WithHistory(store), WithArtifactSink(sink))

	ctx := ContextWithIPAddress(context.Background(), "203.0.113.7")
	ctx = ContextWithUserAgent(ctx, "test-agent")
	ticket, err := s.StartRun(ctx, RunRequest{
		FileName: "countries.csv",
		Body:     strings.NewReader("name,pop\nFrance,67\nAtlantis,0\n,1\nGermany,83\n"),
	})
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	if ticket.QueryColumn != "name" || ticket.TotalRows != 4 {
		t.Errorf("ticket = %+v, want column name and 4 rows", ticket)
	}

	res := waitResult(t, s, ticket.RunID)
	if res.Phase != PhaseComplete {
		t.Fatalf("phase = %q, want %q (error %q)", res.Phase, PhaseComplete, res.Error)
	}
	want := BatchSummary{Total: 4, Success: 2, NotFound: 1, Skipped: 1}
	if res.Summary != want {
		t.Errorf("summary = %+v, want %+v", res.Summary, want)
	}
	if len(res.Outcomes) != 4 {
		t.Fatalf("got %d outcomes, want 4", len(res.Outcomes))
	}
	if _, ok := res.Outcomes[2].(Skipped); !ok {
		t.Errorf("outcome[2] = %#v, want Skipped", res.Outcomes[2])
	}

	var buf bytes.Buffer
	if err := s.ExportRun(ticket.RunID, &buf); err != nil {
		t.Fatalf("ExportRun() error = %v", err)
	}
	if got, want := buf.String(), ExportString(res.Outcomes, ExportOptions{}); got != want {
		t.Errorf("ExportRun() = %q, want %q", got, want)
	}

	if res.ArtifactKey != "runs/"+ticket.RunID+"/results.csv" {
		t.Errorf("artifact key = %q", res.ArtifactKey)
	}
	stored, ok := sink.object(res.ArtifactKey)
	if !ok || string(stored) != buf.String() {
		t.Errorf("stored artifact = %q, want export", stored)
	}

	rec, err := s.GetRunRecord(context.Background(), ticket.RunID)
	if err != nil {
		t.Fatalf("GetRunRecord() error = %v", err)
	}
	if rec.Status != string(PhaseComplete) || rec.Success != 2 || rec.Completed != 4 {
		t.Errorf("record = %+v", rec)
	}
	if rec.ClientIP != "203.0.113.7" || rec.UserAgent != "test-agent" {
		t.Errorf("record attribution = %q %q", rec.ClientIP, rec.UserAgent)
	}

	if st := s.LimiterStatus(); st.Active != 0 {
		t.Errorf("active runs = %d after completion, want 0", st.Active)
	}
}

func TestService_TSVAndFallbackColumn(t *testing.T) {
	s := NewService(countriesResolver(), ServiceConfig{Fallbacks: []string{"country"}})

	ticket := startRun(t, s, "LIST.TSV", "id\tcountry\n1\tFrance\n")
	if ticket.QueryColumn != "country" {
		t.Fatalf("column = %q, want country", ticket.QueryColumn)
	}
	res := waitResult(t, s, ticket.RunID)
	if res.Summary.Success != 1 {
		t.Errorf("summary = %+v, want one success", res.Summary)
	}
}

func TestService_StartRunRejections(t *testing.T) {
	tests := []struct {
		name    string
		req     RunRequest
		cfg     ServiceConfig
		wantErr error
		check   func(t *testing.T, err error)
	}{
		{
			name:    "no body",
			req:     RunRequest{FileName: "a.csv"},
			wantErr: ErrNoFile,
		},
		{
			name:    "header only",
			req:     RunRequest{FileName: "a.csv", Body: strings.NewReader("name\n\n")},
			wantErr: ErrEmptyInput,
		},
		{
			name:    "too large",
			cfg:     ServiceConfig{MaxFileSize: 8},
			req:     RunRequest{FileName: "a.csv", Body: strings.NewReader("name\nFrance\nGermany\n")},
			wantErr: ErrFileTooLarge,
		},
		{
			name: "missing column",
			req:  RunRequest{FileName: "a.csv", Body: strings.NewReader("code,label\nFR,France\n"), Column: "country"},
			check: func(t *testing.T, err error) {
				cnf, ok := AsColumnNotFound(err)
				if !ok {
					t.Fatalf("error = %v, want ColumnNotFoundError", err)
				}
				if strings.Join(cnf.Available, ",") != "code,label" {
					t.Errorf("available = %v", cnf.Available)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := countriesResolver()
			s := NewService(r, tt.cfg)

			_, err := s.StartRun(context.Background(), tt.req)
			if err == nil {
				t.Fatal("StartRun() error = nil, want error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("StartRun() error = %v, want %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, err)
			}
			if r.callCount() != 0 {
				t.Errorf("resolver called %d times, want 0", r.callCount())
			}
			if st := s.LimiterStatus(); st.Active != 0 {
				t.Errorf("active runs = %d after rejection, want 0", st.Active)
			}
		})
	}
}

func TestService_TooManyRuns(t *testing.T) {
	s := NewService(blockingResolver(), ServiceConfig{MaxConcurrentRuns: 1, MaxWait: 20 * time.Millisecond})

	first := startRun(t, s, "a.csv", "name\nFrance\n")
	defer s.CancelRun(first.RunID)

	_, err := s.StartRun(context.Background(), RunRequest{FileName: "b.csv", Body: strings.NewReader("name\nGermany\n")})
	if !errors.Is(err, ErrTooManyRuns) {
		t.Fatalf("StartRun() error = %v, want ErrTooManyRuns", err)
	}
}

func TestService_CancelRun(t *testing.T) {
	s := NewService(blockingResolver(), ServiceConfig{Workers: 2})

	ticket := startRun(t, s, "a.csv", "name\nFrance\nGermany\nSpain\nItaly\n")

	var buf bytes.Buffer
	if err := s.ExportRun(ticket.RunID, &buf); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("ExportRun() while running error = %v, want ErrRunInProgress", err)
	}

	if err := s.CancelRun(ticket.RunID); err != nil {
		t.Fatalf("CancelRun() error = %v", err)
	}

	res := waitResult(t, s, ticket.RunID)
	if res.Phase != PhaseCancelled {
		t.Fatalf("phase = %q, want cancelled", res.Phase)
	}
	if res.Outcomes != nil {
		t.Errorf("cancelled run has %d outcomes, want none", len(res.Outcomes))
	}
	var ce *CancelledError
	if !errors.As(res.Err(), &ce) || ce.Total != 4 {
		t.Errorf("Err() = %v, want CancelledError over 4 rows", res.Err())
	}

	err := s.ExportRun(ticket.RunID, &buf)
	if err == nil || !strings.Contains(err.Error(), "run cancelled") {
		t.Errorf("ExportRun() after cancel error = %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("ExportRun() wrote %q for a cancelled run", buf.String())
	}

	rec, err := s.GetRunRecord(context.Background(), ticket.RunID)
	if err != nil || rec.Status != string(PhaseCancelled) {
		t.Errorf("record = %+v, err = %v", rec, err)
	}
}

func TestService_RunTimeout(t *testing.T) {
	s := NewService(blockingResolver(), ServiceConfig{RunTimeout: 30 * time.Millisecond})

	ticket := startRun(t, s, "a.csv", "name\nFrance\n")
	res := waitResult(t, s, ticket.RunID)
	if res.Phase != PhaseFailed {
		t.Fatalf("phase = %q, want failed", res.Phase)
	}
	if !strings.Contains(res.Error, "timed out") {
		t.Errorf("error = %q, want timeout", res.Error)
	}
	if res.Completed != 0 || res.Summary != (BatchSummary{Total: 1}) {
		t.Errorf("completed = %d, summary = %+v, want nothing resolved of 1", res.Completed, res.Summary)
	}
}

func TestService_CancelledRunKeepsCounts(t *testing.T) {
	failing := map[string]bool{"Chile": true, "Peru": true, "Bolivia": true}
	r := &stubResolver{
		fail: failing,
		delay: func(q string) time.Duration {
			if failing[q] {
				return 0
			}
			return time.Hour
		},
	}
	s := NewService(r, ServiceConfig{Workers: 2, ProgressInterval: 1})

	ticket := startRun(t, s, "a.csv", "name\nChile\nPeru\nBolivia\nFrance\nSpain\n")

	deadline := time.Now().Add(5 * time.Second)
	for {
		st, err := s.GetRunStatus(ticket.RunID)
		if err != nil {
			t.Fatalf("GetRunStatus() error = %v", err)
		}
		if st.Completed == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("completed = %d, want 3 before cancelling", st.Completed)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := s.CancelRun(ticket.RunID); err != nil {
		t.Fatalf("CancelRun() error = %v", err)
	}

	res := waitResult(t, s, ticket.RunID)
	if res.Phase != PhaseCancelled {
		t.Fatalf("phase = %q, want cancelled", res.Phase)
	}
	want := BatchSummary{Total: 5, Error: 3}
	if res.Summary != want {
		t.Errorf("summary = %+v, want %+v", res.Summary, want)
	}
	if res.Completed != 3 {
		t.Errorf("completed = %d, want 3", res.Completed)
	}
	if got := res.Summary.Success + res.Summary.NotFound + res.Summary.Error + res.Summary.Skipped; got != res.Completed {
		t.Errorf("summary counts %d rows, completed = %d", got, res.Completed)
	}
}

func TestService_SubscribeProgress(t *testing.T) {
	r := countriesResolver()
	r.delay = func(string) time.Duration { return 5 * time.Millisecond }
	s := NewService(r, ServiceConfig{Workers: 2, ProgressInterval: 2})

	content := "name\n" + strings.Repeat("France\nAtlantis\n", 5)
	ticket := startRun(t, s, "a.csv", content)

	ch, err := s.SubscribeProgress(ticket.RunID)
	if err != nil {
		t.Fatalf("SubscribeProgress() error = %v", err)
	}

	var last RunStatus
	for st := range ch {
		if st.Completed < last.Completed {
			t.Errorf("completed went backwards: %d after %d", st.Completed, last.Completed)
		}
		last = st
	}
	if last.Phase != PhaseComplete || last.Completed != 10 || last.Percent != 100 {
		t.Errorf("final status = %+v", last)
	}

	// A late subscriber gets the final status and a closed channel.
	late, err := s.SubscribeProgress(ticket.RunID)
	if err != nil {
		t.Fatalf("SubscribeProgress() late error = %v", err)
	}
	st, ok := <-late
	if !ok || st.Phase != PhaseComplete {
		t.Errorf("late status = %+v, ok = %v", st, ok)
	}
	if _, ok := <-late; ok {
		t.Error("late channel not closed")
	}
}

func TestService_UnknownRun(t *testing.T) {
	s := NewService(countriesResolver(), ServiceConfig{})

	if _, err := s.GetRunStatus("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRunStatus() error = %v", err)
	}
	if _, err := s.SubscribeProgress("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("SubscribeProgress() error = %v", err)
	}
	if err := s.CancelRun("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("CancelRun() error = %v", err)
	}
	if err := s.ExportRun("nope", io.Discard); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("ExportRun() error = %v", err)
	}
	if _, err := s.GetRunRecord(context.Background(), "nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRunRecord() error = %v", err)
	}
}

func TestService_ExportLink(t *testing.T) {
	t.Run("disabled without sink", func(t *testing.T) {
		s := NewService(countriesResolver(), ServiceConfig{})
		ticket := startRun(t, s, "a.csv", "name\nFrance\n")
		waitResult(t, s, ticket.RunID)

		_, err := s.ExportLink(context.Background(), ticket.RunID)
		if !errors.Is(err, ErrArtifactStoreDisabled) {
			t.Errorf("ExportLink() error = %v, want ErrArtifactStoreDisabled", err)
		}
	})

	t.Run("served from history after eviction", func(t *testing.T) {
		s := NewService(countriesResolver(), ServiceConfig{ResultTTL: 10 * time.Millisecond},
			WithArtifactSink(newMemorySink()))
		ticket := startRun(t, s, "a.csv", "name\nFrance\n")
		waitResult(t, s, ticket.RunID)

		deadline := time.Now().Add(2 * time.Second)
		for {
			if _, err := s.GetRunStatus(ticket.RunID); errors.Is(err, ErrRunNotFound) {
				break
			}
			if time.Now().After(deadline) {
				t.Fatal("run was not evicted")
			}
			time.Sleep(5 * time.Millisecond)
		}

		link, err := s.ExportLink(context.Background(), ticket.RunID)
		if err != nil {
			t.Fatalf("ExportLink() error = %v", err)
		}
		if !strings.Contains(link, "runs/"+ticket.RunID+"/results.csv") {
			t.Errorf("link = %q", link)
		}
	})

	t.Run("upload failure leaves no artifact", func(t *testing.T) {
		sink := newMemorySink()
		sink.putErr = errors.New("bucket unreachable")
		s := NewService(countriesResolver(), ServiceConfig{}, WithArtifactSink(sink))
		ticket := startRun(t, s, "a.csv", "name\nFrance\n")

		res := waitResult(t, s, ticket.RunID)
		if res.Phase != PhaseComplete || res.Summary.Success != 1 {
			t.Errorf("result = %+v, want a complete run despite the upload failure", res)
		}
		_, err := s.ExportLink(context.Background(), ticket.RunID)
		if !errors.Is(err, ErrArtifactNotFound) {
			t.Errorf("ExportLink() error = %v, want ErrArtifactNotFound", err)
		}
	})
}

func TestService_HistoryFailureDoesNotFailRun(t *testing.T) {
	s := NewService(countriesResolver(), ServiceConfig{}, WithHistory(failingStore{history.NewMemoryStore()}))
	ticket := startRun(t, s, "a.csv", "name\nFrance\n")

	res := waitResult(t, s, ticket.RunID)
	if res.Phase != PhaseComplete {
		t.Errorf("phase = %q, want complete", res.Phase)
	}
}

func TestService_ListRunsAndWait(t *testing.T) {
	s := NewService(countriesResolver(), ServiceConfig{})
	for i := 0; i < 3; i++ {
		startRun(t, s, "a.csv", "name\nFrance\n")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.WaitForRuns(ctx); err != nil {
		t.Fatalf("WaitForRuns() error = %v", err)
	}

	runs, err := s.ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(runs) != 3 {
		t.Errorf("got %d runs, want 3", len(runs))
	}
}

func TestService_RetentionJob(t *testing.T) {
	store := history.NewMemoryStore()
	s := NewService(countriesResolver(), ServiceConfig{}, WithHistory(store))

	now := time.Now()
	for i, age := range []time.Duration{time.Hour, 40 * 24 * time.Hour, 90 * 24 * time.Hour} {
		rec := history.Record{ID: string(rune('a' + i)), Status: "complete", StartedAt: now.Add(-age)}
		if err := store.Save(context.Background(), rec); err != nil {
			t.Fatal(err)
		}
	}

	purged := s.runRetentionJob(context.Background(), RetentionConfig{RetentionDays: 30})
	if purged != 2 {
		t.Errorf("purged = %d, want 2", purged)
	}
	runs, _ := s.ListRuns(context.Background(), 0)
	if len(runs) != 1 {
		t.Errorf("remaining runs = %d, want 1", len(runs))
	}
}

func TestSplitColumnList(t *testing.T) {
	got := SplitColumnList(" country, ,name ,")
	if strings.Join(got, "|") != "country|name" {
		t.Errorf("SplitColumnList() = %q", got)
	}
	if len(SplitColumnList("")) != 0 {
		t.Error("SplitColumnList(\"\") should be empty")
	}
}
