package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/JonMunkholm/countrybatch/internal/core"
	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
)

// multipartOverhead is headroom for form fields and part headers on top of
// the file size limit.
const multipartOverhead = 1 << 20

// resultResponse is the body of GET /api/runs/{runID}/result.
type resultResponse struct {
	*core.RunResult
	Rows []core.OutcomeView `json:"rows,omitempty"`
}

// exportLinkResponse is the body of GET /api/runs/{runID}/export/link.
type exportLinkResponse struct {
	URL              string `json:"url"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
}

// handleHealth reports liveness and run slot usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"runs":   s.service.LimiterStatus(),
	})
}

// handleCreateRun accepts a multipart upload and starts resolving it.
//
// Form fields:
//   - file: the CSV or TSV file (required)
//   - column: the query column (optional)
//   - fallbacks: comma-separated fallback columns (optional, "" disables)
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Batch.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			s.respondError(w, r, errors.Wrap(core.ErrFileTooLarge, "multipart body"), http.StatusRequestEntityTooLarge)
			return
		}
		s.respondError(w, r, errors.Wrap(core.ErrNoFile, "invalid multipart form"), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, errors.Wrap(core.ErrNoFile, err.Error()), http.StatusBadRequest)
		return
	}
	defer file.Close()

	req := core.RunRequest{
		FileName: header.Filename,
		Body:     file,
		Column:   r.FormValue("column"),
	}
	if _, ok := r.MultipartForm.Value["fallbacks"]; ok {
		req.Fallbacks = core.SplitColumnList(r.FormValue("fallbacks"))
	}

	ctx := WithRequestMetadata(r.Context(), r)
	ticket, err := s.service.StartRun(ctx, req)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	w.Header().Set("Location", "/api/runs/"+ticket.RunID)
	writeJSON(w, http.StatusAccepted, ticket)
}

// handleListRuns returns recorded runs, most recent first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", s.cfg.History.ListLimit)
	if limit > s.cfg.History.ListLimit {
		limit = s.cfg.History.ListLimit
	}

	runs, err := s.service.ListRuns(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleRunStatus returns the live status of a run, or its history record
// once it has been evicted from memory.
func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	status, err := s.service.GetRunStatus(runID)
	if err == nil {
		writeJSON(w, http.StatusOK, status)
		return
	}
	if !errors.Is(err, core.ErrRunNotFound) {
		s.respondError(w, r, err, 0)
		return
	}

	rec, err := s.service.GetRunRecord(r.Context(), runID)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleRunProgress streams run status via Server-Sent Events.
// Supports resumption via lastEventId query parameter for reconnection.
func (s *Server) handleRunProgress(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	// The event ID is the completed row count, so a reconnecting client
	// skips updates it has already seen.
	lastEventIDStr := r.URL.Query().Get("lastEventId")
	if lastEventIDStr == "" {
		lastEventIDStr = r.Header.Get("Last-Event-ID")
	}
	lastEventID := -1
	if lastEventIDStr != "" {
		if n, err := strconv.Atoi(lastEventIDStr); err == nil {
			lastEventID = n
		}
	}

	progressCh, err := s.service.SubscribeProgress(runID)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, r, errors.New("streaming not supported"), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	var last core.RunStatus
	for {
		select {
		case status, ok := <-progressCh:
			if !ok {
				// Channel closed: the run is finished. Slow listeners may have
				// missed the terminal update, so read the final status.
				if final, err := s.service.GetRunStatus(runID); err == nil {
					last = final
				}
				data, _ := json.Marshal(last)
				fmt.Fprintf(w, "event: complete\ndata: %s\n\n", data)
				flusher.Flush()
				return
			}
			last = status

			// Terminal statuses are always sent so the client sees the phase change.
			if status.Completed <= lastEventID && !status.Phase.Finished() {
				continue
			}
			lastEventID = status.Completed

			data, _ := json.Marshal(status)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", status.Completed, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// handleRunResult returns the final result of a run with per-row outcomes.
// It waits for the run to finish unless wait=false is given.
func (s *Server) handleRunResult(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	var (
		result *core.RunResult
		err    error
	)
	if r.URL.Query().Get("wait") == "false" {
		result, err = s.service.FinishedResult(runID)
	} else {
		result, err = s.service.GetRunResult(r.Context(), runID)
	}
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	writeJSON(w, http.StatusOK, resultResponse{
		RunResult: result,
		Rows:      core.Views(result.Outcomes),
	})
}

// handleCancelRun cancels an in-progress run.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	if err := s.service.CancelRun(runID); err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// handleExportRun downloads the results of a completed run as CSV.
func (s *Server) handleExportRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	// Buffer so a failure can still be reported as JSON.
	var buf bytes.Buffer
	if err := s.service.ExportRun(runID, &buf); err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	filename := fmt.Sprintf("resolution_results_%s.csv", time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// handleExportLink returns a presigned download URL for a stored export.
func (s *Server) handleExportLink(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	url, err := s.service.ExportLink(r.Context(), runID)
	if err != nil {
		s.respondError(w, r, err, 0)
		return
	}

	writeJSON(w, http.StatusOK, exportLinkResponse{
		URL:              url,
		ExpiresInSeconds: int(s.service.Config().PresignTTL.Seconds()),
	})
}

// parseIntParam parses a positive integer query parameter with a default.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultVal
}
