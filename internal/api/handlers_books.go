package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"bookforge/internal/convert"
	"bookforge/internal/ledger"
	"bookforge/internal/pipeline"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	// Limit total request size.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024) // extra 1MB for form overhead

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	filename := sanitizeFilename(header.Filename)

	format := r.FormValue("format")
	if format == "" {
		format = filepath.Ext(filename)
	}
	format = convert.NormalizeFormat(format)
	if !convert.IsSupportedFormat(format) {
		jsonError(w, fmt.Sprintf("unsupported format: %q", format), http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		jsonError(w, "failed to read file", http.StatusInternalServerError)
		return
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
		return
	}
	if len(data) == 0 {
		jsonError(w, "file is empty", http.StatusBadRequest)
		return
	}

	title := r.FormValue("title")
	enrich := r.FormValue("enrich") != "false"

	job, created, err := s.orchestrator.Submit(r.Context(), data, format, filename, title, enrich)
	if err != nil {
		if errors.Is(err, convert.ErrUnsupportedFormat) {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	code := http.StatusAccepted
	if !created {
		// Duplicate content attaches to the existing job.
		code = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"job_id":      job.ID,
		"fingerprint": job.Fingerprint,
		"state":       job.State,
		"duplicate":   !created,
		"poll_url":    fmt.Sprintf("/api/books/%s", job.ID),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.orchestrator.Status(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			jsonError(w, "job not found", http.StatusNotFound)
			return
		}
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	type sectionStatus struct {
		Index   int  `json:"index"`
		Plan    bool `json:"plan"`
		Summary bool `json:"summary"`
	}
	enriched := 0
	sectionStates := make([]sectionStatus, 0, len(job.Sections))
	for _, sec := range job.Sections {
		if sec.Enriched() {
			enriched++
		}
		sectionStates = append(sectionStates, sectionStatus{
			Index:   sec.Index,
			Plan:    sec.Plan != "",
			Summary: sec.Summary != "",
		})
	}

	resp := map[string]any{
		"job_id":      job.ID,
		"fingerprint": job.Fingerprint,
		"state":       job.State,
		"format":      job.Format,
		"filename":    job.Filename,
		"title":       job.Title,
		"enrich":      job.EnrichEnabled,
		"sections":    len(job.Sections),
		"enriched":    enriched,
		"created_at":  job.CreatedAt,
		"updated_at":  job.UpdatedAt,
	}
	if job.ErrorMessage != "" {
		resp["error"] = job.ErrorMessage
	}
	if len(job.FailedSections) > 0 {
		resp["failed_sections"] = job.FailedSections
	}
	if len(sectionStates) > 0 {
		resp["section_status"] = sectionStates
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	bk, err := s.orchestrator.Result(r.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			jsonError(w, "job not found", http.StatusNotFound)
		case errors.Is(err, pipeline.ErrNotReady):
			jsonError(w, err.Error(), http.StatusConflict)
		default:
			jsonError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	type sectionResp struct {
		Index   int    `json:"index"`
		Number  string `json:"number"`
		Title   string `json:"title"`
		Content string `json:"content"`
		Plan    string `json:"plan,omitempty"`
		Summary string `json:"summary,omitempty"`
	}
	sections := make([]sectionResp, 0, len(bk.Sections))
	for _, sec := range bk.Sections {
		sections = append(sections, sectionResp{
			Index:   sec.Index,
			Number:  sec.Number,
			Title:   sec.Title,
			Content: sec.Content,
			Plan:    sec.Plan,
			Summary: sec.Summary,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"title":    bk.Title,
		"toc":      bk.TOC(),
		"sections": sections,
	})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.orchestrator.Retry(r.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			jsonError(w, "job not found", http.StatusNotFound)
		case errors.Is(err, pipeline.ErrNotRetryable):
			jsonError(w, err.Error(), http.StatusConflict)
		default:
			jsonError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"job_id": job.ID,
		"state":  job.State,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.orchestrator.Cancel(r.Context(), jobID); err != nil {
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			jsonError(w, "job not found", http.StatusNotFound)
		case errors.Is(err, pipeline.ErrNotCancellable):
			jsonError(w, err.Error(), http.StatusConflict)
		default:
			jsonError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"job_id": jobID,
		"state":  ledger.StateFailed,
		"reason": ledger.ReasonCancelled,
	})
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
