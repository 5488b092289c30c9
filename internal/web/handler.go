// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package web exposes the mail-merge service as a JSON API: run submission,
// report download, template CRUD, and the device-code sign-in endpoints.
// Caller identity comes from the X-User header; session management lives in
// front of this service.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/bcem/mailmerge/internal/attachpool"
	"github.com/bcem/mailmerge/internal/graph"
	"github.com/bcem/mailmerge/internal/models"
	"github.com/bcem/mailmerge/internal/pipeline"
	"github.com/bcem/mailmerge/internal/report"
	"github.com/bcem/mailmerge/internal/runs"
	"github.com/bcem/mailmerge/internal/tabular"
	"github.com/bcem/mailmerge/internal/template"
)

// maxUploadBytes caps an entire multipart submission.
const maxUploadBytes = 256 << 20

// defaultUser is assumed when no X-User header is present.
const defaultUser = "default"

// TemplateStore is the template persistence the handlers need.
type TemplateStore interface {
	List(ctx context.Context, user string) (map[string]template.Definition, error)
	Get(ctx context.Context, user, name string) (template.Definition, error)
	Save(ctx context.Context, user string, d template.Definition) error
	Delete(ctx context.Context, user, name string) error
	ImportJSON(ctx context.Context, user string, data []byte) (int, error)
	ExportJSON(ctx context.Context, user string) ([]byte, error)
}

// RunStore retains finished runs for report download.
type RunStore interface {
	Save(ctx context.Context, summary *models.RunSummary) error
	Get(ctx context.Context, runID string) (*models.RunSummary, error)
}

// AuthFlow is the device-code sign-in surface.
type AuthFlow interface {
	StartDeviceFlow(ctx context.Context) (*graph.FlowStatus, error)
	Status() graph.FlowStatus
}

// Pinger is a dependency health probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the mail-merge API.
type Handler struct {
	pipeline    *pipeline.Pipeline
	templates   TemplateStore
	runs        RunStore
	auth        AuthFlow
	poolBuilder *attachpool.Builder

	maxAttachmentMB int

	db    Pinger
	redis Pinger
}

// HandlerConfig wires a Handler's collaborators.
type HandlerConfig struct {
	Pipeline        *pipeline.Pipeline
	Templates       TemplateStore
	Runs            RunStore
	Auth            AuthFlow
	PoolBuilder     *attachpool.Builder
	MaxAttachmentMB int
	DB              Pinger
	Redis           Pinger
}

// NewHandler creates the API handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		pipeline:        cfg.Pipeline,
		templates:       cfg.Templates,
		runs:            cfg.Runs,
		auth:            cfg.Auth,
		poolBuilder:     cfg.PoolBuilder,
		maxAttachmentMB: cfg.MaxAttachmentMB,
		db:              cfg.DB,
		redis:           cfg.Redis,
	}
}

// Mux returns the route table.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/mail/run", h.handleMailRun)
	mux.HandleFunc("GET /api/runs/{id}/report", h.handleRunReport)

	mux.HandleFunc("GET /api/templates", h.handleTemplateList)
	mux.HandleFunc("GET /api/templates/export", h.handleTemplateExport)
	mux.HandleFunc("POST /api/templates/import", h.handleTemplateImport)
	mux.HandleFunc("GET /api/templates/{name}", h.handleTemplateGet)
	mux.HandleFunc("PUT /api/templates/{name}", h.handleTemplateSave)
	mux.HandleFunc("DELETE /api/templates/{name}", h.handleTemplateDelete)

	mux.HandleFunc("POST /api/auth/signin", h.handleSignin)
	mux.HandleFunc("GET /api/auth/status", h.handleAuthStatus)

	mux.HandleFunc("GET /health", h.handleHealth)

	return mux
}

// handleMailRun accepts a multipart run submission: the spreadsheet, the
// template name, a dry_run flag, and optional attachments (one archive or
// loose files). The temp area is cleaned up on every exit path.
func (h *Handler) handleMailRun(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	user := userFrom(r)
	dryRun := parseBool(r.FormValue("dry_run"))

	def, err := h.templates.Get(r.Context(), user, r.FormValue("template"))
	if err != nil {
		var nf *template.NotFoundError
		if errors.As(err, &nf) {
			writeError(w, http.StatusBadRequest, nf.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "template lookup failed")
		return
	}

	source, err := formFileBytes(r, "spreadsheet")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pool, err := h.buildPool(r)
	if err != nil {
		var unsupported *attachpool.UnsupportedFormatError
		var corrupt *attachpool.ArchiveCorruptError
		switch {
		case errors.As(err, &unsupported), errors.As(err, &corrupt):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "attachment staging failed")
		}
		return
	}
	if pool != nil {
		defer pool.Cleanup()
	}

	res, err := h.pipeline.Run(r.Context(), pipeline.Request{
		User:          user,
		Source:        source,
		Template:      def,
		Pool:          pool,
		DryRun:        dryRun,
		MaxFileSizeMB: h.maxAttachmentMB,
	})
	if err != nil {
		var ive *tabular.InputValidationError
		switch {
		case errors.As(err, &ive):
			writeError(w, http.StatusBadRequest, ive.Error())
		case errors.Is(err, pipeline.ErrDuplicateRun):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, graph.ErrAuthRequired):
			writeError(w, http.StatusUnauthorized, err.Error())
		default:
			slog.Error("pipeline run failed", "user", user, "error", err)
			writeError(w, http.StatusInternalServerError, "run failed")
		}
		return
	}

	// Retention failure must not discard a completed run's response.
	if err := h.runs.Save(r.Context(), res.Summary); err != nil {
		slog.Warn("failed to retain run", "run_id", res.Summary.RunID, "error", err)
	}

	writeJSON(w, http.StatusOK, res)
}

// formFileBytes reads a required multipart file part into memory.
func formFileBytes(r *http.Request, field string) ([]byte, error) {
	headers := r.MultipartForm.File[field]
	if len(headers) == 0 {
		return nil, fmt.Errorf("missing %s file", field)
	}

	f, err := headers[0].Open()
	if err != nil {
		return nil, fmt.Errorf("open %s upload: %w", field, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s upload: %w", field, err)
	}
	return data, nil
}

// buildPool stages uploaded attachments into a fresh pool. Returns nil when
// nothing was uploaded.
func (h *Handler) buildPool(r *http.Request) (*attachpool.Pool, error) {
	headers := r.MultipartForm.File["attachments"]
	if len(headers) == 0 {
		return nil, nil
	}

	var uploads []attachpool.Upload
	var open []io.Closer
	defer func() {
		for _, c := range open {
			c.Close()
		}
	}()

	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open upload %s: %w", fh.Filename, err)
		}
		open = append(open, f)
		uploads = append(uploads, attachpool.Upload{Name: fh.Filename, Content: f})
	}

	return h.poolBuilder.Build(r.Context(), uploads)
}

// handleRunReport streams the xlsx outcome report for a retained run.
func (h *Handler) handleRunReport(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	summary, err := h.runs.Get(r.Context(), runID)
	if err != nil {
		var nf *runs.NotFoundError
		if errors.As(err, &nf) {
			writeError(w, http.StatusNotFound, nf.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "run lookup failed")
		return
	}

	data, err := report.Build(summary.Records)
	if err != nil {
		var ge *report.GenerationError
		if errors.As(err, &ge) {
			writeError(w, http.StatusUnprocessableEntity, ge.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "report generation failed")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="mail_results_%s.xlsx"`, runID))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handler) handleTemplateList(w http.ResponseWriter, r *http.Request) {
	defs, err := h.templates.List(r.Context(), userFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "template listing failed")
		return
	}
	writeJSON(w, http.StatusOK, defs)
}

func (h *Handler) handleTemplateGet(w http.ResponseWriter, r *http.Request) {
	def, err := h.templates.Get(r.Context(), userFrom(r), r.PathValue("name"))
	if err != nil {
		var nf *template.NotFoundError
		if errors.As(err, &nf) {
			writeError(w, http.StatusNotFound, nf.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "template lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (h *Handler) handleTemplateSave(w http.ResponseWriter, r *http.Request) {
	var def template.Definition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid template body: %v", err))
		return
	}
	def.Name = r.PathValue("name")

	if err := h.templates.Save(r.Context(), userFrom(r), def); err != nil {
		writeError(w, http.StatusInternalServerError, "template save failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"saved": def.Name})
}

func (h *Handler) handleTemplateDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.templates.Delete(r.Context(), userFrom(r), name); err != nil {
		var nf *template.NotFoundError
		if errors.As(err, &nf) {
			writeError(w, http.StatusNotFound, nf.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "template delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": name})
}

func (h *Handler) handleTemplateExport(w http.ResponseWriter, r *http.Request) {
	data, err := h.templates.ExportJSON(r.Context(), userFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "template export failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="templates.json"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handler) handleTemplateImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable import body")
		return
	}
	count, err := h.templates.ImportJSON(r.Context(), userFrom(r), data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": count})
}

func (h *Handler) handleSignin(w http.ResponseWriter, r *http.Request) {
	status, err := h.auth.StartDeviceFlow(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.auth.Status())
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.redis != nil {
		if err := h.redis.Ping(r.Context()); err != nil {
			http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			http.Error(w, "postgres unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status": "healthy"}`))
}

// Serve starts the API server and reports readiness on the returned channel.
func Serve(ctx context.Context, port int, handler *Handler) (<-chan struct{}, error) {
	server := &http.Server{
		Handler: handler.Mux(),
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind API port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("API server shutting down")
		server.Close()
	}()

	go func() {
		slog.Info("API server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("API server error", "error", err)
		}
	}()

	return ready, nil
}

func userFrom(r *http.Request) string {
	if u := r.Header.Get("X-User"); u != "" {
		return u
	}
	return defaultUser
}

func parseBool(v string) bool {
	switch v {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
