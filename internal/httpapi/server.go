// Package httpapi is the JSON-over-HTTP shell around the inventory coordinator.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/comptrack/internal/backup"
	"github.com/rpattn/comptrack/internal/domain"
	"github.com/rpattn/comptrack/internal/export"
	"github.com/rpattn/comptrack/internal/ingestion"
	"github.com/rpattn/comptrack/internal/inventory"
	"github.com/rpattn/comptrack/internal/metrics"
	"github.com/rpattn/comptrack/internal/middleware"
)

const maxBodyBytes = 1 << 20

// maxBackupBytes bounds restore uploads, which carry the whole history.
const maxBackupBytes = 64 << 20

// Config wires the handler to its services.
type Config struct {
	Inventory *inventory.Service
	Exporter  *export.Service
	Importer  *ingestion.Service
	Metrics   *metrics.Recorder
	Logger    *slog.Logger
	// Location is the business zone used when decoding legacy backups.
	Location *time.Location
}

type server struct {
	inventory *inventory.Service
	exporter  *export.Service
	log       *slog.Logger
	loc       *time.Location
}

// NewHandler builds the API handler with actor, history loader and request logging middleware.
func NewHandler(cfg Config) http.Handler {
	s := &server{
		inventory: cfg.Inventory,
		exporter:  cfg.Exporter,
		log:       cfg.Logger,
		loc:       cfg.Location,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.exporter == nil {
		s.exporter = export.NewService(cfg.Inventory, export.WithLocation(s.loc))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/components", s.handleCreate)
	mux.HandleFunc("GET /api/components", s.handleList)
	mux.HandleFunc("GET /api/components/{id}", s.handleGet)
	mux.HandleFunc("PUT /api/components/{id}", s.handleUpdate)
	mux.HandleFunc("GET /api/components/{id}/history/{version}", s.handleHistoryAt)
	mux.HandleFunc("GET /api/components/{id}/diff", s.handleDiff)
	mux.HandleFunc("GET /api/dashboard", s.handleDashboard)
	mux.HandleFunc("GET /api/export.xlsx", s.handleExport)
	mux.HandleFunc("GET /api/backup", s.handleBackup)
	mux.HandleFunc("POST /api/backup/restore", s.handleRestore)
	if cfg.Importer != nil {
		mux.Handle("POST /api/components/import", ingestion.NewHTTPHandler(cfg.Importer))
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", cfg.Metrics.Handler())

	// logging wraps the mux directly so it sees the matched pattern
	logged := middleware.LoggingMiddleware(s.log, cfg.Metrics)(mux)
	return middleware.ActorMiddleware(middleware.DataLoaderMiddleware(cfg.Inventory)(logged))
}

func (s *server) handleCreate(w http.ResponseWriter, r *http.Request) {
	fields, ok := decodeFields(w, r)
	if !ok {
		return
	}
	component, err := s.inventory.Create(r.Context(), fields)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, component)
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	components, err := s.inventory.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !includesHistory(r) {
		writeJSON(w, http.StatusOK, components)
		return
	}

	ids := make([]string, len(components))
	for i, c := range components {
		ids[i] = c.ID
	}
	var histories map[string][]domain.HistoryEntry
	if loader := middleware.HistoryLoaderFromContext(r.Context()); loader != nil {
		histories, err = loader.LoadMany(r.Context(), ids)
	} else {
		histories, err = s.inventory.HistoryByIDs(r.Context(), ids)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]inventory.ComponentWithHistory, len(components))
	for i, c := range components {
		history := histories[c.ID]
		if history == nil {
			history = []domain.HistoryEntry{}
		}
		out[i] = inventory.ComponentWithHistory{Component: c, History: history}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleGet(w http.ResponseWriter, r *http.Request) {
	result, err := s.inventory.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	fields, ok := decodeFields(w, r)
	if !ok {
		return
	}
	// the original client wraps the changes in updatedFields; a bare object is accepted too
	if wrapped, ok := fields["updatedFields"].(map[string]any); ok && len(fields) == 1 {
		fields = wrapped
	}
	component, err := s.inventory.Update(r.Context(), r.PathValue("id"), fields)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, component)
}

func (s *server) handleHistoryAt(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil {
		writeBadRequest(w, fmt.Sprintf("invalid version %q", r.PathValue("version")))
		return
	}
	entry, err := s.inventory.HistoryAt(r.Context(), r.PathValue("id"), version)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *server) handleDiff(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	from, err := strconv.Atoi(query.Get("from"))
	if err != nil {
		writeBadRequest(w, "from must be a version number")
		return
	}
	to, err := strconv.Atoi(query.Get("to"))
	if err != nil {
		writeBadRequest(w, "to must be a version number")
		return
	}
	diff, err := s.inventory.DiffVersions(r.Context(), r.PathValue("id"), from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, diff)
}

func (s *server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	kpis, err := s.inventory.Summary(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, kpis)
}

func (s *server) handleExport(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", s.exporter.FileName()))
	n, err := s.exporter.WriteWorkbook(r.Context(), w, filter)
	if err != nil {
		if n == 0 {
			writeError(w, r, err)
			return
		}
		s.log.ErrorContext(r.Context(), "workbook stream interrupted", "bytes", n, "error", err)
	}
}

func (s *server) handleBackup(w http.ResponseWriter, r *http.Request) {
	doc, err := s.inventory.ExportBackup(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", backup.FileName(doc.ExportedAt)))
	w.WriteHeader(http.StatusOK)
	if err := backup.Encode(w, doc); err != nil {
		s.log.ErrorContext(r.Context(), "backup stream interrupted", "error", err)
	}
}

func (s *server) handleRestore(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxBackupBytes)
	defer body.Close()
	doc, err := backup.Decode(body, s.loc)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeBadRequest(w, err.Error())
			return
		}
		writeError(w, r, err)
		return
	}
	if err := s.inventory.RestoreBackup(r.Context(), doc); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeFields reads a JSON object body. It writes the 400 response itself on failure.
func decodeFields(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer body.Close()
	var fields map[string]any
	if err := json.NewDecoder(body).Decode(&fields); err != nil {
		writeBadRequest(w, fmt.Sprintf("invalid payload: %v", err))
		return nil, false
	}
	if fields == nil {
		fields = map[string]any{}
	}
	return fields, true
}

func filterFromQuery(r *http.Request) (domain.ComponentFilter, error) {
	query := r.URL.Query()
	filter := domain.ComponentFilter{
		Search: strings.TrimSpace(query.Get("q")),
		Type:   strings.TrimSpace(query.Get("type")),
	}
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status := domain.Status(raw)
		if !status.Valid() {
			return filter, domain.NewValidationError(domain.FieldStatus, raw, "unknown status")
		}
		filter.Status = status
	}
	return filter, nil
}

func includesHistory(r *http.Request) bool {
	for _, include := range strings.Split(r.URL.Query().Get("include"), ",") {
		if strings.TrimSpace(include) == "history" {
			return true
		}
	}
	return false
}
