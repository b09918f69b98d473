package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rpattn/comptrack/internal/domain"
)

const maxUploadBytes = 32 << 20

// Handler exposes ingestion as an HTTP endpoint.
type Handler struct {
	service *Service
}

// NewHTTPHandler wraps the service with a multipart POST endpoint taking a "file" field.
func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, fmt.Sprintf("invalid form data: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("file required: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	summary, err := h.service.Ingest(r.Context(), Request{FileName: header.Filename, Data: file})
	if err != nil {
		status, code := http.StatusBadRequest, "bad_request"
		// once rows were read the failure came from the store, not the upload
		if summary.TotalRows > 0 {
			code = domain.ErrorCode(err)
			status = http.StatusInternalServerError
			if errors.Is(err, domain.ErrConflict) {
				status = http.StatusConflict
			}
		}
		writeJSON(w, status, map[string]any{
			"error":   map[string]string{"code": code, "message": err.Error()},
			"summary": summary,
		})
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
