package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/eclipse/internal/history"
	"github.com/kalambet/eclipse/internal/metrics"
	"github.com/kalambet/eclipse/internal/scan"
	"github.com/kalambet/eclipse/internal/upload"
)

const (
	maxSaveBodySize  = 1 << 20
	multipartMemory  = 32 << 20
	maxUploadBody    = 1 << 30
	maxHistoryListed = 50
)

// ScanResponse is the body returned by POST /api/v1/scan.
type ScanResponse struct {
	Success        bool        `json:"success"`
	Data           scan.Result `json:"data"`
	ProcessingTime int64       `json:"processingTime"`
}

// SaveRequest is the body accepted by POST /api/v1/results/save.
type SaveRequest struct {
	scan.Result
	ImagePreview string `json:"imagePreview,omitempty"`
}

// readImageForm streams a multipart body carrying one "image" file. An
// image over the ceiling comes back with its real size and no data, so
// validation reports it like any other rejected file.
func readImageForm(w http.ResponseWriter, r *http.Request, v *upload.Validator) (upload.Form, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	mr, err := r.MultipartReader()
	if err != nil {
		return upload.Form{}, fmt.Errorf("invalid multipart body: %w", err)
	}

	form, err := upload.ReadForm(mr, "image", v.MaxSize())
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		if form.File.Name != "" && form.File.Data == nil {
			form.File.Size = max(form.File.Size, r.ContentLength)
			return form, nil
		}
		size := r.ContentLength
		if size <= 0 {
			size = tooLarge.Limit
		}
		return form, v.SizeError(size)
	}
	if err != nil && !errors.Is(err, upload.ErrNoFile) {
		return form, fmt.Errorf("invalid multipart body: %w", err)
	}
	return form, err
}

// readImage reads and validates the "image" form file, writing the error
// response itself when it returns false.
func readImage(w http.ResponseWriter, r *http.Request, v *upload.Validator) (upload.Form, bool) {
	form, err := readImageForm(w, r, v)
	if err == nil {
		err = v.Validate(form.File)
	}
	if err == nil {
		return form, true
	}

	var ve *upload.ValidationError
	switch {
	case errors.As(err, &ve):
		metrics.ValidationFailuresTotal.WithLabelValues(ve.Rule).Inc()
		scanError(w, http.StatusBadRequest, "validation_error", ve.Rule, ve.Message)
	case errors.Is(err, upload.ErrNoFile):
		scanError(w, http.StatusBadRequest, "invalid_request_error", "", "image is required")
	default:
		scanError(w, http.StatusBadRequest, "invalid_request_error", "", err.Error())
	}
	return upload.Form{}, false
}

func handleScan(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		form, ok := readImage(w, r, deps.Validator)
		if !ok {
			return
		}
		f := form.File

		if raw := form.Value("metadata"); raw != "" && !json.Valid([]byte(raw)) {
			scanError(w, http.StatusBadRequest, "invalid_request_error", "", "metadata must be valid JSON")
			return
		}

		start := time.Now()
		res, err := deps.Scanner.Analyze(r.Context(), f.Data)
		if err != nil {
			metrics.ScanFailuresTotal.Inc()
			deps.Logger.Error("scan failed", "name", f.Name, "error", err)
			scanError(w, http.StatusInternalServerError, "api_error", "", "Error al procesar la imagen. Intenta de nuevo.")
			return
		}
		elapsed := time.Since(start)
		metrics.ScansTotal.WithLabelValues(string(res.RiskLevel)).Inc()
		metrics.ScanDurationSeconds.WithLabelValues(metrics.SourceAPI).Observe(elapsed.Seconds())
		deps.Logger.Info("scan complete",
			"scan_id", res.ScanID,
			"risk", res.RiskLevel,
			"user_id", form.Value("userId"),
			"size", f.Size,
		)

		writeJSON(w, http.StatusOK, ScanResponse{
			Success:        true,
			Data:           res,
			ProcessingTime: elapsed.Milliseconds(),
		})
	}
}

func handleSaveResult(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxSaveBodySize)
		defer r.Body.Close()

		var req SaveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			scanError(w, http.StatusBadRequest, "invalid_request_error", "", fmt.Sprintf("invalid request body: %v", err))
			return
		}
		if req.ScanID == "" {
			scanError(w, http.StatusBadRequest, "invalid_request_error", "", "scanId is required")
			return
		}
		if !req.RiskLevel.Valid() {
			scanError(w, http.StatusBadRequest, "invalid_request_error", "", fmt.Sprintf("invalid riskLevel %q", req.RiskLevel))
			return
		}

		entry := deps.History.Record(r.Context(), req.Result, req.ImagePreview)
		writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": entry})
	}
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries := deps.History.Load(r.Context())
		if limit := parseIntParam(r, "limit", 0, maxHistoryListed); limit > 0 && limit < len(entries) {
			entries = entries[:limit]
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func findEntry(w http.ResponseWriter, r *http.Request, h *history.Store) (history.Entry, bool) {
	id := chi.URLParam(r, "id")
	e, ok := h.Find(r.Context(), id)
	if !ok {
		httpError(w, http.StatusNotFound, "not_found", "result %s not found", id)
		return history.Entry{}, false
	}
	return e, true
}

func handleExport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, ok := findEntry(w, r, deps.History)
		if !ok {
			return
		}
		data, err := scan.ExportJSON(e.Result)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "exporting result: %v", err)
			return
		}
		writeAttachment(w, scan.ExportFilename(time.Now()), data)
	}
}

func handleReport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, ok := findEntry(w, r, deps.History)
		if !ok {
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(scan.Report(e.Result)))
	}
}

func handleSpecialists(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, deps.SpecialistsURL, http.StatusFound)
	}
}

func writeAttachment(w http.ResponseWriter, name string, data []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
