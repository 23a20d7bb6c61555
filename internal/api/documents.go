package api

import (
	"net/http"

	"github.com/kalambet/eclipse/internal/documents"
	"github.com/kalambet/eclipse/internal/metrics"
	"github.com/kalambet/eclipse/internal/upload"
)

const maxDocumentsBodySize = 64 << 20

// DocumentsResponse lists the current documents.
type DocumentsResponse struct {
	Documents []documents.Summary `json:"documents"`
	Message   string              `json:"message,omitempty"`
}

func writeDocuments(w http.ResponseWriter, r *http.Request, files []upload.File, code int) {
	summaries, err := documents.Describe(r.Context(), files)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "describing documents: %v", err)
		return
	}
	resp := DocumentsResponse{Documents: summaries}
	if len(summaries) == 0 {
		resp.Message = documents.EmptyMessage
	}
	writeJSON(w, code, resp)
}

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeDocuments(w, r, deps.Documents.Files(), http.StatusOK)
	}
}

// handleUploadDocuments replaces the document list with the uploaded files.
func handleUploadDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxDocumentsBodySize)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart body: %v", err)
			return
		}

		var files []upload.File
		for _, fh := range r.MultipartForm.File["files"] {
			f, err := upload.FromMultipart(fh, 0)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			files = append(files, f)
		}

		box := documents.Box{OnChange: deps.Documents.Set}
		switch mode := r.FormValue("mode"); mode {
		case "", "select":
			box.OnSelect(files)
		case "drop":
			box.OnDrop(files)
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown mode %q", mode)
			return
		}
		metrics.DocumentsTotal.Add(float64(len(files)))
		deps.Logger.Debug("documents replaced", "count", len(files))

		writeDocuments(w, r, deps.Documents.Files(), http.StatusOK)
	}
}
