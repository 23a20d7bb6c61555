package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/eclipse/internal/documents"
	"github.com/kalambet/eclipse/internal/history"
	"github.com/kalambet/eclipse/internal/scan"
	"github.com/kalambet/eclipse/internal/upload"
	"github.com/kalambet/eclipse/internal/workflow"
)

// Scanner produces a mock result for an uploaded image.
type Scanner interface {
	Analyze(ctx context.Context, image []byte) (scan.Result, error)
}

// Deps holds everything the HTTP handlers need.
type Deps struct {
	Validator      *upload.Validator
	Scanner        Scanner
	History        *history.Store
	Sessions       *workflow.Sessions
	Documents      *documents.List
	AllowedOrigins []string
	SpecialistsURL string
	Logger         *slog.Logger
}

// NewHandler returns the eclipse HTTP API.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default().With("component", "api")
	}
	if deps.SpecialistsURL == "" {
		deps.SpecialistsURL = scan.SpecialistsURL
	}
	if deps.Documents == nil {
		deps.Documents = &documents.List{}
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handleHealth)
		r.Post("/scan", handleScan(deps))
		r.Post("/results/save", handleSaveResult(deps))
		r.Get("/results/history", handleHistory(deps))
		r.Get("/results/{id}/export", handleExport(deps))
		r.Get("/results/{id}/report", handleReport(deps))
		r.Get("/specialists", handleSpecialists(deps))

		r.Post("/sessions", handleCreateSession(deps))
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", handleGetSession(deps))
			r.Delete("/", handleDeleteSession(deps))
			r.Post("/file", handleSessionFile(deps))
			r.Get("/preview", handleSessionPreview(deps))
			r.Post("/scan", handleSessionScan(deps, (*workflow.Controller).TriggerScan))
			r.Post("/retry", handleSessionScan(deps, (*workflow.Controller).Retry))
			r.Post("/save", handleSessionSave(deps))
			r.Post("/clear", handleSessionAction(deps, (*workflow.Controller).Clear))
			r.Post("/dismiss", handleSessionAction(deps, (*workflow.Controller).DismissError))
			r.Get("/report", handleSessionReport(deps))
			r.Get("/export", handleSessionExport(deps))
			r.Get("/ws", handleSessionWS(deps))
		})

		r.Get("/documents", handleListDocuments(deps))
		r.Post("/documents", handleUploadDocuments(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
