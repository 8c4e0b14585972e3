package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	Router *chi.Mux
}

// NewServer builds the router. metrics may be nil.
func NewServer(handler *Handler, metrics http.Handler) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/records", func(r chi.Router) {
		r.Post("/", handler.SubmitRecord)
		r.Get("/", handler.QueryRecords)
		r.Post("/batch", handler.SubmitBatch)
		r.Get("/stats", handler.RecordStats)
		r.Post("/verify", handler.VerifyBatch)
		r.Get("/{recordId}", handler.GetRecord)
		r.Post("/{recordId}/verify", handler.VerifyRecord)
	})
	r.Get("/subjects/{subjectId}/records", handler.GetSubjectRecords)
	r.Get("/settlements", handler.ListSettlements)
	r.Get("/institutions/{institutionId}/stats", handler.InstitutionStats)

	return &Server{Router: r}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Institution-Id")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
