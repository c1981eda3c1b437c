package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rotisserie/eris"
	"github.com/rs/cors"

	"cobranzas/internal/ports"
	"cobranzas/internal/scoring"
	"cobranzas/internal/services/dispatch"
	"cobranzas/internal/services/dunning"
	scoresvc "cobranzas/internal/services/scoring"
)

type ScoreRunner interface {
	Run(ctx context.Context, req scoresvc.Request) (scoresvc.Summary, error)
}

type DunningRunner interface {
	Run(ctx context.Context, req dunning.Request) (dunning.Summary, error)
}

type DispatchRunner interface {
	Run(ctx context.Context, req dispatch.Request) (dispatch.Summary, error)
}

// Server exposes the three batch operations as JSON endpoints.
type Server struct {
	scoring  ScoreRunner
	dunning  DunningRunner
	dispatch DispatchRunner
	origins  []string
}

func New(score ScoreRunner, schedule DunningRunner, send DispatchRunner, corsOrigins []string) *Server {
	return &Server{scoring: score, dunning: schedule, dispatch: send, origins: corsOrigins}
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/score-run", handle(s.scoring.Run))
	r.Post("/dunning-run", handle(s.dunning.Run))
	r.Post("/agents-dispatch", handle(s.dispatch.Run))
	return r
}

// handle decodes the request body into Req, runs op and writes its summary.
// An empty body means the zero request.
func handle[Req, Resp any](op func(context.Context, Req) (Resp, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Req
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "payload inválido: "+err.Error())
			return
		}
		resp, err := op(r.Context(), req)
		if err != nil {
			code := statusFor(err)
			if code == http.StatusInternalServerError {
				log.Printf("http: %s %s: %v", r.Method, r.URL.Path, err)
			}
			writeError(w, code, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func statusFor(err error) int {
	switch {
	case eris.Is(err, ports.ErrNotFound), eris.Is(err, dunning.ErrPlaybookNotFound):
		return http.StatusNotFound
	case eris.Is(err, ports.ErrInvalidRequest), eris.Is(err, scoring.ErrUnknownEngine):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("http: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
