// Package api is the HTTP ingress. Submissions are accepted here, checked
// only structurally and for permissions, then handed to the queue; the
// heavy work happens in the pipeline worker.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"propflow/config"
	"propflow/identity"
	"propflow/pipeline"
	"propflow/services"
	"propflow/storage"
)

// Publisher enqueues trigger payloads. Satisfied by *queue.Producer.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

type Server struct {
	store        *storage.PostgresStore
	ops          *storage.SQLiteStore
	producer     Publisher
	orchestrator *pipeline.Orchestrator
	review       *services.ReviewService
	accounts     *services.AccountService
	queueCfg     config.QueueConfig

	httpServer *http.Server
}

func NewServer(cfg *config.Config, store *storage.PostgresStore, ops *storage.SQLiteStore, producer Publisher, orchestrator *pipeline.Orchestrator, review *services.ReviewService, accounts *services.AccountService) *Server {
	s := &Server{
		store:        store,
		ops:          ops,
		producer:     producer,
		orchestrator: orchestrator,
		review:       review,
		accounts:     accounts,
		queueCfg:     cfg.Queue,
	}
	s.httpServer = &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      s.router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(identityMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/listings", s.submitListing)
		r.Get("/listings", s.queryListings)
		r.Get("/listings/{id}", s.getListing)
		r.Put("/listings/{id}", s.updateListing)
		r.Delete("/listings/{id}", s.deleteListing)

		r.Post("/reports", s.submitReport)
		r.Get("/reports", s.listReports)

		r.Get("/executions/{name}", s.executionStatus)
		r.Get("/executions/{name}/logs", s.executionLogs)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/listings/{id}/approve", s.approveListing)
			r.Post("/listings/{id}/reject", s.rejectListing)
			r.Post("/accounts/{id}/upgrade", s.upgradeAccount)
		})
	})

	return r
}

// Start runs the HTTP server until the context ends.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("API listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// =============================================================================
// Identity
// =============================================================================

type ctxKey int

const identityKey ctxKey = 0

// identityMiddleware resolves the caller once per request. Identity comes
// from gateway-injected headers; the gateway has already verified the
// token, this service only trusts its claims.
func identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := identity.Anonymous()
		if id := strings.TrimSpace(r.Header.Get("X-User-Id")); id != "" {
			var groups []string
			for _, g := range strings.Split(r.Header.Get("X-User-Groups"), ",") {
				if g = strings.TrimSpace(g); g != "" {
					groups = append(groups, g)
				}
			}
			actor = identity.Authenticated(id, groups)
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, actor)))
	})
}

func actorFrom(r *http.Request) identity.Identity {
	if actor, ok := r.Context().Value(identityKey).(identity.Identity); ok {
		return actor
	}
	return identity.Anonymous()
}

// =============================================================================
// Response helpers
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("API response encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// mapServiceError translates service sentinels to status codes.
func mapServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, services.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		log.Printf("API internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
