package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rumor-ml/commons.systems/boursoledger/internal/firestore"
	"github.com/rumor-ml/commons.systems/boursoledger/internal/handlers"
	"github.com/rumor-ml/commons.systems/boursoledger/internal/middleware"
	"github.com/rumor-ml/commons.systems/boursoledger/internal/session"
)

// Server represents the ledger API server.
type Server struct {
	fsClient *firestore.Client
	mux      *http.ServeMux
}

// Config carries server construction options.
type Config struct {
	ProjectID       string
	CredentialsFile string
	StaticDir       string
}

// New creates a server around an already-opened session.
func New(ctx context.Context, sess *session.Session, cfg Config) (*Server, error) {
	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID, cfg.CredentialsFile)
	if err != nil {
		return nil, err
	}

	s := &Server{
		fsClient: fsClient,
		mux:      http.NewServeMux(),
	}
	s.setupRoutes(sess, cfg.StaticDir)
	return s, nil
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes(sess *session.Session, staticDir string) {
	// Health check (no auth required)
	s.mux.HandleFunc("/health", handlers.HealthCheck)

	apiHandler := handlers.NewAPIHandler(sess)
	authMiddleware := middleware.NewAuthMiddleware(s.fsClient.Auth)

	// Protected API routes
	s.mux.Handle("GET /api/transactions", authMiddleware.RequireAuth(http.HandlerFunc(apiHandler.GetTransactions)))
	s.mux.Handle("GET /api/stats", authMiddleware.RequireAuth(http.HandlerFunc(apiHandler.GetStats)))
	s.mux.Handle("GET /api/months", authMiddleware.RequireAuth(http.HandlerFunc(apiHandler.GetMonths)))
	s.mux.Handle("GET /api/rules", authMiddleware.RequireAuth(http.HandlerFunc(apiHandler.GetRules)))
	s.mux.Handle("POST /api/rules", authMiddleware.RequireAuth(http.HandlerFunc(apiHandler.AddRule)))
	s.mux.Handle("DELETE /api/rules/{index}", authMiddleware.RequireAuth(http.HandlerFunc(apiHandler.RemoveRule)))
	s.mux.Handle("POST /api/import", authMiddleware.RequireAuth(http.HandlerFunc(apiHandler.Import)))
	s.mux.Handle("POST /api/sync", authMiddleware.RequireAuth(s.handleSync(sess)))

	// Static files for the dashboard frontend (when deployed together)
	if staticDir != "" {
		s.mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}
}

// handleSync mirrors the current ledger into the caller's Firestore
// collection so the dashboard frontend can read it.
func (s *Server) handleSync(sess *session.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserID(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		created, err := s.fsClient.SyncLedger(r.Context(), userID, sess.Ledger())
		if err != nil {
			http.Error(w, "Sync failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"created":%d}`, created)
	}
}

// Handler returns the HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return middleware.CORS(s.mux)
}

// Close closes the server resources.
func (s *Server) Close() error {
	return s.fsClient.Close()
}
