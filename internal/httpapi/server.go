// Package httpapi exposes the versioned /v2 HTTP surface: ingest, search,
// note CRUD, sharing, and the loopback-bound admin group. Handlers hold no
// business logic beyond request decoding and error mapping; everything
// else lives in the ingest, search, sharing, store, and worker packages.
package httpapi

import (
	"net/http"

	"github.com/rs/zerolog"

	"elfmemory/internal/config"
	"elfmemory/internal/ingest"
	"elfmemory/internal/search"
	"elfmemory/internal/sharing"
	"elfmemory/internal/store"
	"elfmemory/internal/worker"
)

// Server wires the domain services to the HTTP mux pair: the public /v2
// surface and the loopback admin surface.
type Server struct {
	cfg     config.Config
	ingest  *ingest.Service
	search  *search.Service
	sharing *sharing.Service
	store   *store.Store
	worker  *worker.Worker
	logger  zerolog.Logger

	mux      *http.ServeMux
	adminMux *http.ServeMux
}

// NewServer constructs the server and registers every route.
func NewServer(cfg config.Config, ing *ingest.Service, srch *search.Service, shr *sharing.Service,
	st *store.Store, wrk *worker.Worker, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		ingest:   ing,
		search:   srch,
		sharing:  shr,
		store:    st,
		worker:   wrk,
		logger:   logger,
		mux:      http.NewServeMux(),
		adminMux: http.NewServeMux(),
	}
	s.registerRoutes()
	s.registerAdminRoutes()
	return s
}

// Handler returns the public surface.
func (s *Server) Handler() http.Handler {
	return s.withRequestID(s.withLogging(s.mux))
}

// AdminHandler returns the admin surface, guarded loopback-only when
// configured.
func (s *Server) AdminHandler() http.Handler {
	return s.withRequestID(s.withLogging(s.withLoopbackOnly(s.adminMux)))
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("POST /v2/notes/ingest", s.withCallContext(false, s.handleNotesIngest))
	s.mux.HandleFunc("POST /v2/events/ingest", s.withCallContext(false, s.handleEventsIngest))

	s.mux.HandleFunc("POST /v2/searches", s.withCallContext(true, s.handleCreateSearch))
	s.mux.HandleFunc("GET /v2/searches/{searchID}", s.withCallContext(false, s.handleGetSearch))
	s.mux.HandleFunc("GET /v2/searches/{searchID}/timeline", s.withCallContext(false, s.handleSearchTimeline))
	s.mux.HandleFunc("GET /v2/searches/{searchID}/notes", s.withCallContext(false, s.handleSearchNotes))

	s.mux.HandleFunc("GET /v2/notes/{noteID}", s.withCallContext(false, s.handleGetNote))
	s.mux.HandleFunc("PATCH /v2/notes/{noteID}", s.withCallContext(false, s.handlePatchNote))
	s.mux.HandleFunc("DELETE /v2/notes/{noteID}", s.withCallContext(false, s.handleDeleteNote))
	s.mux.HandleFunc("POST /v2/notes/{noteID}/publish", s.withCallContext(false, s.handlePublishNote))
	s.mux.HandleFunc("POST /v2/notes/{noteID}/unpublish", s.withCallContext(false, s.handleUnpublishNote))

	s.mux.HandleFunc("GET /v2/spaces/{space}/grants", s.withCallContext(false, s.handleListGrants))
	s.mux.HandleFunc("POST /v2/spaces/{space}/grants", s.withCallContext(false, s.handleCreateGrant))
	s.mux.HandleFunc("POST /v2/spaces/{space}/grants/revoke", s.withCallContext(false, s.handleRevokeGrant))
}

func (s *Server) registerAdminRoutes() {
	s.adminMux.HandleFunc("POST /v2/admin/qdrant/rebuild", s.handleAdminRebuild)
	s.adminMux.HandleFunc("POST /v2/admin/searches/raw", s.withCallContext(true, s.handleAdminRawSearch))
	s.adminMux.HandleFunc("GET /v2/admin/traces/recent", s.withCallContext(false, s.handleAdminRecentTraces))
	s.adminMux.HandleFunc("GET /v2/admin/traces/{traceID}", s.handleAdminGetTrace)
	s.adminMux.HandleFunc("GET /v2/admin/traces/{traceID}/bundle", s.handleAdminTraceBundle)
	s.adminMux.HandleFunc("GET /v2/admin/trace-items/{traceID}", s.handleAdminTraceItems)
	s.adminMux.HandleFunc("GET /v2/admin/trajectories/{searchID}", s.handleAdminTrajectory)
	s.adminMux.HandleFunc("GET /v2/admin/notes/{noteID}/provenance", s.handleAdminProvenance)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}
