package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"elfmemory/internal/config"
)

func testServer(cfg config.Config) *Server {
	return &Server{cfg: cfg, logger: zerolog.Nop()}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func callWithContext(s *Server, req *http.Request) (*httptest.ResponseRecorder, bool) {
	rec := httptest.NewRecorder()
	reached := false
	h := s.withRequestID(http.HandlerFunc(s.withCallContext(false, func(w http.ResponseWriter, r *http.Request) {
		reached = true
		respondJSON(w, r, http.StatusOK, map[string]string{"ok": "true"})
	})))
	h.ServeHTTP(rec, req)
	return rec, reached
}

func TestWithCallContext_AcceptsValidHeaders(t *testing.T) {
	s := testServer(config.Config{})
	req := httptest.NewRequest(http.MethodPost, "/v2/notes/ingest", nil)
	req.Header.Set("X-ELF-Tenant-Id", "acme")
	req.Header.Set("X-ELF-Project-Id", "website")
	req.Header.Set("X-ELF-Agent-Id", "builder-1")

	rec, reached := callWithContext(s, req)
	assert.True(t, reached)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-ELF-Request-Id"))
}

func TestWithCallContext_RejectsMissingAndNonEnglishHeaders(t *testing.T) {
	s := testServer(config.Config{})

	req := httptest.NewRequest(http.MethodPost, "/v2/notes/ingest", nil)
	req.Header.Set("X-ELF-Tenant-Id", "acme")
	req.Header.Set("X-ELF-Agent-Id", "builder-1")
	rec, reached := callWithContext(s, req)
	assert.False(t, reached)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, CodeNonEnglishInput, body.ErrorCode)
	assert.Contains(t, body.Fields[0], "X-ELF-Project-Id")
	assert.NotEmpty(t, body.RequestID)

	req = httptest.NewRequest(http.MethodPost, "/v2/notes/ingest", nil)
	req.Header.Set("X-ELF-Tenant-Id", "тенант")
	req.Header.Set("X-ELF-Project-Id", "website")
	req.Header.Set("X-ELF-Agent-Id", "builder-1")
	rec, reached = callWithContext(s, req)
	assert.False(t, reached)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, CodeNonEnglishInput, decodeError(t, rec).ErrorCode)
}

func TestWithCallContext_RequiresReadProfileForSearch(t *testing.T) {
	s := testServer(config.Config{})
	req := httptest.NewRequest(http.MethodPost, "/v2/searches", nil)
	req.Header.Set("X-ELF-Tenant-Id", "acme")
	req.Header.Set("X-ELF-Project-Id", "website")
	req.Header.Set("X-ELF-Agent-Id", "builder-1")

	rec := httptest.NewRecorder()
	h := s.withRequestID(http.HandlerFunc(s.withCallContext(true, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	})))
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, CodeInvalidRequest, body.ErrorCode)
	assert.Contains(t, body.Fields[0], "X-ELF-Read-Profile")
}

func TestIsAdminKey(t *testing.T) {
	var cfg config.Config
	cfg.Security.AuthMode = "static_keys"
	cfg.Security.AdminKeys = []string{"k-admin"}
	s := testServer(cfg)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	assert.False(t, s.isAdminKey(req))
	req.Header.Set("X-ELF-Api-Key", "k-admin")
	assert.True(t, s.isAdminKey(req))

	// In "off" mode role checks cannot be enforced.
	s = testServer(config.Config{})
	assert.True(t, s.isAdminKey(httptest.NewRequest(http.MethodPost, "/", nil)))
}

func TestWithLoopbackOnly(t *testing.T) {
	var cfg config.Config
	cfg.Security.LocalhostOnlyAdmin = true
	s := testServer(cfg)

	h := s.withRequestID(s.withLoopbackOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, r, http.StatusOK, map[string]string{"ok": "true"})
	})))

	req := httptest.NewRequest(http.MethodPost, "/v2/admin/qdrant/rebuild", nil)
	req.RemoteAddr = "127.0.0.1:54321"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/v2/admin/qdrant/rebuild", nil)
	req.RemoteAddr = "10.1.2.3:54321"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, CodeScopeDenied, decodeError(t, rec).ErrorCode)
}

func TestRespondError_Envelope(t *testing.T) {
	s := testServer(config.Config{})
	rec := httptest.NewRecorder()
	h := s.withRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusUnprocessableEntity, CodeNonEnglishInput, "query failed the English gate", "$.query")
	}))
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v2/searches", nil))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, CodeNonEnglishInput, body.ErrorCode)
	assert.Equal(t, []string{"$.query"}, body.Fields)
	assert.Equal(t, rec.Header().Get("X-ELF-Request-Id"), body.RequestID)
}
