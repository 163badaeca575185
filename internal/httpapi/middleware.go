package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"elfmemory/internal/writegate"
)

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeyCallCtx
)

// CallContext is the validated tenant/project/agent identity extracted
// from the X-ELF-* headers on every non-health request.
type CallContext struct {
	Tenant      string
	Project     string
	Agent       string
	ReadProfile string
	IsAdmin     bool
}

func requestIDFrom(r *http.Request) string {
	if v, ok := r.Context().Value(ctxKeyRequestID).(string); ok {
		return v
	}
	return ""
}

func callContextFrom(r *http.Request) CallContext {
	if v, ok := r.Context().Value(ctxKeyCallCtx).(CallContext); ok {
		return v
	}
	return CallContext{}
}

// withRequestID stamps a fresh request id on every request; the id is
// echoed in the X-ELF-Request-Id response header and the JSON request_id
// field.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := uuid.NewString()
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, rid)
		w.Header().Set("X-ELF-Request-Id", rid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withCallContext validates the three required context headers and, when
// requireReadProfile is set, X-ELF-Read-Profile too. Invalid identifiers
// are a 422 with the header's field path, matching the English-gate error
// contract.
func (s *Server) withCallContext(requireReadProfile bool, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cc := CallContext{
			Tenant:      r.Header.Get("X-ELF-Tenant-Id"),
			Project:     r.Header.Get("X-ELF-Project-Id"),
			Agent:       r.Header.Get("X-ELF-Agent-Id"),
			ReadProfile: r.Header.Get("X-ELF-Read-Profile"),
		}
		for _, h := range []struct{ name, value string }{
			{"X-ELF-Tenant-Id", cc.Tenant},
			{"X-ELF-Project-Id", cc.Project},
			{"X-ELF-Agent-Id", cc.Agent},
		} {
			if !writegate.CheckHeaderIdentifier(h.value) {
				respondError(w, r, http.StatusUnprocessableEntity, CodeNonEnglishInput,
					"invalid context header", "$.headers['"+h.name+"']")
				return
			}
		}
		if requireReadProfile && cc.ReadProfile == "" {
			respondError(w, r, http.StatusBadRequest, CodeInvalidRequest,
				"missing read profile header", "$.headers['X-ELF-Read-Profile']")
			return
		}
		cc.IsAdmin = s.isAdminKey(r)
		ctx := context.WithValue(r.Context(), ctxKeyCallCtx, cc)
		next(w, r.WithContext(ctx))
	}
}

// isAdminKey reports whether the request carries an Admin-role key in
// static_keys auth mode. In "off" mode role checks cannot be enforced and
// every caller is treated as admin-capable.
func (s *Server) isAdminKey(r *http.Request) bool {
	if s.cfg.Security.AuthMode != "static_keys" {
		return true
	}
	key := r.Header.Get("X-ELF-Api-Key")
	for _, k := range s.cfg.Security.AdminKeys {
		if k != "" && k == key {
			return true
		}
	}
	return false
}

// withLoopbackOnly guards the admin group: requests must originate from a
// loopback address.
func (s *Server) withLoopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Security.LocalhostOnlyAdmin {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			ip := net.ParseIP(strings.TrimSpace(host))
			if ip == nil || !ip.IsLoopback() {
				respondError(w, r, http.StatusForbidden, CodeScopeDenied, "admin surface is loopback-only")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// withLogging emits one structured line per request.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", requestIDFrom(r)).
			Msg("http request")
	})
}
