// Package api implements HTTP handlers and helpers for the load planner service.
package api

import (
	"errors"
	"net/http"
	"strings"

	"loadplanner/internal/auth"
)

var errUnauthenticated = errors.New("missing or invalid credentials")

type Principal struct {
	Tenant string
	Role   string // admin, dispatcher, viewer
}

// getPrincipal extracts tenant and role from the bearer token or headers.
//   - If Authorization: Bearer is present, uses the configured verifier (dev/hmac).
//   - Else falls back to X-Tenant-Id / X-Role headers, in dev mode only.
func (s *Server) getPrincipal(r *http.Request) (Principal, error) {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		tok := strings.TrimSpace(authz[len("Bearer "):])
		pr, err := s.Auth.Verify(tok)
		if err != nil {
			return Principal{}, errUnauthenticated
		}
		return Principal{Tenant: pr.Tenant, Role: pr.Role}, nil
	}
	if s.Auth.Mode != "dev" {
		return Principal{}, errUnauthenticated
	}
	tenant := r.Header.Get("X-Tenant-Id")
	role := strings.ToLower(r.Header.Get("X-Role"))
	if tenant == "" {
		tenant = "t_demo"
	}
	if role == "" {
		role = auth.RoleAdmin
	}
	return Principal{Tenant: tenant, Role: role}, nil
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == auth.RoleAdmin }

// CanPlan reports whether the principal may create or change plans.
func (p Principal) CanPlan() bool { return p.IsAdmin() || p.Role == auth.RoleDispatcher }

// principal resolves the caller or writes a 401 and returns false.
func (s *Server) principal(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	p, err := s.getPrincipal(r)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer realm="loadplanner"`)
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", err.Error(), r.URL.Path)
		return Principal{}, false
	}
	return p, true
}
