package api

import (
	"net/http"

	"prodplan/internal/auth"
)

type Principal struct {
	Tenant string
	Role   auth.Role
}

// getPrincipal resolves the caller's tenant and role. With tokens
// configured, the bearer token decides the role; otherwise dev headers
// apply and the caller defaults to admin.
func (s *Server) getPrincipal(r *http.Request) Principal {
	_, tenant := s.withTenant(r)
	if s.Auth != nil && s.Auth.Enabled() {
		role, ok := s.Auth.Authenticate(r)
		if !ok {
			return Principal{Tenant: tenant}
		}
		return Principal{Tenant: tenant, Role: role}
	}
	role := auth.Role(r.Header.Get("X-Role"))
	if role == "" {
		role = auth.RoleAdmin
	}
	return Principal{Tenant: tenant, Role: role}
}

func (p Principal) IsAdmin() bool { return p.Role == auth.RoleAdmin }

// CanPlan reports whether the principal may run and read plans.
func (p Principal) CanPlan() bool { return auth.Allows(p.Role, auth.RolePlanner) }
