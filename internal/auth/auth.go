package auth

import (
	"net/http"
	"os"
	"strings"
)

// Role granted to an authenticated caller.
type Role string

const (
	RolePlanner Role = "planner"
	RoleAdmin   Role = "admin"
)

// Verifier checks static bearer tokens configured through the environment.
// API_TOKENS holds comma-separated token=role pairs, e.g.
// "s3cret=planner,root=admin". An empty configuration disables auth.
type Verifier struct {
	tokens map[string]Role
}

func NewVerifierFromEnv() *Verifier {
	v := &Verifier{tokens: map[string]Role{}}
	raw := os.Getenv("API_TOKENS")
	if raw == "" {
		return v
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		tok, role, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		switch Role(role) {
		case RolePlanner, RoleAdmin:
			v.tokens[tok] = Role(role)
		}
	}
	return v
}

// Enabled reports whether any tokens are configured.
func (v *Verifier) Enabled() bool { return len(v.tokens) > 0 }

// Authenticate extracts the bearer token and returns the caller's role.
func (v *Verifier) Authenticate(r *http.Request) (Role, bool) {
	h := r.Header.Get("Authorization")
	tok, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return "", false
	}
	role, ok := v.tokens[strings.TrimSpace(tok)]
	return role, ok
}

// Allows reports whether the role can perform actions requiring want.
// Admin implies planner.
func Allows(have, want Role) bool {
	if have == RoleAdmin {
		return true
	}
	return have == want
}
