package auth

import (
	"net/http/httptest"
	"testing"
)

func TestVerifierFromEnv(t *testing.T) {
	t.Setenv("API_TOKENS", "s3cret=planner, roottok=admin,bad,weird=nobody")
	v := NewVerifierFromEnv()
	if !v.Enabled() {
		t.Fatal("verifier should be enabled")
	}

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer s3cret")
	role, ok := v.Authenticate(r)
	if !ok || role != RolePlanner {
		t.Fatalf("planner token: role=%s ok=%v", role, ok)
	}

	r.Header.Set("Authorization", "Bearer roottok")
	role, ok = v.Authenticate(r)
	if !ok || role != RoleAdmin {
		t.Fatalf("admin token: role=%s ok=%v", role, ok)
	}

	// unknown role entries are dropped at parse time
	r.Header.Set("Authorization", "Bearer weird")
	if _, ok := v.Authenticate(r); ok {
		t.Fatal("token with unknown role should not authenticate")
	}

	r.Header.Set("Authorization", "Basic s3cret")
	if _, ok := v.Authenticate(r); ok {
		t.Fatal("non-bearer scheme should not authenticate")
	}
}

func TestVerifierDisabledWithoutTokens(t *testing.T) {
	t.Setenv("API_TOKENS", "")
	if NewVerifierFromEnv().Enabled() {
		t.Fatal("verifier should be disabled with no tokens")
	}
}

func TestAllows(t *testing.T) {
	if !Allows(RoleAdmin, RolePlanner) {
		t.Fatal("admin should imply planner")
	}
	if !Allows(RolePlanner, RolePlanner) {
		t.Fatal("planner should allow planner")
	}
	if Allows(RolePlanner, RoleAdmin) {
		t.Fatal("planner should not allow admin")
	}
	if Allows("", RolePlanner) {
		t.Fatal("empty role should allow nothing")
	}
}
