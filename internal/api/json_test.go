package api

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
)

func TestWriteProblemMediaType(t *testing.T) {
	rec := httptest.NewRecorder()
	writeProblem(rec, 400, "Invalid plan request", "duplicate order id", "/v1/plans")

	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("content type: got %s, want application/problem+json", ct)
	}
	var p Problem
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Status != 400 || p.Title != "Invalid plan request" || p.Instance != "/v1/plans" {
		t.Fatalf("bad problem body: %+v", p)
	}
}

func TestWriteJSONEncodingFailureIs500(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, 200, map[string]any{"bad": func() {}})
	if rec.Code != 500 {
		t.Fatalf("status: got %d, want 500", rec.Code)
	}
}
