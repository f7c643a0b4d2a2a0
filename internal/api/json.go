package api

import (
	"encoding/json"
	"net/http"
)

// Problem is the RFC7807 body every planner error response carries, so
// clients see one error shape across plan, problem-data and admin
// endpoints.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// writeJSON marshals before touching the ResponseWriter so an encoding
// failure can still produce a clean 500 instead of a truncated body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	buf, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "response encoding failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	buf, _ := json.Marshal(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_, _ = w.Write(buf)
}
