package agent

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/golang/glog"

	"github.com/dreamware/segstart/internal/cluster"
)

// NewHandler serves an Agent over HTTP.
//
// Endpoints:
//   - GET  /health      200 when the agent is up
//   - POST /transition  body cluster.TransitionRequest, answers cluster.TransitionResponse
//   - GET  /info        recorded segment states
//
// A rejected payload is still a 200 response; the agent's exit code travels
// in the body so the dispatcher treats every transport the same way.
func NewHandler(a *Agent) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/transition", func(w http.ResponseWriter, r *http.Request) {
		handleTransition(a, w, r)
	})

	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		states := a.State().List()
		writeJSON(w, struct {
			Segments []SegmentState `json:"segments"`
			Count    int            `json:"segment_count"`
		}{Segments: states, Count: len(states)})
	})

	return mux
}

func handleTransition(a *Agent, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cluster.TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var stdout bytes.Buffer
	resp := cluster.TransitionResponse{}
	code, err := a.run(r.Context(), req.Payload, &stdout)
	if err != nil {
		glog.Errorf("Rejected payload from %s: %v", r.RemoteAddr, err)
		resp.Stderr = err.Error()
	}
	resp.ExitCode = code
	resp.Stdout = stdout.String()
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Warningf("Failed to write response: %v", err)
	}
}
