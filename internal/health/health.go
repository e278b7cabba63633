// Package health implements the liveness and readiness probes of the
// diagnostics server.
//
// /healthz answers 200 whenever the process can serve HTTP at all. /readyz
// additionally runs every registered [Checker] — the provider wiring, the
// audio device — and answers 503 as soon as one of them fails, so an
// orchestrator or a curl in a shell can tell "running" from "able to hold a
// session". Bodies are JSON: a "status" of "ok" or "fail" plus a per-checker
// "checks" map.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout caps a single readiness check. A probe that cannot answer in
// this window counts as failed.
const checkTimeout = 5 * time.Second

// Checker probes one dependency for readiness.
type Checker struct {
	// Name keys this check in the /readyz response, e.g. "provider" or
	// "audio_device".
	Name string

	// Check returns nil when the dependency is usable. It must honour ctx,
	// which carries the checkTimeout deadline.
	Check func(ctx context.Context) error
}

// Handler serves the probe endpoints. The checker list is fixed at
// construction, so the zero synchronisation is safe.
type Handler struct {
	checkers []Checker
}

// New creates a Handler over the given checkers. /readyz evaluates them
// sequentially, in the order given.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Register mounts /healthz and /readyz on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// probeBody is the JSON shape of both endpoints.
type probeBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthz reports liveness. It never fails: reaching the handler is the
// proof.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, probeBody{Status: "ok"})
}

// Readyz reports readiness: 200 when every checker passes, 503 otherwise,
// with the individual results in the body either way.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	body := probeBody{
		Status: "ok",
		Checks: make(map[string]string, len(h.checkers)),
	}
	status := http.StatusOK

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			body.Checks[c.Name] = "fail: " + err.Error()
			body.Status = "fail"
			status = http.StatusServiceUnavailable
		} else {
			body.Checks[c.Name] = "ok"
		}
	}

	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
