// Package health provides the HTTP probe endpoints for the bridge.
//
//   - /healthz — liveness; a process that can serve HTTP is alive.
//   - /readyz  — readiness; passes only while every registered [Checker]
//     passes, so the bridge reports not-ready during a device restart.
//
// Responses are JSON: a top-level "status" ("ok" or "fail") and a "checks"
// map with one entry per named checker.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// probeTimeout bounds each individual readiness check.
const probeTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is healthy and a descriptive error otherwise.
type Checker struct {
	// Name keys the check's entry in the JSON response (e.g. "devices",
	// "stream").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// probeResult is the JSON response body for both endpoints.
type probeResult struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. The checker set is fixed at
// construction, so the handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] evaluating the given checkers, in order, on every
// /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is the liveness probe. Always 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, probeResult{Status: "ok"})
}

// Readyz is the readiness probe: 200 only when every checker passes. Each
// checker runs under a [probeTimeout] deadline derived from the request.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks, ready := h.runChecks(r.Context())

	res := probeResult{Status: "ok", Checks: checks}
	code := http.StatusOK
	if !ready {
		res.Status = "fail"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, res)
}

// runChecks evaluates all checkers and reports per-check outcomes.
func (h *Handler) runChecks(ctx context.Context) (map[string]string, bool) {
	checks := make(map[string]string, len(h.checkers))
	ready := true

	for _, c := range h.checkers {
		cctx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := c.Check(cctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			ready = false
			continue
		}
		checks[c.Name] = "ok"
	}
	return checks, ready
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v with the given status code, falling back to a
// plain 500 if encoding fails.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
