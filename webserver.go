package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// maxSweepPoints bounds a single sweep request
const (
	maxSweepPoints  = 20001
	maxTraceHorizon = 100
)

// WebServer serves the simulator as a JSON API
type WebServer struct {
	config   *Config
	params   PlanParameters
	policies map[string]Policy
	sim      *Simulator
	addr     string
	logger   zerolog.Logger
}

// NewWebServer creates a new web server instance
func NewWebServer(config *Config, params PlanParameters, policies map[string]Policy, sim *Simulator, addr string, logger zerolog.Logger) *WebServer {
	return &WebServer{
		config:   config,
		params:   params,
		policies: policies,
		sim:      sim,
		addr:     addr,
		logger:   logger,
	}
}

// APIResponse is the envelope for every API reply
type APIResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// APILifetimeRequest asks for one lifetime; Custom overrides Policy when set
type APILifetimeRequest struct {
	Income  float64 `json:"income"`
	Balance float64 `json:"balance"`
	Policy  string  `json:"policy"`
	Custom  *Policy `json:"custom,omitempty"`
}

// APILifetimeResult is a lifetime summary with its reconciliation
type APILifetimeResult struct {
	Policy         Policy          `json:"policy"`
	Summary        LifetimeSummary `json:"summary"`
	Reconciliation Reconciliation  `json:"reconciliation"`
}

// APITraceRequest asks for a yearly profile
type APITraceRequest struct {
	APILifetimeRequest
	Horizon int `json:"horizon"`
}

// APITraceResult is a yearly profile
type APITraceResult struct {
	Policy Policy      `json:"policy"`
	Years  []YearTrace `json:"years"`
}

// APISweepRequest asks for a salary sweep. Either Comparison or Policies selects what to compare.
type APISweepRequest struct {
	Comparison string   `json:"comparison"`
	Policies   []string `json:"policies"`
	Baseline   string   `json:"baseline"`
	Min        float64  `json:"min"`
	Max        float64  `json:"max"`
	Step       float64  `json:"step"`
	Balance    float64  `json:"balance"`
}

// Handler returns the router with all routes configured
func (ws *WebServer) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", ws.handleHealth)
		r.Get("/config", ws.handleGetConfig)
		r.Get("/parameters", ws.handleGetParameters)
		r.Get("/policies", ws.handleGetPolicies)
		r.Post("/lifetime", ws.handleLifetime)
		r.Post("/trace", ws.handleTrace)
		r.Post("/sweep", ws.handleSweep)
		r.Post("/payoff", ws.handlePayoff)
	})

	return r
}

// Start listens on the configured address and serves until ctx is cancelled
func (ws *WebServer) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", ws.addr)
	if err != nil {
		return err
	}

	actualAddr := listener.Addr().String()
	url := fmt.Sprintf("http://%s", actualAddr)
	// If listening on all interfaces, use localhost for the URL
	if strings.HasPrefix(actualAddr, ":") || strings.HasPrefix(actualAddr, "0.0.0.0:") || strings.HasPrefix(actualAddr, "[::]:") {
		port := actualAddr[strings.LastIndex(actualAddr, ":")+1:]
		url = fmt.Sprintf("http://localhost:%s", port)
	}
	ws.logger.Info().Str("addr", actualAddr).Str("url", url).Msg("starting web server")

	server := &http.Server{
		Handler:           ws.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ws.logger.Info().Msg("shutting down web server")
		return server.Shutdown(shutdownCtx)
	}
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, APIResponse{Success: true, Data: map[string]string{"status": "ok"}})
}

// handleGetConfig returns the current configuration
func (ws *WebServer) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, APIResponse{Success: true, Data: ws.config})
}

func (ws *WebServer) handleGetParameters(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, APIResponse{Success: true, Data: ws.params})
}

// handleGetPolicies lists resolved policies in config order
func (ws *WebServer) handleGetPolicies(w http.ResponseWriter, r *http.Request) {
	policies := make([]Policy, 0, len(ws.policies))
	for _, pc := range ws.config.Policies {
		if p, ok := ws.policies[pc.Key]; ok {
			policies = append(policies, p)
		}
	}
	sendJSON(w, http.StatusOK, APIResponse{Success: true, Data: policies})
}

// resolvePolicy picks the custom policy or looks up the named one
func (ws *WebServer) resolvePolicy(req APILifetimeRequest) (Policy, error) {
	if req.Custom != nil {
		p := *req.Custom
		if p.Key == "" {
			p.Key = "custom"
		}
		if err := p.Validate(); err != nil {
			return Policy{}, err
		}
		return p, nil
	}
	p, ok := ws.policies[req.Policy]
	if !ok {
		return Policy{}, ValidationError{Field: "policy", Message: fmt.Sprintf("Unknown policy %q", req.Policy)}
	}
	return p, nil
}

func (ws *WebServer) balanceOrDefault(balance float64) float64 {
	if balance <= 0 {
		return ws.config.Loan.Balance
	}
	return balance
}

func (ws *WebServer) handleLifetime(w http.ResponseWriter, r *http.Request) {
	var req APILifetimeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Income < 0 {
		sendJSONError(w, http.StatusBadRequest, "income cannot be negative")
		return
	}
	policy, err := ws.resolvePolicy(req)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	balance := ws.balanceOrDefault(req.Balance)
	var summary LifetimeSummary
	if req.Custom != nil {
		// Custom policies bypass the shared cache
		summary = SimulateLifetime(req.Income, balance, policy, ws.sim.Assumptions)
	} else {
		summary = ws.sim.Lifetime(r.Context(), req.Income, balance, policy)
	}
	sendJSON(w, http.StatusOK, APIResponse{Success: true, Data: APILifetimeResult{
		Policy:         policy,
		Summary:        summary,
		Reconciliation: Reconcile(balance, summary),
	}})
}

func (ws *WebServer) handleTrace(w http.ResponseWriter, r *http.Request) {
	var req APITraceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Horizon < 0 || req.Horizon > maxTraceHorizon {
		sendJSONError(w, http.StatusBadRequest,
			fmt.Sprintf("horizon must be between 1 and %d years, or 0 for the default %d", maxTraceHorizon, DefaultTraceHorizon))
		return
	}
	policy, err := ws.resolvePolicy(req.APILifetimeRequest)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	trace := ws.sim.Yearly(req.Income, ws.balanceOrDefault(req.Balance), policy, req.Horizon)
	sendJSON(w, http.StatusOK, APIResponse{Success: true, Data: APITraceResult{Policy: policy, Years: trace}})
}

// comparedPolicies resolves a request to a named comparison (default "fixes")
// or an explicit policy list whose first key is the baseline unless one is given
func (ws *WebServer) comparedPolicies(req APISweepRequest) ([]Policy, string, error) {
	keys, baseline := req.Policies, req.Baseline
	if req.Comparison != "" || len(keys) == 0 {
		name := req.Comparison
		if name == "" {
			name = "fixes"
		}
		cmp := ws.config.FindComparison(name)
		if cmp == nil {
			return nil, "", fmt.Errorf("unknown comparison %q", name)
		}
		keys, baseline = cmp.Policies, cmp.Baseline
	}
	if baseline == "" && len(keys) > 0 {
		baseline = keys[0]
	}
	policies, err := SelectPolicies(ws.policies, keys)
	if err != nil {
		return nil, "", err
	}
	return policies, baseline, nil
}

func (ws *WebServer) handleSweep(w http.ResponseWriter, r *http.Request) {
	var req APISweepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	policies, baseline, err := ws.comparedPolicies(req)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	min, max, step := req.Min, req.Max, req.Step
	if step == 0 {
		min, max, step = ws.config.Sweep.SalaryMin, ws.config.Sweep.SalaryMax, ws.config.Sweep.SalaryStep
	}
	if step <= 0 || max < min || (max-min)/step+1 > maxSweepPoints {
		sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("salary grid must have between 1 and %d points", maxSweepPoints))
		return
	}
	grid := SalaryGrid(min, max, step)
	if len(grid) == 0 {
		sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("salary grid must have between 1 and %d points", maxSweepPoints))
		return
	}

	report, err := NewSweepReport(r.Context(), ws.sim, grid, ws.balanceOrDefault(req.Balance), policies, baseline, ws.config.Sweep.Workers)
	if err != nil {
		sendJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sendJSON(w, http.StatusOK, APIResponse{Success: true, Data: report})
}

func sendJSON(w http.ResponseWriter, status int, body APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func sendJSONError(w http.ResponseWriter, status int, message string) {
	sendJSON(w, status, APIResponse{Success: false, Error: message})
}

func (ws *WebServer) handlePayoff(w http.ResponseWriter, r *http.Request) {
	var req APISweepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	policies, _, err := ws.comparedPolicies(req)
	if err != nil {
		sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	min, max := req.Min, req.Max
	if min == 0 && max == 0 {
		min, max = ws.config.Sweep.SalaryMin, ws.config.Sweep.SalaryMax
	}
	if min < 0 || max < min {
		sendJSONError(w, http.StatusBadRequest, "salary range must satisfy 0 <= min <= max")
		return
	}

	results := FindPayoffSalaries(ws.balanceOrDefault(req.Balance), policies, ws.sim.Assumptions, min, max)
	sendJSON(w, http.StatusOK, APIResponse{Success: true, Data: results})
}
