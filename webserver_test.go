package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiEnvelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	config, err := LoadDefaultConfig()
	require.NoError(t, err)
	params := FallbackParameters()
	policies, err := BuildPolicies(config, params)
	require.NoError(t, err)

	sim := NewSimulator(config.Assumptions, NewMemoryCache(0), zerolog.Nop())
	return NewWebServer(config, params, policies, sim, "localhost:0", zerolog.Nop()).Handler()
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, apiEnvelope) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env apiEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestAPIHealth(t *testing.T) {
	rec, env := doRequest(t, newTestServer(t), http.MethodGet, "/api/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.JSONEq(t, `{"status":"ok"}`, string(env.Data))
}

func TestAPIPolicies(t *testing.T) {
	rec, env := doRequest(t, newTestServer(t), http.MethodGet, "/api/policies", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var policies []Policy
	require.NoError(t, json.Unmarshal(env.Data, &policies))
	require.Len(t, policies, 5)
	assert.Equal(t, "current", policies[0].Key)
	assert.Equal(t, InterestSliding, policies[0].Interest.Kind)
	assert.Equal(t, 29385.0, policies[0].Threshold)
	assert.Equal(t, "plan5", policies[4].Key)
}

func TestAPIParameters(t *testing.T) {
	_, env := doRequest(t, newTestServer(t), http.MethodGet, "/api/parameters", nil)

	var params PlanParameters
	require.NoError(t, json.Unmarshal(env.Data, &params))
	assert.Equal(t, FallbackParameters(), params)
}

func TestAPIConfig(t *testing.T) {
	_, env := doRequest(t, newTestServer(t), http.MethodGet, "/api/config", nil)

	var config Config
	require.NoError(t, json.Unmarshal(env.Data, &config))
	assert.Equal(t, 45000.0, config.Loan.Balance)
	assert.Len(t, config.Comparisons, 2)
}

func TestAPILifetime(t *testing.T) {
	rec, env := doRequest(t, newTestServer(t), http.MethodPost, "/api/lifetime",
		APILifetimeRequest{Income: 90000, Policy: "current"})
	require.Equal(t, http.StatusOK, rec.Code, env.Error)

	var result APILifetimeResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, "current", result.Policy.Key)
	assert.True(t, result.Summary.PaidOff)
	assert.True(t, result.Reconciliation.Balanced)
	assert.Equal(t, "45000", result.Reconciliation.Principal.String(), "balance defaults to the configured loan")
}

func TestAPILifetime_CustomPolicy(t *testing.T) {
	custom := Policy{
		Threshold:     29385,
		RepaymentRate: 0.09,
		WriteoffYears: 30,
		Interest:      FlatInterest(0),
		IndexFrom:     9999,
	}
	rec, env := doRequest(t, newTestServer(t), http.MethodPost, "/api/lifetime",
		APILifetimeRequest{Income: 100000, Balance: 45000, Custom: &custom})
	require.Equal(t, http.StatusOK, rec.Code, env.Error)

	var result APILifetimeResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, "custom", result.Policy.Key)
	assert.InDelta(t, 45000, result.Summary.TotalRepaid, 0.01)
	assert.Equal(t, 7, result.Summary.YearsRepaying)
}

func TestAPILifetime_Errors(t *testing.T) {
	bad := Policy{Threshold: 60000, RepaymentRate: 0.09, WriteoffYears: 30, Interest: SlidingInterest(0.045, 0.078, 49530)}
	negativeRate := Policy{Threshold: 29385, RepaymentRate: 0.09, WriteoffYears: 30, Interest: FlatInterest(-1.5)}
	endless := Policy{Threshold: 29385, WriteoffYears: 300000000, Interest: FlatInterest(0.045)}

	tests := []struct {
		body        any
		description string
	}{
		{`{not json`, "malformed body"},
		{APILifetimeRequest{Income: 30000, Policy: "plan9"}, "unknown policy"},
		{APILifetimeRequest{Income: -1, Policy: "current"}, "negative income"},
		{APILifetimeRequest{Income: 30000, Custom: &bad}, "invalid custom policy"},
		{APILifetimeRequest{Income: 25000, Custom: &negativeRate}, "negative interest rate"},
		{APILifetimeRequest{Income: 25000, Custom: &endless}, "write-off term beyond maximum"},
	}

	h := newTestServer(t)
	for _, tc := range tests {
		t.Run(tc.description, func(t *testing.T) {
			rec, env := doRequest(t, h, http.MethodPost, "/api/lifetime", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.False(t, env.Success)
			assert.NotEmpty(t, env.Error)
		})
	}
}

func TestAPITrace(t *testing.T) {
	req := APITraceRequest{APILifetimeRequest: APILifetimeRequest{Income: 45000, Policy: "plan5"}}
	rec, env := doRequest(t, newTestServer(t), http.MethodPost, "/api/trace", req)
	require.Equal(t, http.StatusOK, rec.Code, env.Error)

	var result APITraceResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	require.Len(t, result.Years, DefaultTraceHorizon)
	assert.Equal(t, 2027, result.Years[0].CalendarYear)
	assert.Greater(t, result.Years[0].Repayment, 0.0)

	var raw struct {
		Years []map[string]any `json:"years"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &raw))
	assert.Contains(t, raw.Years[0], "annual_repayment")
}

func TestAPITrace_BadHorizon(t *testing.T) {
	req := APITraceRequest{APILifetimeRequest: APILifetimeRequest{Income: 45000, Policy: "plan5"}, Horizon: 500}
	rec, env := doRequest(t, newTestServer(t), http.MethodPost, "/api/trace", req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "or 0 for the default 40")
}

func TestAPITrace_ZeroHorizonUsesDefault(t *testing.T) {
	req := APITraceRequest{APILifetimeRequest: APILifetimeRequest{Income: 45000, Policy: "plan5"}, Horizon: 0}
	rec, env := doRequest(t, newTestServer(t), http.MethodPost, "/api/trace", req)
	require.Equal(t, http.StatusOK, rec.Code, env.Error)

	var result APITraceResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Len(t, result.Years, DefaultTraceHorizon)
}

func TestAPILifetime_CustomPolicyNotCached(t *testing.T) {
	config, err := LoadDefaultConfig()
	require.NoError(t, err)
	params := FallbackParameters()
	policies, err := BuildPolicies(config, params)
	require.NoError(t, err)
	cache := NewMemoryCache(0)
	h := NewWebServer(config, params, policies, NewSimulator(config.Assumptions, cache, zerolog.Nop()), "localhost:0", zerolog.Nop()).Handler()

	custom := Policy{Threshold: 29385, RepaymentRate: 0.09, WriteoffYears: 30, Interest: FlatInterest(0.02)}
	for _, income := range []float64{30000, 40000, 50000} {
		rec, env := doRequest(t, h, http.MethodPost, "/api/lifetime", APILifetimeRequest{Income: income, Custom: &custom})
		require.Equal(t, http.StatusOK, rec.Code, env.Error)
	}
	assert.Equal(t, 0, cache.Len())

	rec, env := doRequest(t, h, http.MethodPost, "/api/lifetime", APILifetimeRequest{Income: 30000, Policy: "current"})
	require.Equal(t, http.StatusOK, rec.Code, env.Error)
	assert.Equal(t, 1, cache.Len())
}

func TestAPISweep(t *testing.T) {
	req := APISweepRequest{Comparison: "plans", Min: 20000, Max: 60000, Step: 10000}
	rec, env := doRequest(t, newTestServer(t), http.MethodPost, "/api/sweep", req)
	require.Equal(t, http.StatusOK, rec.Code, env.Error)

	var report SweepReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, "plan2", report.Baseline)
	require.Len(t, report.Rows, 5)
	assert.Contains(t, report.Rows[0].Results, "plan2")
	assert.Contains(t, report.Rows[0].Results, "plan5")
}

func TestAPISweep_ExplicitPolicies(t *testing.T) {
	req := APISweepRequest{Policies: []string{"interest_cap", "current"}, Min: 30000, Max: 30000, Step: 100}
	rec, env := doRequest(t, newTestServer(t), http.MethodPost, "/api/sweep", req)
	require.Equal(t, http.StatusOK, rec.Code, env.Error)

	var report SweepReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, "interest_cap", report.Baseline, "first policy is the baseline when none is named")
	require.Len(t, report.Rows, 1)
}

func TestAPISweep_Errors(t *testing.T) {
	tests := []struct {
		req         APISweepRequest
		description string
	}{
		{APISweepRequest{Comparison: "nope"}, "unknown comparison"},
		{APISweepRequest{Policies: []string{"plan9"}, Min: 20000, Max: 30000, Step: 100}, "unknown policy"},
		{APISweepRequest{Comparison: "fixes", Min: 20000, Max: 120000, Step: 0.01}, "grid too large"},
		{APISweepRequest{Comparison: "fixes", Min: 50000, Max: 40000, Step: 100}, "max below min"},
	}

	h := newTestServer(t)
	for _, tc := range tests {
		t.Run(tc.description, func(t *testing.T) {
			rec, env := doRequest(t, h, http.MethodPost, "/api/sweep", tc.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.False(t, env.Success)
		})
	}
}

func TestAPI_CORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/lifetime", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()

	newTestServer(t).ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAPIPayoff(t *testing.T) {
	req := APISweepRequest{Comparison: "fixes", Min: 20000, Max: 200000}
	rec, env := doRequest(t, newTestServer(t), http.MethodPost, "/api/payoff", req)
	require.Equal(t, http.StatusOK, rec.Code, env.Error)

	var results []PayoffResult
	require.NoError(t, json.Unmarshal(env.Data, &results))
	require.Len(t, results, 3)
	assert.Equal(t, []string{"current", "interest_cap", "threshold_raise"},
		[]string{results[0].Policy, results[1].Policy, results[2].Policy})
	for _, r := range results {
		assert.True(t, r.Found, r.Policy)
		assert.True(t, r.Summary.PaidOff, r.Policy)
	}
	assert.Less(t, results[1].Salary, results[0].Salary, "capping interest lowers the payoff salary")
}

func TestAPIPayoff_Errors(t *testing.T) {
	tests := []struct {
		req         APISweepRequest
		description string
	}{
		{APISweepRequest{Comparison: "nope"}, "unknown comparison"},
		{APISweepRequest{Comparison: "plans", Min: 50000, Max: 40000}, "max below min"},
		{APISweepRequest{Comparison: "plans", Min: -10, Max: 40000}, "negative min"},
	}

	h := newTestServer(t)
	for _, tc := range tests {
		t.Run(tc.description, func(t *testing.T) {
			rec, env := doRequest(t, h, http.MethodPost, "/api/payoff", tc.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.False(t, env.Success)
		})
	}
}
