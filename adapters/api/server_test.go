package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deltar/adapters/calibration"
	"deltar/app"
	"deltar/domain/reservoir"
	"deltar/internal"
	"deltar/internal/errors"
	"deltar/internal/estimation"
	"deltar/internal/testkit"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	kit, err := testkit.NewTestKit(testkit.DefaultConfig())
	require.NoError(t, err)

	logger := internal.NewLogger(internal.LogLevelError)
	registry := app.NewRegistry(kit.Curves, kit.Tables, logger)
	estimator := app.NewEstimator(registry, calibration.NewConvolver(registry, 0, logger), nil, app.EstimatorConfig{
		Sampler: estimation.SamplerConfig{Workers: 2, ChunkSize: 1024},
		Workers: 2,
		Defaults: app.Options{
			Iterations:     2000,
			Confidence:     0.95,
			Seed:           11,
			ReservoirCurve: testkit.MarineCurveName,
		},
		Northern: testkit.TerrestrialCurveName,
	}, logger)

	srv := httptest.NewServer(NewServer(estimator, Config{}, logger).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, path string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) ErrorDetail {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Error
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEstimateShell(t *testing.T) {
	srv := newTestServer(t)
	resp := post(t, srv, "/v1/estimate/shell", `{
		"id": "S1",
		"collection_year": 1906,
		"measured": {"value": 900, "sd": 30},
		"options": {"iterations": 1500, "seed": 3},
		"include_sample": true
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var est app.Estimate
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&est))
	assert.Equal(t, "S1", est.ID)
	assert.Len(t, est.Sample, 1500)
	assert.LessOrEqual(t, est.Statistics.CILow, est.Statistics.CIHigh)
}

func TestEstimatePair_SampleOmittedByDefault(t *testing.T) {
	srv := newTestServer(t)
	resp := post(t, srv, "/v1/estimate/pair", `{
		"true_age": {"value": 2000, "sd": 20},
		"measured": {"value": 2600, "sd": 30},
		"mode": "normal"
	}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"sample"`)
	assert.Contains(t, string(raw), `"statistics"`)
}

func TestEstimate_ValidationErrors(t *testing.T) {
	srv := newTestServer(t)
	tests := []struct {
		name string
		path string
		body string
	}{
		{"malformed json", "/v1/estimate/shell", `{"collection_year":`},
		{"unknown field", "/v1/estimate/shell", `{"collection_year": 1900, "measured": {"value": 1, "sd": 1}, "colour": "red"}`},
		{"missing measured sd", "/v1/estimate/shell", `{"collection_year": 1900, "measured": {"value": 800}}`},
		{"negative sd", "/v1/estimate/shell", `{"collection_year": 1900, "measured": {"value": 800, "sd": -1}}`},
		{"fractional iterations", "/v1/estimate/shell", `{"collection_year": 1900, "measured": {"value": 800, "sd": 30}, "options": {"iterations": 10.5}}`},
		{"zero iterations", "/v1/estimate/shell", `{"collection_year": 1900, "measured": {"value": 800, "sd": 30}, "options": {"iterations": 0}}`},
		{"confidence of one", "/v1/estimate/pair", `{"true_age": {"value": 1, "sd": 1}, "measured": {"value": 2, "sd": 1}, "mode": "normal", "options": {"confidence": 1}}`},
		{"unknown mode", "/v1/estimate/pair", `{"true_age": {"value": 1, "sd": 1}, "measured": {"value": 2, "sd": 1}, "mode": "bayes"}`},
		{"missing mode", "/v1/estimate/pair", `{"true_age": {"value": 1, "sd": 1}, "measured": {"value": 2, "sd": 1}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, srv, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, errors.CodeValidationError, decodeError(t, resp).Code)
		})
	}
}

func TestEstimate_MissingCurveIsNotFound(t *testing.T) {
	srv := newTestServer(t)
	resp := post(t, srv, "/v1/estimate/shell", `{
		"collection_year": 1906,
		"measured": {"value": 900, "sd": 30},
		"options": {"reservoir_curve": "marine13"}
	}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, errors.CodeNotFound, decodeError(t, resp).Code)
}

func TestBatch_NamedTable(t *testing.T) {
	srv := newTestServer(t)
	resp := post(t, srv, "/v1/batch", `{"method": "pair", "mode": "normal", "table": "synthetic", "include_draws": true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result reservoir.BatchResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Len(t, result.Statistics, testkit.DefaultConfig().Columns)
	assert.Equal(t, result.Keys(), result.DrawKeys())
	assert.Len(t, result.Draws[0].Sample, 2000)
}

func TestBatch_InlineTable(t *testing.T) {
	srv := newTestServer(t)
	body, err := json.Marshal(BatchRequest{
		Method: "shell",
		Inline: &TableBody{
			Descriptor: "sample",
			Columns: []ColumnBody{
				{ID: "A", Values: []float64{1900, 850, 30}},
				{ID: "B", Values: []float64{1920, 870, 25}},
			},
		},
	})
	require.NoError(t, err)

	resp := post(t, srv, "/v1/batch", string(body))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result reservoir.BatchResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, []string{"A", "B"}, result.Keys())
	assert.Empty(t, result.Draws)
}

func TestBatch_Errors(t *testing.T) {
	srv := newTestServer(t)
	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"no table", `{"method": "pair", "mode": "normal"}`, http.StatusBadRequest, errors.CodeValidationError},
		{"both tables", `{"method": "shell", "table": "synthetic", "inline_table": {"columns": [{"id": "A", "values": [1900, 1, 1]}]}}`, http.StatusBadRequest, errors.CodeValidationError},
		{"missing table", `{"method": "pair", "mode": "normal", "table": "nope"}`, http.StatusNotFound, errors.CodeNotFound},
		{"short column", `{"method": "shell", "inline_table": {"columns": [{"id": "A", "values": [1900, 1]}]}}`, http.StatusBadRequest, errors.CodeValidationError},
		{"age beyond the curve", `{"method": "pair", "mode": "curve", "inline_table": {"columns": [{"id": "far", "values": [1000000, 1, 2600, 30]}]}}`, http.StatusUnprocessableEntity, errors.CodeComputationError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, srv, "/v1/batch", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, decodeError(t, resp).Code)
		})
	}
}

func TestBatch_Reports(t *testing.T) {
	srv := newTestServer(t)
	body := `{"method": "pair", "mode": "normal", "table": "synthetic", "options": {"iterations": 500}}`

	resp := post(t, srv, "/v1/batch?report=markdown", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte("# Delta R batch")))

	resp = post(t, srv, "/v1/batch?report=html", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	resp = post(t, srv, "/v1/batch?report=pdf", body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCurvesAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/curves")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var curves CurvesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&curves))
	assert.ElementsMatch(t, []string{testkit.MarineCurveName, testkit.TerrestrialCurveName}, curves.Curves)
	assert.Equal(t, []string{"synthetic"}, curves.Tables)
	assert.Equal(t, testkit.MarineCurveName, curves.DefaultReservoir)

	post(t, srv, "/v1/estimate/pair", `{"true_age": {"value": 2000, "sd": 20}, "measured": {"value": 2600, "sd": 30}, "mode": "normal"}`)

	metrics, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	raw, err := io.ReadAll(metrics.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `deltar_estimations_total{method="pair",outcome="ok"} 1`)
	assert.Contains(t, string(raw), `deltar_http_requests_total{route="/v1/curves",status="200"} 1`)
}

func TestAcquire_WaitsForSlots(t *testing.T) {
	s := NewServer(nil, Config{Slots: 2}, internal.NewLogger(internal.LogLevelError))

	// a batch costs more than the server holds, so it takes every slot
	release, err := s.acquire(context.Background(), batchCost)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.acquire(ctx, 1)
	require.Error(t, err)
	assert.Equal(t, errors.CodeUnavailable, errors.GetCode(err))
	assert.Equal(t, http.StatusServiceUnavailable, statusOf(errors.GetCode(err)))

	release()
	release, err = s.acquire(context.Background(), 1)
	require.NoError(t, err)
	release()
}

func TestBatch_UnknownMethodsShareOneMetricLabel(t *testing.T) {
	srv := newTestServer(t)

	for _, method := range []string{"junk-0", "junk-1"} {
		resp := post(t, srv, "/v1/batch", `{"method": "`+method+`", "table": "synthetic"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
	post(t, srv, "/v1/batch", `{"method": "PAIR", "mode": "normal", "table": "synthetic"}`)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	metrics := string(raw)
	assert.NotContains(t, metrics, "junk-")
	assert.Contains(t, metrics, `deltar_estimations_total{method="invalid",outcome="VALIDATION_ERROR"} 2`)
	assert.Contains(t, metrics, `deltar_estimations_total{method="pair",outcome="ok"} 1`)
}
