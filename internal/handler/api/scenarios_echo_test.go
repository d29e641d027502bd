package api

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RegimeSim/internal/domain/models"
	"RegimeSim/internal/service/ratelimit"
	"RegimeSim/internal/services/copula"
	"RegimeSim/internal/services/scenario"
	"RegimeSim/internal/usecase"
	xhttp "RegimeSim/pkg/http"
	xlogger "RegimeSim/pkg/logger"
)

type staticLoader struct{}

func (staticLoader) Load(_ context.Context, kind models.PanelKind, u models.Universe) (models.Sources, error) {
	const n = 30
	out := models.Sources{}
	for k, p := range u.Products() {
		v := make([]float64, n)
		for i := range v {
			if kind == models.PanelRegimes {
				v[i] = float64(1 + (i/3)%2)
			} else {
				v[i] = math.Sin(float64(i*(k+2))) + 0.05*float64(i)
			}
		}
		out[p] = models.SourceResult{Source: &models.RawSource{Matrix: models.Vector(v)}}
	}
	return out, nil
}

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T, limiter *ratelimit.Limiter) *xhttp.Server {
	t.Helper()
	engine := usecase.NewScenarioEngine(
		models.MustUniverse("hubPrices", "regup"),
		models.FamilyT,
		staticLoader{},
		copula.NewFitter(),
		scenario.NewSampler(scenario.WithUpperCap(20)),
		nil,
		xlogger.Nop(),
	)
	reg := prometheus.NewRegistry()
	h := NewScenariosEchoHandler(xlogger.Nop(), engine, limiter)
	return xhttp.NewServer(h, xlogger.Nop(), xhttp.WithMetrics("/metrics", reg, reg))
}

func do(t *testing.T, s *xhttp.Server, method, target, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func TestScenarioRoutes(t *testing.T) {
	s := newTestServer(t, nil)

	code, _ := do(t, s, http.MethodGet, "/api/models", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, env := do(t, s, http.MethodPost, "/api/scenarios/simulate", `{"regime_path":[1,2],"path_count":2}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, string(env.Data), `"code":"ERR_PRECONDITION"`)
	assert.Contains(t, string(env.Data), `"field":"models"`)

	code, env = do(t, s, http.MethodPost, "/api/panels/assemble", "")
	require.Equal(t, http.StatusOK, code)
	var asm usecase.AssembleResult
	require.NoError(t, json.Unmarshal(env.Data, &asm))
	assert.Equal(t, 30, asm.Length)

	code, env = do(t, s, http.MethodPost, "/api/models/fit", `{}`)
	require.Equal(t, http.StatusOK, code)
	var rep models.FitReport
	require.NoError(t, json.Unmarshal(env.Data, &rep))
	assert.Equal(t, []models.RegimeID{1, 2}, rep.Fitted)

	code, env = do(t, s, http.MethodPost, "/api/models/fit", `{"family":"gaussian"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, string(env.Data), `"code":"ERR_ONEOF"`)

	code, env = do(t, s, http.MethodGet, "/api/models", "")
	require.Equal(t, http.StatusOK, code)
	var set models.ModelSet
	require.NoError(t, json.Unmarshal(env.Data, &set))
	assert.Equal(t, []models.Product{"hubPrices", "regup"}, set.Products)
	assert.NotNil(t, set.Model(1))

	code, env = do(t, s, http.MethodPost, "/api/scenarios/simulate", `{"products":["regup"],"regime_path":[1,2,1],"path_count":4,"seed":3}`)
	require.Equal(t, http.StatusOK, code)
	var res usecase.SimulateResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	require.Len(t, res.Paths, 4)
	assert.Len(t, res.Paths[0].Steps, 3)
	assert.Equal(t, int64(3), res.Report.Seed)

	code, env = do(t, s, http.MethodPost, "/api/scenarios/simulate", `{"steps":6,"start":2,"path_count":1,"seed":3}`)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Len(t, res.RegimePath, 6)
}

func TestSimulateRejectsBadRequests(t *testing.T) {
	s := newTestServer(t, nil)
	code, _ := do(t, s, http.MethodPost, "/api/models/fit", `{}`)
	require.Equal(t, http.StatusOK, code)

	tests := []struct {
		name string
		body string
		code string
	}{
		{"no path and no steps", `{"path_count":1}`, `"code":"ERR_REQUIRED_WITHOUT"`},
		{"negative regime", `{"regime_path":[1,-2],"path_count":1}`, `"field":"regime_path"`},
		{"unknown product", `{"products":["nope"],"regime_path":[1],"path_count":1}`, `"field":"products"`},
		{"duplicate product", `{"products":["regup","regup"],"regime_path":[1]}`, `"code":"ERR_UNIQUE"`},
		{"path count too large", `{"regime_path":[1],"path_count":1000000}`, `"code":"ERR_LTE"`},
		{"malformed json", `{"regime_path":`, `"code":"ERR_BIND"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := do(t, s, http.MethodPost, "/api/scenarios/simulate", tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Contains(t, string(env.Data), tt.code)
		})
	}
}

func TestSimulateRateLimited(t *testing.T) {
	s := newTestServer(t, ratelimit.New(1, 0))
	code, _ := do(t, s, http.MethodPost, "/api/models/fit", `{}`)
	require.Equal(t, http.StatusOK, code)

	code, _ = do(t, s, http.MethodPost, "/api/scenarios/simulate", `{"regime_path":[1],"path_count":1}`)
	assert.Equal(t, http.StatusOK, code)
	code, env := do(t, s, http.MethodPost, "/api/scenarios/simulate", `{"regime_path":[1],"path_count":1}`)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Contains(t, string(env.Data), "ERR_RATE_LIMITED")
}

func TestSimulateRejectsRequestAboveCapacity(t *testing.T) {
	// capacity 2 allows at most 2000 path steps per request
	s := newTestServer(t, ratelimit.New(2, 1000))
	req := httptest.NewRequest(http.MethodPost, "/api/scenarios/simulate", strings.NewReader(`{"regime_path":[1],"path_count":3000}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_RATE_LIMITED")
	assert.Empty(t, rec.Header().Get("Retry-After"))
}

func TestWeight(t *testing.T) {
	assert.Equal(t, 1.0, weight(&models.SimulateRequest{RegimePath: []int{1}, PathCount: 10}))
	assert.Equal(t, 5.0, weight(&models.SimulateRequest{Steps: 50, PathCount: 100}))
}

func dialStream(t *testing.T, s *xhttp.Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(s.Echo())
	t.Cleanup(ts.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/scenarios/stream", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestStream(t *testing.T) {
	s := newTestServer(t, nil)
	code, _ := do(t, s, http.MethodPost, "/api/models/fit", `{}`)
	require.Equal(t, http.StatusOK, code)

	conn := dialStream(t, s)
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"regime_path": []int{1, 2}, "path_count": 3, "seed": 5}))

	var indexes []int
	for {
		var f streamFrame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type == frameReport {
			require.NotNil(t, f.Report)
			assert.Equal(t, 3, f.Report.Paths)
			assert.NotEmpty(t, f.RunID)
			break
		}
		require.Equal(t, framePath, f.Type)
		require.NotNil(t, f.Path)
		assert.Len(t, f.Path.Steps, 2)
		indexes = append(indexes, f.Path.Index)
	}
	assert.Equal(t, []int{0, 1, 2}, indexes)
}

func TestStreamReportsInvalidRequest(t *testing.T) {
	s := newTestServer(t, nil)
	conn := dialStream(t, s)
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"path_count": 1}))

	var f struct {
		Type   string            `json:"type"`
		Errors []json.RawMessage `json:"errors"`
	}
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, frameError, f.Type)
	require.Len(t, f.Errors, 1)
	assert.Contains(t, string(f.Errors[0]), "ERR_REQUIRED_WITHOUT")
}

func TestStreamBeforeFit(t *testing.T) {
	s := newTestServer(t, nil)
	conn := dialStream(t, s)
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"regime_path": []int{1}, "path_count": 1}))

	var f struct {
		Type   string            `json:"type"`
		Errors []json.RawMessage `json:"errors"`
	}
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, frameError, f.Type)
	assert.Contains(t, string(f.Errors[0]), "ERR_PRECONDITION")
}
