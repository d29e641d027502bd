package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RegimeSim/pkg/logger"
)

type routes struct{}

func (routes) RegisterRoutes(e *echo.Echo) {
	e.GET("/ok", func(c echo.Context) error { return SuccessResponse(c, "fine") })
	e.GET("/panic", func(c echo.Context) error { panic("boom") })
	e.GET("/app-error", func(c echo.Context) error {
		return AppErrorResponse(c, ValidationFailed("products", "unknown product"))
	})
	e.GET("/limited", func(c echo.Context) error {
		return AppErrorResponse(c, TooManyRequestsError("slow down", 1500*time.Millisecond))
	})
	e.GET("/plain-error", func(c echo.Context) error {
		return AppErrorResponse(c, errors.New("db down"))
	})
	e.POST("/validate", func(c echo.Context) error {
		var req struct {
			Paths int    `json:"paths" default:"1" validate:"min=1,max=10"`
			Name  string `json:"name" validate:"required"`
		}
		if errs := ReadAndValidateRequest(c, &req); errs != nil {
			return BadRequestResponse(c, errs)
		}
		return SuccessResponse(c, req.Paths)
	})
}

func newTestServer() *Server {
	reg := prometheus.NewRegistry()
	return NewServer(routes{}, logger.Nop(), WithMetrics("/metrics", reg, reg))
}

func serve(s *Server, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func TestServerRoutesAndMetrics(t *testing.T) {
	s := newTestServer()

	rec := serve(s, http.MethodGet, "/ok", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":200,"message":"OK","data":"fine"}`, rec.Body.String())

	rec = serve(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{method="GET",route="/ok",status="200"} 1`)
}

func TestServerRecoversPanic(t *testing.T) {
	rec := serve(newTestServer(), http.MethodGet, "/panic", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAppErrorResponse(t *testing.T) {
	rec := serve(newTestServer(), http.MethodGet, "/app-error", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"field":"products"`)
	assert.Contains(t, rec.Body.String(), `"code":"ERR_PRECONDITION"`)
}

func TestReadAndValidateRequest(t *testing.T) {
	s := newTestServer()

	rec := serve(s, http.MethodPost, "/validate", `{"name":"x"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":200,"message":"OK","data":1}`, rec.Body.String())

	rec = serve(s, http.MethodPost, "/validate", `{"paths":50}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"field":"paths"`)
	assert.Contains(t, body, `"field":"name"`)
	assert.Contains(t, body, "paths must be at most 10")
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/ok", nil)
	req.Header.Set(echo.HeaderOrigin, "http://example.test")
	rec := httptest.NewRecorder()
	newTestServer().Echo().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}

func TestRequestIDAndStart(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewServer(routes{}, logger.Nop(), WithHost("127.0.0.1"), WithPort(0), WithMetrics("", reg, reg))
	require.NoError(t, s.Start())
	defer func() { _ = s.Stop(context.Background()) }()

	resp, err := http.Get("http://" + s.Addr().String() + "/ok")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(echo.HeaderXRequestID))

	resp, err = http.Get("http://" + s.Addr().String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAppErrorResponseHeadersAndFallback(t *testing.T) {
	s := newTestServer()

	rec := serve(s, http.MethodGet, "/limited", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), `"code":"ERR_RATE_LIMITED"`)

	rec = serve(s, http.MethodGet, "/plain-error", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"ERR_INTERNAL"`)
	assert.NotContains(t, rec.Body.String(), "db down")
}
