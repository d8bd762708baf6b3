package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingHandler struct{}

func (pingHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ping", func(c echo.Context) error { return SuccessResponse(c, "pong") })
	e.GET("/boom", func(c echo.Context) error { panic("boom") })
	e.GET("/missing", func(c echo.Context) error { return AppErrorResponse(c, NotFoundError("nothing here")) })
}

func serve(s *Server, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestServerRoutesAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewServer(nil, []Handler{pingHandler{}}, WithMetrics("/metrics", reg, reg))

	rec := serve(s, "/ping")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":200,"message":"OK","data":"pong"}`, rec.Body.String())

	rec = serve(s, "/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_NOT_FOUND")

	rec = serve(s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `chainpulse_http_requests_total{method="GET",route="/ping",status="200"} 1`)
}

func TestServerRecoversPanics(t *testing.T) {
	s := NewServer(nil, []Handler{pingHandler{}})
	rec := serve(s, "/boom")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServerWithoutMetricsPath(t *testing.T) {
	s := NewServer(nil, nil)
	rec := serve(s, "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerCORS(t *testing.T) {
	s := NewServer(nil, []Handler{pingHandler{}}, WithCORS("https://dash.local"))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(echo.HeaderOrigin, "https://dash.local")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	assert.Equal(t, "https://dash.local", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(echo.HeaderOrigin, "https://other.local")
	rec = httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))

	req = httptest.NewRequest(http.MethodOptions, "/ping", nil)
	req.Header.Set(echo.HeaderOrigin, "https://dash.local")
	rec = httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "GET, HEAD, OPTIONS", rec.Header().Get(echo.HeaderAccessControlAllowMethods))
}

type limitRequest struct {
	Limit int    `query:"limit" default:"10" validate:"gte=1,lte=100"`
	Day   string `query:"day" validate:"omitempty,datetime=2006-01-02"`
}

func TestReadAndValidateRequest(t *testing.T) {
	e := echo.New()
	check := func(target string) (interface{}, *limitRequest) {
		req := &limitRequest{}
		c := e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())
		return ReadAndValidateRequest(c, req), req
	}

	verr, req := check("/?day=2024-11-12")
	require.Nil(t, verr)
	assert.Equal(t, 10, req.Limit)

	verr, _ = check("/?limit=500&day=12-11-2024")
	errs, ok := verr.([]ValidationError)
	require.True(t, ok)
	require.Len(t, errs, 2)
	assert.Equal(t, "limit", errs[0].Field)
	assert.Equal(t, "ERR_LTE", errs[0].Code)
	assert.Equal(t, "day", errs[1].Field)
	assert.Equal(t, "ERR_DATETIME", errs[1].Code)
}
