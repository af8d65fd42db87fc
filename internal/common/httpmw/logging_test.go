package httpmw

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/scriptdeck/scriptdeck/internal/common/logger"
)

func TestMiddlewarePassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(OtelTracing("test"), RequestLogger(logger.NewNop(), "test"))
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusTeapot, "pong") })
	router.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRouteAttributes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	var got map[string]string
	capture := func(c *gin.Context) {
		got = map[string]string{}
		for _, kv := range routeAttributes(c) {
			got[string(kv.Key)] = kv.Value.AsString()
		}
		c.Status(http.StatusOK)
	}
	router.GET("/api/processes/:id", capture)
	router.GET("/api/repositories/:name/status", capture)
	router.GET("/api/scripts/folders/:folder", capture)
	router.GET("/health", capture)

	cases := map[string]map[string]string{
		"/api/processes/p-1":             {"process.id": "p-1"},
		"/api/repositories/tools/status": {"repository.name": "tools"},
		"/api/scripts/folders/ops":       {"script.folder": "ops"},
		"/health":                        {},
	}
	for path, want := range cases {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, got, path)
	}
}

func TestRequestLoggerAssignsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestLogger(logger.NewNop(), "test"))
	var seen string
	router.GET("/ping", func(c *gin.Context) {
		seen = logger.RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", seen)
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
}
