package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()

	r := gin.New()
	r.Use(m.GinMiddleware())
	r.GET("/api/attendance/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for _, path := range []string{"/api/attendance/1", "/api/attendance/2", "/missing"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "/api/attendance/:id", "204")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "unmatched", "404")))
}

func TestStoreErrors(t *testing.T) {
	t.Parallel()

	m := New()
	m.StoreErrors.WithLabelValues("insert").Inc()
	m.RecordsCreated.Add(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreErrors.WithLabelValues("insert")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RecordsCreated))
}
