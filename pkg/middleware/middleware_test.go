package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ctxPkg "github.com/yeisme/treevault/pkg/context"
	"github.com/yeisme/treevault/pkg/internal/storage"
	"github.com/yeisme/treevault/pkg/middleware"
	"github.com/yeisme/treevault/pkg/scheduler"
)

func init() { gin.SetMode(gin.TestMode) }

func serve(t *testing.T, chain []gin.HandlerFunc, h gin.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()

	r := gin.New()
	r.Use(chain...)
	r.GET("/ping", h)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	return w
}

func TestDefault_Injects(t *testing.T) {
	mgr := &storage.Manager{}

	sched, err := scheduler.NewScheduler()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sched.Stop() })

	assert.Len(t, middleware.Default(nil, nil), 4)

	w := serve(t, middleware.Default(mgr, sched), func(c *gin.Context) {
		assert.Same(t, mgr, ctxPkg.GetManager(c.Request.Context()))
		assert.Same(t, sched, middleware.GetScheduler(c))
		c.Status(http.StatusNoContent)
	})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestDefault_Recovery(t *testing.T) {
	w := serve(t, middleware.Default(nil, nil), func(c *gin.Context) {
		assert.Nil(t, middleware.GetScheduler(c))
		panic("boom")
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
