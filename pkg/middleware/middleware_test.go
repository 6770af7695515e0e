package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"grc-license-controlplane/pkg/errutil"
	"grc-license-controlplane/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

func TestTenantFromHeader(t *testing.T) {
	r := gin.New()
	r.Use(Tenant())
	r.GET("/", func(c *gin.Context) {
		require.Equal(t, "t-1", TenantID(c))
		require.Equal(t, "t-1", logger.TenantFromContext(c.Request.Context()))
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(TenantHeader, "t-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusNoContent, w.Code)
}

func TestTenantPrefersAuthenticatedValue(t *testing.T) {
	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set(TenantKey, "auth-tenant") }, Tenant())
	r.GET("/", func(c *gin.Context) {
		require.Equal(t, "auth-tenant", TenantID(c))
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(TenantHeader, "header-tenant")
	r.ServeHTTP(httptest.NewRecorder(), req)
}

func TestErrorRendersBaseError(t *testing.T) {
	r := gin.New()
	r.Use(Error())
	r.GET("/bad", func(c *gin.Context) {
		_ = c.Error(errutil.BadRequest("feature_code is required", nil))
	})
	r.GET("/boom", func(c *gin.Context) {
		_ = c.Error(errors.New("db down"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/bad", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "feature_code is required")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, w.Body.String(), "db down")
}
