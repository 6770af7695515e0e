package entitlement

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"grc-license-controlplane/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type fakeChecker struct {
	decision Decision
	tenant   string
	feature  string
}

func (f *fakeChecker) CheckEntitlement(_ context.Context, tenantID, featureCode string) Decision {
	f.tenant, f.feature = tenantID, featureCode
	return f.decision
}

func newRouter(checker Checker) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Error(), middleware.Tenant())
	r.GET("/reports", EnforcementMiddleware(checker, "reports"), func(c *gin.Context) {
		d, ok := FromContext(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"watermark": d.Watermark})
	})
	(&Handler{checker: checker}).Register(r)
	return r
}

func do(r http.Handler, path, tenant string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if tenant != "" {
		req.Header.Set(middleware.TenantHeader, tenant)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestMiddlewareRequiresTenant(t *testing.T) {
	checker := &fakeChecker{decision: Decision{Allowed: true}}
	w := do(newRouter(checker), "/reports", "")

	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "Tenant ID required", decode(t, w)["error"])
	require.Empty(t, checker.tenant)
}

func TestMiddlewareAllows(t *testing.T) {
	checker := &fakeChecker{decision: Decision{Allowed: true, Watermark: true, Reason: ReasonUnlicensed}}
	w := do(newRouter(checker), "/reports", "tenant-a")

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, decode(t, w)["watermark"])
	require.Equal(t, "tenant-a", checker.tenant)
	require.Equal(t, "reports", checker.feature)
}

func TestMiddlewareDenies(t *testing.T) {
	checker := &fakeChecker{decision: Decision{
		Reason:     ReasonExpired,
		Message:    "License has expired. Please renew to continue.",
		HTTPStatus: http.StatusPaymentRequired,
	}}
	w := do(newRouter(checker), "/reports", "tenant-a")

	require.Equal(t, http.StatusPaymentRequired, w.Code)
	body := decode(t, w)
	require.Equal(t, "expired", body["error"])
	require.Equal(t, "License has expired. Please renew to continue.", body["message"])
	require.Equal(t, false, body["allowed"])
}

func TestMiddlewareDefaultsTo403AndHidesErrors(t *testing.T) {
	checker := &fakeChecker{decision: Decision{Reason: ReasonLookupFailed, Error: context.DeadlineExceeded}}
	w := do(newRouter(checker), "/reports", "tenant-a")

	require.Equal(t, http.StatusForbidden, w.Code)
	require.NotContains(t, w.Body.String(), "deadline")
}

func TestMiddlewareRedirect(t *testing.T) {
	checker := &fakeChecker{decision: Decision{Reason: ReasonUnlicensed, HTTPStatus: http.StatusFound, RedirectTo: "/upgrade"}}
	w := do(newRouter(checker), "/reports", "tenant-a")

	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, "/upgrade", w.Header().Get("Location"))
	require.Equal(t, "/upgrade", decode(t, w)["redirect_to"])
}

func TestGetEntitlementEndpoint(t *testing.T) {
	checker := &fakeChecker{decision: Decision{Allowed: true, Licensed: true}}
	r := newRouter(checker)

	w := do(r, "/v1/entitlements/dashboard", "tenant-a")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "dashboard", checker.feature)
	require.Equal(t, true, decode(t, w)["licensed"])

	w = do(r, "/v1/entitlements/dashboard", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
