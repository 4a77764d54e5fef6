package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/bugreport-api/internal/models"
	"github.com/noah-isme/bugreport-api/internal/service"
	"github.com/noah-isme/bugreport-api/pkg/clock"
	"github.com/noah-isme/bugreport-api/pkg/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTokens() *service.TokenService {
	return service.NewTokenService(config.JWTConfig{Secret: "secret", Issuer: "identity", Expiration: time.Hour}, clock.Real{})
}

func protectedRouter(tokens *service.TokenService, roles ...models.UserRole) *gin.Engine {
	r := gin.New()
	r.GET("/private", JWT(tokens), RequireRoles(roles...), func(c *gin.Context) {
		c.String(http.StatusOK, Claims(c).UserID)
	})
	return r
}

func TestJWTRejectsMissingAndMalformedHeaders(t *testing.T) {
	r := protectedRouter(newTokens(), models.RoleStudent)

	for _, header := range []string{"", "Token abc", "Bearer ", "Bearer not-a-jwt"} {
		req := httptest.NewRequest(http.MethodGet, "/private", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, header)
	}
}

func TestRequireRoles(t *testing.T) {
	tokens := newTokens()
	r := protectedRouter(tokens, models.RoleAdmin)

	adminToken, _, err := tokens.IssueToken("adm", models.RoleAdmin, time.Minute)
	require.NoError(t, err)
	studentToken, _, err := tokens.IssueToken("stu", models.RoleStudent, time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "adm", w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "bearer "+studentToken)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "FORBIDDEN"))
}

func TestMetricsMiddlewareLabelsRouteTemplate(t *testing.T) {
	metrics := service.NewMetricsService()
	r := gin.New()
	r.Use(Metrics(metrics))
	r.GET("/reports/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for _, path := range []string{"/reports/1", "/reports/2", "/nowhere"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	count, err := testutil.GatherAndCount(metrics.Registry(), "http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
