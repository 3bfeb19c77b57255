package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newGuardedRouter(t *testing.T, svc *Service, enabled bool) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	g := gin.New()
	g.GET("/status", NewMiddleware(svc, enabled).RequireBearer(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"subject": c.GetString(string(SubjectKey))})
	})
	return g
}

func TestRequireBearer_RejectsMissingHeader(t *testing.T) {
	svc := newTestService(t)
	g := newGuardedRouter(t, svc, true)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireBearer_RejectsInvalidToken(t *testing.T) {
	svc := newTestService(t)
	g := newGuardedRouter(t, svc, true)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireBearer_AcceptsValidToken(t *testing.T) {
	svc := newTestService(t)
	g := newGuardedRouter(t, svc, true)

	tok, err := svc.Issue(context.Background(), "ci-runner")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer "+tok.Value)
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ci-runner")
}

func TestRequireBearer_DisabledSkipsCheck(t *testing.T) {
	svc := newTestService(t)
	g := newGuardedRouter(t, svc, false)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	g.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}
