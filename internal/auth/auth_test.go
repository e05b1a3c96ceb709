package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123"

func TestTokenRoundTrip(t *testing.T) {
	m, err := NewJWTManager(testSecret, time.Hour)
	require.NoError(t, err)

	token, err := m.GenerateToken("alice", RoleAdmin)
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Operator)
	assert.True(t, claims.IsAdmin())

	_, err = m.GenerateToken("bob", "root")
	assert.Error(t, err)
}

func TestTokenRejections(t *testing.T) {
	m, err := NewJWTManager(testSecret, time.Minute)
	require.NoError(t, err)

	issued := time.Now().Add(-2 * time.Hour)
	m.now = func() time.Time { return issued }
	expired, err := m.GenerateToken("alice", RoleViewer)
	require.NoError(t, err)
	m.now = time.Now

	_, err = m.ValidateToken(expired)
	assert.ErrorIs(t, err, ErrTokenExpired)

	other, err := NewJWTManager("another-secret-value", time.Hour)
	require.NoError(t, err)
	forged, err := other.GenerateToken("mallory", RoleAdmin)
	require.NoError(t, err)
	_, err = m.ValidateToken(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"operator": "x"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = m.ValidateToken(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewJWTManager("short", time.Hour)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, err := NewJWTManager(testSecret, time.Hour)
	require.NoError(t, err)

	r := gin.New()
	r.Use(Middleware(m))
	r.GET("/read", func(c *gin.Context) { c.String(http.StatusOK, Operator(c)) })
	r.POST("/write", RequireAdmin(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	viewer, _ := m.GenerateToken("vera", RoleViewer)
	admin, _ := m.GenerateToken("ada", RoleAdmin)

	tests := []struct {
		name   string
		method string
		path   string
		header string
		want   int
	}{
		{"missing header", http.MethodGet, "/read", "", http.StatusUnauthorized},
		{"wrong scheme", http.MethodGet, "/read", "Basic abc", http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/read", "Bearer abc", http.StatusUnauthorized},
		{"viewer reads", http.MethodGet, "/read", "Bearer " + viewer, http.StatusOK},
		{"viewer cannot write", http.MethodPost, "/write", "Bearer " + viewer, http.StatusForbidden},
		{"admin writes", http.MethodPost, "/write", "Bearer " + admin, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/read", nil)
	req.Header.Set("Authorization", "Bearer "+viewer)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "vera", rec.Body.String())
}
