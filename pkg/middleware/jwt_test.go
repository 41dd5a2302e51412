package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-jwt-middleware"

func init() {
	gin.SetMode(gin.TestMode)
}

func generateTestToken(claims jwt.MapClaims, secret string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte(secret))
	return tokenString
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"user_id":   "user-123",
		"email":     "organizer@example.com",
		"role":      RoleOrganizer,
		"tenant_id": "tenant-456",
		"iss":       "crowdstack",
		"exp":       time.Now().Add(time.Hour).Unix(),
	}
}

func setupTestRouter(config *JWTConfig) *gin.Engine {
	router := gin.New()
	router.Use(JWTMiddleware(config))
	router.GET("/protected", func(c *gin.Context) {
		userID, _ := GetUserID(c)
		email, _ := GetEmail(c)
		role, _ := GetRole(c)
		tenantID, _ := GetTenantID(c)
		c.JSON(http.StatusOK, gin.H{
			"user_id":   userID,
			"email":     email,
			"role":      role,
			"tenant_id": tenantID,
		})
	})
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

func TestJWTMiddleware(t *testing.T) {
	config := &JWTConfig{
		Secret:    testSecret,
		Issuer:    "crowdstack",
		SkipPaths: []string{"/health"},
	}

	withClaims := func(mutate func(jwt.MapClaims)) string {
		claims := validClaims()
		mutate(claims)
		return "Bearer " + generateTestToken(claims, testSecret)
	}

	tests := []struct {
		name     string
		path     string
		header   string
		wantCode int
	}{
		{"valid token", "/protected", "Bearer " + generateTestToken(validClaims(), testSecret), http.StatusOK},
		{"missing authorization header", "/protected", "", http.StatusUnauthorized},
		{"invalid header format", "/protected", "InvalidFormat", http.StatusUnauthorized},
		{"empty token after Bearer", "/protected", "Bearer ", http.StatusUnauthorized},
		{"expired token", "/protected", withClaims(func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Hour).Unix() }), http.StatusUnauthorized},
		{"wrong secret", "/protected", "Bearer " + generateTestToken(validClaims(), "wrong-secret"), http.StatusUnauthorized},
		{"malformed token", "/protected", "Bearer not-a-valid-jwt-token", http.StatusUnauthorized},
		{"missing user_id", "/protected", withClaims(func(c jwt.MapClaims) { delete(c, "user_id") }), http.StatusUnauthorized},
		{"wrong issuer", "/protected", withClaims(func(c jwt.MapClaims) { c["iss"] = "someone-else" }), http.StatusUnauthorized},
		{"skip path", "/health", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupTestRouter(config)
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}

func TestJWTMiddleware_ExpiredTokenCode(t *testing.T) {
	router := setupTestRouter(&JWTConfig{Secret: testSecret})
	claims := validClaims()
	claims["exp"] = time.Now().Add(-time.Minute).Unix()

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+generateTestToken(claims, testSecret))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "TOKEN_EXPIRED")
}

func TestJWTMiddleware_ClaimsExtracted(t *testing.T) {
	router := setupTestRouter(&JWTConfig{Secret: testSecret})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+generateTestToken(validClaims(), testSecret))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "user-123", body["user_id"])
	assert.Equal(t, "organizer@example.com", body["email"])
	assert.Equal(t, RoleOrganizer, body["role"])
	assert.Equal(t, "tenant-456", body["tenant_id"])
}

func TestRequireRole(t *testing.T) {
	config := &JWTConfig{Secret: testSecret}

	router := gin.New()
	router.Use(JWTMiddleware(config))
	router.POST("/closeout", RequireRole(RoleAdmin, RoleOrganizer), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})

	tests := []struct {
		name     string
		role     string
		wantCode int
	}{
		{"organizer allowed", RoleOrganizer, http.StatusOK},
		{"admin allowed", RoleAdmin, http.StatusOK},
		{"promoter forbidden", "promoter", http.StatusForbidden},
		{"venue manager forbidden", RoleVenueManager, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := validClaims()
			claims["role"] = tt.role
			req := httptest.NewRequest(http.MethodPost, "/closeout", nil)
			req.Header.Set("Authorization", "Bearer "+generateTestToken(claims, testSecret))
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
		})
	}

	t.Run("no authentication", func(t *testing.T) {
		bare := gin.New()
		bare.GET("/closeout", RequireRole(RoleAdmin), func(c *gin.Context) {
			c.Status(http.StatusOK)
		})

		w := httptest.NewRecorder()
		bare.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/closeout", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestHelperFunctions(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	_, ok := GetUserID(c)
	assert.False(t, ok)

	c.Set(ContextKeyUserID, "test-user-id")
	c.Set(ContextKeyEmail, "test@example.com")
	c.Set(ContextKeyRole, RoleAdmin)
	c.Set(ContextKeyTenantID, "tenant-123")

	id, ok := GetUserID(c)
	assert.True(t, ok)
	assert.Equal(t, "test-user-id", id)

	email, _ := GetEmail(c)
	assert.Equal(t, "test@example.com", email)

	role, _ := GetRole(c)
	assert.Equal(t, RoleAdmin, role)

	tenantID, _ := GetTenantID(c)
	assert.Equal(t, "tenant-123", tenantID)

	c.Set(ContextKeyRole, 42)
	_, ok = GetRole(c)
	assert.False(t, ok)
}
