package services

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-jwt-signing-32-chars"

// createTestTokenService creates a token service for testing with symmetric key
func createTestTokenService(t *testing.T) TokenService {
	t.Helper()
	service, err := NewTokenService(15*time.Minute, 7*24*time.Hour, "test-issuer", "test-audience", testSecret)
	require.NoError(t, err)
	return service
}

func signRaw(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestNewTokenService(t *testing.T) {
	tests := []struct {
		name        string
		accessTTL   time.Duration
		secretKey   string
		expectError bool
	}{
		{"valid configuration", 15 * time.Minute, testSecret, false},
		{"missing secret key", 15 * time.Minute, "", true},
		{"zero access ttl", 0, testSecret, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service, err := NewTokenService(tt.accessTTL, time.Hour, "iss", "aud", tt.secretKey)
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, service)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, service)
			}
		})
	}
}

func TestValidateToken(t *testing.T) {
	service := createTestTokenService(t)

	accessToken, refreshToken, err := service.GenerateTokens(123)
	require.NoError(t, err)
	assert.NotEqual(t, accessToken, refreshToken)

	now := time.Now().UTC()
	base := func() jwt.MapClaims {
		return jwt.MapClaims{
			"account_id": 123,
			"token_type": TokenTypeAccess,
			"jti":        "abc",
			"iat":        now.Unix(),
			"exp":        now.Add(time.Minute).Unix(),
			"iss":        "test-issuer",
			"aud":        "test-audience",
		}
	}
	with := func(key string, value any) jwt.MapClaims {
		c := base()
		if value == nil {
			delete(c, key)
		} else {
			c[key] = value
		}
		return c
	}

	tests := []struct {
		name      string
		token     string
		wantErr   error
		wantType  string
		wantAcct  uint
	}{
		{name: "access token", token: accessToken, wantType: TokenTypeAccess, wantAcct: 123},
		{name: "refresh token", token: refreshToken, wantType: TokenTypeRefresh, wantAcct: 123},
		{name: "empty token", token: "", wantErr: ErrTokenInvalid},
		{name: "garbage", token: "invalid.token.format", wantErr: ErrTokenInvalid},
		{name: "wrong secret", token: signRaw(t, jwt.SigningMethodHS256, []byte("another-secret-another-secret-xx"), base()), wantErr: ErrTokenInvalid},
		{name: "wrong algorithm", token: signRaw(t, jwt.SigningMethodHS512, []byte(testSecret), base()), wantErr: ErrTokenInvalid},
		{name: "expired", token: signRaw(t, jwt.SigningMethodHS256, []byte(testSecret), with("exp", now.Add(-time.Minute).Unix())), wantErr: ErrTokenExpired},
		{name: "missing expiry", token: signRaw(t, jwt.SigningMethodHS256, []byte(testSecret), with("exp", nil)), wantErr: ErrTokenInvalid},
		{name: "wrong issuer", token: signRaw(t, jwt.SigningMethodHS256, []byte(testSecret), with("iss", "someone-else")), wantErr: ErrTokenInvalid},
		{name: "wrong audience", token: signRaw(t, jwt.SigningMethodHS256, []byte(testSecret), with("aud", "other")), wantErr: ErrTokenInvalid},
		{name: "missing account", token: signRaw(t, jwt.SigningMethodHS256, []byte(testSecret), with("account_id", nil)), wantErr: ErrTokenInvalid},
		{name: "zero account", token: signRaw(t, jwt.SigningMethodHS256, []byte(testSecret), with("account_id", 0)), wantErr: ErrTokenInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := service.ValidateToken(tt.token)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, claims)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantAcct, claims.AccountID)
			assert.Equal(t, tt.wantType, claims.TokenType)
			assert.NotEmpty(t, claims.TokenID)
			assert.True(t, claims.ExpiresAt.After(claims.IssuedAt))
		})
	}
}

func TestRefreshToken(t *testing.T) {
	service := createTestTokenService(t)

	accessToken, refreshToken, err := service.GenerateTokens(42)
	require.NoError(t, err)

	t.Run("valid refresh token", func(t *testing.T) {
		newAccess, newRefresh, err := service.RefreshToken(refreshToken)
		require.NoError(t, err)
		assert.NotEqual(t, refreshToken, newRefresh)

		claims, err := service.ValidateToken(newAccess)
		require.NoError(t, err)
		assert.Equal(t, uint(42), claims.AccountID)
		assert.Equal(t, TokenTypeAccess, claims.TokenType)
	})

	t.Run("access token is rejected", func(t *testing.T) {
		newAccess, newRefresh, err := service.RefreshToken(accessToken)
		assert.ErrorIs(t, err, ErrTokenInvalid)
		assert.Empty(t, newAccess)
		assert.Empty(t, newRefresh)
	})

	t.Run("invalid token", func(t *testing.T) {
		_, _, err := service.RefreshToken("invalid.token")
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})
}
