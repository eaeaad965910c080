package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/roomwire/internal/store/sqlite"
)

var testJWT = &JWTConfig{
	Secret:   []byte("test-secret-change-me"),
	Issuer:   "test",
	Audience: "test",
	TTL:      24 * time.Hour,
}

func newTestAuthService(t *testing.T) *Service {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	return NewService(st, testJWT)
}

func TestRegister_RejectsInvalidUsername(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	for _, name := range []string{"ab", " ab ", "has space", "a/b/c", "waaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaay-too-long"} {
		_, err := svc.Register(ctx, name, "password123")
		require.ErrorIs(t, err, ErrInvalidUsername, name)
	}
}

func TestRegister_RejectsInvalidPassword(t *testing.T) {
	svc := newTestAuthService(t)

	_, err := svc.Register(context.Background(), "abc", "12345")
	require.ErrorIs(t, err, ErrInvalidPassword)
}

func TestRegister_TrimsUsernameAndCreatesUser(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	token, err := svc.Register(ctx, " alice ", "password123")
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, "alice", claims.Username)
	require.NotZero(t, claims.UserID)

	// Collides because the stored username is trimmed.
	_, err = svc.Register(ctx, "alice", "password123")
	require.ErrorIs(t, err, ErrUserExists)
}

func TestLogin(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "password123")
	require.NoError(t, err)

	token, err := svc.Login(ctx, "alice", "password123")
	require.NoError(t, err)
	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, "alice", claims.Username)

	_, err = svc.Login(ctx, "alice", "wrong-password")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody", "password123")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateToken(t *testing.T) {
	good, err := GenerateToken(testJWT, 7, "alice")
	require.NoError(t, err)

	claims, err := ValidateToken(testJWT, good)
	require.NoError(t, err)
	require.Equal(t, int64(7), claims.UserID)

	expired, err := GenerateToken(&JWTConfig{Secret: testJWT.Secret, Issuer: "test", Audience: "test", TTL: -time.Minute}, 7, "alice")
	require.NoError(t, err)

	otherAudience, err := GenerateToken(&JWTConfig{Secret: testJWT.Secret, Issuer: "test", Audience: "other", TTL: time.Minute}, 7, "alice")
	require.NoError(t, err)

	otherSecret, err := GenerateToken(&JWTConfig{Secret: []byte("nope"), Issuer: "test", Audience: "test", TTL: time.Minute}, 7, "alice")
	require.NoError(t, err)

	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": "test",
		"aud": "test",
		"exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString(testJWT.Secret)
	require.NoError(t, err)

	tests := map[string]string{
		"garbage":        "not-a-token",
		"expired":        expired,
		"wrong audience": otherAudience,
		"wrong secret":   otherSecret,
		"missing user":   noUser,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ValidateToken(testJWT, token)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("password123")
	require.NoError(t, err)
	require.NotEqual(t, "password123", hash)
	require.NoError(t, ComparePassword(hash, "password123"))
	require.Error(t, ComparePassword(hash, "password124"))
}
