package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSecret = "a_test_secret_long_enough"

func TestToken_Round_Trip(t *testing.T) {
	req := require.New(t)
	signer, err := NewSigner(testSecret)
	req.NoError(err)

	token, err := signer.GenerateToken("u1", []string{"user"}, time.Minute)
	req.NoError(err)

	claims, err := signer.ValidateToken(token)
	req.NoError(err)
	req.Equal("u1", claims.UserID)
	req.Equal([]string{"user"}, claims.Roles)
}

func TestToken_Rejections(t *testing.T) {
	req := require.New(t)
	signer, err := NewSigner(testSecret)
	req.NoError(err)
	other, err := NewSigner("another_secret_long_enough")
	req.NoError(err)

	expired, err := signer.GenerateToken("u1", nil, -time.Minute)
	req.NoError(err)
	_, err = signer.ValidateToken(expired)
	req.Error(err)

	foreign, err := other.GenerateToken("u1", nil, time.Minute)
	req.NoError(err)
	_, err = signer.ValidateToken(foreign)
	req.Error(err)

	_, err = signer.ValidateToken("not.a.token")
	req.Error(err)

	_, err = NewSigner("short")
	req.Error(err)
}

func TestMiddleware(t *testing.T) {
	signer, err := NewSigner(testSecret)
	require.NoError(t, err)

	var seenUser string
	handler := Middleware(signer, "/healthz")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenUser, _ = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("public path needs no token", func(t *testing.T) {
		req := require.New(t)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		req.Equal(http.StatusOK, rec.Code)
	})

	t.Run("missing token is rejected", func(t *testing.T) {
		req := require.New(t)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages/u1_u2", nil))
		req.Equal(http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid token is rejected", func(t *testing.T) {
		req := require.New(t)
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/messages/u1_u2", nil)
		r.Header.Set("Authorization", "Bearer garbage")
		handler.ServeHTTP(rec, r)
		req.Equal(http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token injects the user", func(t *testing.T) {
		req := require.New(t)
		token, err := signer.GenerateToken("u7", nil, time.Minute)
		req.NoError(err)

		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/messages/u1_u7", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		handler.ServeHTTP(rec, r)

		req.Equal(http.StatusOK, rec.Code)
		req.Equal("u7", seenUser)
	})
}
