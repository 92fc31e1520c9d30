package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("gateway-test-secret")

func newTestAuthenticator() *Authenticator {
	return NewAuthenticator(AuthConfig{HMACSecret: testSecret, Issuer: "p2pescrow", Audience: "escrowd"}, nil)
}

func callerEcho(t *testing.T, want *common.Address) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		if want == nil {
			require.False(t, ok)
		} else {
			require.True(t, ok)
			require.Equal(t, *want, caller)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthenticatorAcceptsSubjectAddress(t *testing.T) {
	auth := newTestAuthenticator()
	caller := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	token, err := IssueToken(testSecret, "p2pescrow", "escrowd", caller, time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/offers", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	auth.Middleware(false)(callerEcho(t, &caller)).ServeHTTP(res, req)
	require.Equal(t, http.StatusNoContent, res.Code)
}

func TestAuthenticatorRejects(t *testing.T) {
	auth := newTestAuthenticator()
	caller := common.HexToAddress("0x00000000000000000000000000000000000000a1")

	wrongAudience, err := IssueToken(testSecret, "p2pescrow", "other", caller, time.Minute)
	require.NoError(t, err)
	wrongSecret, err := IssueToken([]byte("nope"), "p2pescrow", "escrowd", caller, time.Minute)
	require.NoError(t, err)
	expired, err := IssueToken(testSecret, "p2pescrow", "escrowd", caller, -time.Hour)
	require.NoError(t, err)
	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		Issuer:    "p2pescrow",
		Audience:  jwt.ClaimStrings{"escrowd"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString(testSecret)
	require.NoError(t, err)

	for name, header := range map[string]string{
		"missing":        "",
		"wrong scheme":   "Basic abc",
		"wrong audience": "Bearer " + wrongAudience,
		"wrong secret":   "Bearer " + wrongSecret,
		"expired":        "Bearer " + expired,
		"bad subject":    "Bearer " + badSubject,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/offers", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			res := httptest.NewRecorder()
			auth.Middleware(false)(callerEcho(t, nil)).ServeHTTP(res, req)
			require.Equal(t, http.StatusUnauthorized, res.Code)
		})
	}
}

func TestAuthenticatorOptionalAllowsAnonymous(t *testing.T) {
	auth := newTestAuthenticator()
	req := httptest.NewRequest(http.MethodGet, "/v1/offers/1", nil)
	res := httptest.NewRecorder()
	auth.Middleware(true)(callerEcho(t, nil)).ServeHTTP(res, req)
	require.Equal(t, http.StatusNoContent, res.Code)

	req.Header.Set("Authorization", "Bearer garbage")
	res = httptest.NewRecorder()
	auth.Middleware(true)(callerEcho(t, nil)).ServeHTTP(res, req)
	require.Equal(t, http.StatusUnauthorized, res.Code)
}
