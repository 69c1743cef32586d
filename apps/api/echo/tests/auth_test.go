package tests

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/memberhub/apps/api/echo"
	"github.com/trezcool/memberhub/tests"
)

func Test_authApi_federated(t *testing.T) {
	f := setup(t)

	runHTTPTests(t, f.app, []httpTest{
		{
			name: "missing credential", method: http.MethodPost, path: "/v1/auth/federated",
			body: []byte(`{}`), wantCode: http.StatusBadRequest,
			wantData: []byte(`{"credential": "credential is required"}`),
		},
		{
			name: "invalid credential", method: http.MethodPost, path: "/v1/auth/federated",
			body: []byte(`{"credential": "not-a-jwt"}`), wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
	})

	t.Run("valid credential", func(t *testing.T) {
		body := marchallObj(t, FederatedSignInRequest{Credential: testutil.FederatedToken(t, f.conf, ann)})
		req, rec := newRequest(http.MethodPost, "/v1/auth/federated", body)
		f.app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp TokenResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, ann, resp.Principal)

		claims := new(Claims)
		_, err := jwt.ParseWithClaims(resp.Token, claims, func(*jwt.Token) (interface{}, error) {
			return []byte(f.conf.SecretKey), nil
		})
		require.NoError(t, err)
		assert.Equal(t, ann, claims.Principal())
	})
}

func Test_authApi_anonymous(t *testing.T) {
	f := setup(t)

	req, rec := newRequest(http.MethodPost, "/v1/auth/anonymous")
	f.app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Principal.IsAnonymous)
	assert.NotEmpty(t, resp.Principal.ID)
	assert.NotEmpty(t, resp.Token)

	// the token authenticates the anonymous principal
	req, rec = newAuthRequest(http.MethodGet, "/v1/me", resp.Token)
	f.app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
