package testutil

import (
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/memberhub/core"
	"github.com/trezcool/memberhub/core/member"
	"github.com/trezcool/memberhub/services/identity"
)

// FederatedToken mints an ID token that conf's identity verifier accepts.
func FederatedToken(t *testing.T, conf *core.Config, p member.Principal) string {
	t.Helper()
	now := time.Now()
	claims := identity.FederatedClaims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    conf.Identity.Issuer,
			Audience:  conf.Identity.Audience,
			Subject:   p.ID,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(time.Hour).Unix(),
		},
		Email: p.Email,
		Name:  p.DisplayName,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(conf.Identity.SharedSecret))
	require.NoError(t, err, "FederatedToken()")
	return token
}

// NewProvider returns a signed out identity provider for conf.
func NewProvider(t *testing.T, conf *core.Config, resume ...member.Principal) *identity.Provider {
	t.Helper()
	verifier, err := identity.NewVerifier(conf.Identity)
	require.NoError(t, err, "NewVerifier()")
	return identity.NewProvider(verifier, resume...)
}
