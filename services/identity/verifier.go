package identity

import (
	"github.com/dgrijalva/jwt-go"
	"github.com/pkg/errors"

	"github.com/trezcool/memberhub/core"
	"github.com/trezcool/memberhub/core/member"
)

var (
	errMissingSubject = errors.New("token has no subject")
	errBadIssuer      = errors.New("unexpected token issuer")
	errBadAudience    = errors.New("unexpected token audience")
)

// FederatedClaims are the claims read from a federated ID token.
type FederatedClaims struct {
	jwt.StandardClaims
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Verifier checks federated ID tokens: signature, expiry, issuer and audience.
type Verifier struct {
	issuer   string
	audience string
	method   jwt.SigningMethod
	key      interface{}
}

// NewVerifier uses the RS256 public key when configured, else the HS256 shared secret.
func NewVerifier(conf core.IdentityConfig) (*Verifier, error) {
	v := &Verifier{issuer: conf.Issuer, audience: conf.Audience}
	switch {
	case conf.PublicKeyPEM != "":
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(conf.PublicKeyPEM))
		if err != nil {
			return nil, core.NewConfigError("identity.publicKeyPEM", err.Error())
		}
		v.method, v.key = jwt.SigningMethodRS256, key
	case conf.SharedSecret != "":
		v.method, v.key = jwt.SigningMethodHS256, []byte(conf.SharedSecret)
	default:
		return nil, core.NewConfigError("identity", "either publicKeyPEM or sharedSecret is required")
	}
	return v, nil
}

func (v *Verifier) keyFunc(token *jwt.Token) (interface{}, error) {
	if token.Method.Alg() != v.method.Alg() {
		return nil, errors.Errorf("unexpected signing method %s", token.Method.Alg())
	}
	return v.key, nil
}

// Verify returns the federated Principal carried by credential, or a *core.AuthError.
func (v *Verifier) Verify(credential string) (member.Principal, error) {
	claims := new(FederatedClaims)
	if _, err := jwt.ParseWithClaims(credential, claims, v.keyFunc); err != nil {
		return member.Principal{}, core.NewAuthError(err)
	}
	if claims.Subject == "" {
		return member.Principal{}, core.NewAuthError(errMissingSubject)
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return member.Principal{}, core.NewAuthError(errBadIssuer)
	}
	if v.audience != "" && !claims.VerifyAudience(v.audience, true) {
		return member.Principal{}, core.NewAuthError(errBadAudience)
	}
	return member.Principal{
		ID:          claims.Subject,
		Email:       core.CleanString(claims.Email, true /* lower */),
		DisplayName: core.CleanString(claims.Name),
	}, nil
}
