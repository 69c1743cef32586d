package echoapi

import (
	"net/http"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/memberhub/core"
	"github.com/trezcool/memberhub/core/member"
	"github.com/trezcool/memberhub/services/identity"
)

const tokenContextKey = "userToken"

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.StandardClaims
	Email       string `json:"email,omitempty"`
	Name        string `json:"name,omitempty"`
	IsAnonymous bool   `json:"is_anonymous,omitempty"`
}

func (c Claims) Principal() member.Principal {
	return member.Principal{
		ID:          c.Subject,
		Email:       c.Email,
		DisplayName: c.Name,
		IsAnonymous: c.IsAnonymous,
	}
}

func NewClaims(conf *core.Config, p member.Principal) *Claims {
	now := time.Now()
	return &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    conf.AppName,
			Subject:   p.ID,
			ExpiresAt: now.Add(conf.Server.TokenTTL).Unix(),
			IssuedAt:  now.Unix(),
		},
		Email:       p.Email,
		Name:        p.DisplayName,
		IsAnonymous: p.IsAnonymous,
	}
}

// GenerateToken generates a signed JWT token string representing the principal.
func GenerateToken(conf *core.Config, p member.Principal) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, NewClaims(conf, p))
	ss, err := token.SignedString([]byte(conf.SecretKey))
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

type auth struct {
	conf     *core.Config
	verifier *identity.Verifier
	// header is the default JWT middleware, query reads the token from `?token=` for EventSource clients.
	header echo.MiddlewareFunc
	query  echo.MiddlewareFunc
}

func newAuth(conf *core.Config, verifier *identity.Verifier) *auth {
	jwtConfig := func(lookup string) middleware.JWTConfig {
		return middleware.JWTConfig{
			SigningKey:    []byte(conf.SecretKey),
			SigningMethod: middleware.AlgorithmHS256,
			ContextKey:    tokenContextKey,
			Claims:        new(Claims),
			TokenLookup:   lookup,
		}
	}
	return &auth{
		conf:     conf,
		verifier: verifier,
		header:   middleware.JWTWithConfig(jwtConfig("header:" + echo.HeaderAuthorization)),
		query:    middleware.JWTWithConfig(jwtConfig("query:token")),
	}
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(tokenContextKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

func getContextPrincipal(ctx echo.Context) (member.Principal, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return member.Principal{}, err
	}
	return claims.Principal(), nil
}

func registerAuthAPI(g *echo.Group, a *auth) {
	ag := g.Group("/auth")
	ag.POST("/federated", a.signInFederated)
	ag.POST("/anonymous", a.signInAnonymous)
}

type (
	FederatedSignInRequest struct {
		Credential string `json:"credential"`
	}

	TokenResponse struct {
		Token     string           `json:"token"`
		Principal member.Principal `json:"principal"`
	}
)

func (a *auth) respondWithToken(ctx echo.Context, p member.Principal) error {
	token, err := GenerateToken(a.conf, p)
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	return ctx.JSON(http.StatusOK, TokenResponse{Token: token, Principal: p})
}

func (a *auth) signInFederated(ctx echo.Context) error {
	var data FederatedSignInRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to FederatedSignInRequest")
	}
	if core.CleanString(data.Credential) == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "credential", Error: "credential is required"})
	}

	p, err := a.verifier.Verify(data.Credential)
	if err != nil {
		return err
	}
	return a.respondWithToken(ctx, p)
}

func (a *auth) signInAnonymous(ctx echo.Context) error {
	return a.respondWithToken(ctx, member.Principal{ID: uuid.NewString(), IsAnonymous: true})
}
