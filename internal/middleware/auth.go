package middleware

import (
	stderrors "errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/jwalitptl/epts-reports/pkg/errors"
	"github.com/jwalitptl/epts-reports/pkg/httputil"
)

const ContextSubject = "subject"

type AuthConfig struct {
	Secret []byte
	// Issuer is checked against the iss claim when set.
	Issuer string
}

type AuthMiddleware struct {
	config AuthConfig
	parser *jwt.Parser
}

func NewAuthMiddleware(config AuthConfig) *AuthMiddleware {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	return &AuthMiddleware{config: config, parser: jwt.NewParser(opts...)}
}

// Authenticate requires an HS256 bearer token and stores its subject in the context.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			httputil.RespondWithError(c, errors.Unauthorized(stderrors.New("missing authorization header")))
			return
		}

		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			httputil.RespondWithError(c, errors.Unauthorized(stderrors.New("invalid authorization format")))
			return
		}

		claims := &jwt.RegisteredClaims{}
		if _, err := m.parser.ParseWithClaims(token, claims, m.key); err != nil {
			httputil.RespondWithError(c, errors.Unauthorized(err))
			return
		}

		c.Set(ContextSubject, claims.Subject)
		c.Next()
	}
}

func (m *AuthMiddleware) key(*jwt.Token) (interface{}, error) {
	return m.config.Secret, nil
}
