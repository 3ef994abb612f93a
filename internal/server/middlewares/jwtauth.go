package middlewares

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/openmined/blobdispatch/internal/server/handlers/api"
)

const (
	bearerPrefix   = "Bearer "
	authHeader     = "Authorization"
	userContextKey = "user"
	tokenIssuer    = "blobdispatch"
)

// JWTAuth requires an HS256 bearer token signed with secret. An empty secret disables it.
func JWTAuth(secret string) gin.HandlerFunc {
	if secret == "" {
		slog.Info("auth middleware disabled")
		return func(ctx *gin.Context) {
			ctx.Next()
		}
	}
	slog.Info("auth middleware enabled")

	key := []byte(secret)
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)

	return func(ctx *gin.Context) {
		value := ctx.GetHeader(authHeader)
		if !strings.HasPrefix(value, bearerPrefix) {
			api.AbortWithError(ctx, http.StatusUnauthorized, api.CodeAccessDenied, errors.New("bearer token required"))
			return
		}

		var claims jwt.RegisteredClaims
		_, err := parser.ParseWithClaims(strings.TrimPrefix(value, bearerPrefix), &claims, func(*jwt.Token) (any, error) {
			return key, nil
		})
		if err != nil {
			api.AbortWithError(ctx, http.StatusUnauthorized, api.CodeAccessDenied, err)
			return
		}

		ctx.Set(userContextKey, claims.Subject)
		ctx.Next()
	}
}

// IssueToken signs a token for subject, valid for ttl
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return token.SignedString([]byte(secret))
}

// User returns the token subject of an authenticated request
func User(ctx *gin.Context) string {
	return ctx.GetString(userContextKey)
}
