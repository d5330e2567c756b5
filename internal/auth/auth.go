// Package auth guards the operator endpoints. A request is let through when
// it comes from a trusted subnet or carries a valid operator JWT in the
// Authorization header.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/olly-social/olly/internal/logger"
	"github.com/olly-social/olly/internal/models"
)

const operatorIssuer = "olly"

var ErrInvalidTokenOrJwtParsing = errors.New("invalid operator token")

type subnetChecker interface {
	Trusts(request *http.Request) bool
}

type Auth struct {
	subnets    subnetChecker
	signingKey []byte
	now        func() time.Time
}

// Claims represents the JWT claims of an operator token.
type Claims struct {
	jwt.RegisteredClaims
	Operator string `json:"operator"`
}

// ContextKey is a custom type for storing values in context to avoid collisions.
type ContextKey string

// OperatorKey holds the operator name of an authenticated request. Requests
// admitted by subnet carry the client address instead.
const OperatorKey ContextKey = "operator"

func New(subnets subnetChecker, signingKey []byte) *Auth {
	return &Auth{
		subnets:    subnets,
		signingKey: signingKey,
		now:        time.Now,
	}
}

// AuthenticateOperator is an HTTP middleware rejecting requests that are
// neither from a trusted subnet nor signed by the operator key.
func (a *Auth) AuthenticateOperator(h http.Handler) http.Handler {
	middleware := func(response http.ResponseWriter, request *http.Request) {
		if a.subnets != nil && a.subnets.Trusts(request) {
			ctx := context.WithValue(request.Context(), OperatorKey, "subnet:"+request.RemoteAddr)
			h.ServeHTTP(response, request.WithContext(ctx))

			return
		}

		tokenString := bearerToken(request)
		if tokenString == "" {
			writeError(response, http.StatusForbidden, "Forbidden")

			return
		}

		operator, err := a.OperatorFromToken(tokenString)
		if err != nil {
			logger.Log.Debugln("Error calling the `a.OperatorFromToken()`: ", zap.Error(err))
			writeError(response, http.StatusUnauthorized, "Unauthorized")

			return
		}

		ctx := context.WithValue(request.Context(), OperatorKey, operator)
		h.ServeHTTP(response, request.WithContext(ctx))
	}

	return http.HandlerFunc(middleware)
}

// BuildOperatorToken signs a token for operator valid for ttl.
func (a *Auth) BuildOperatorToken(operator string, ttl time.Duration) (string, error) {
	if len(a.signingKey) == 0 {
		return "", errors.New("operator signing key is not configured")
	}

	now := a.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    operatorIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Operator: operator,
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.signingKey)
	if err != nil {
		return "", fmt.Errorf("in internal/auth/auth.go/BuildOperatorToken(): error while `token.SignedString()` calling: %w", err)
	}

	return tokenString, nil
}

// OperatorFromToken returns the operator of a valid token.
func (a *Auth) OperatorFromToken(tokenString string) (string, error) {
	if len(a.signingKey) == 0 {
		return "", ErrInvalidTokenOrJwtParsing
	}

	claims := &Claims{}
	parser := jwt.Parser{}
	token, err := parser.ParseWithClaims(
		tokenString,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return a.signingKey, nil
		},
	)
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidTokenOrJwtParsing, err)
	}
	if claims.Issuer != operatorIssuer || claims.Operator == "" {
		return "", ErrInvalidTokenOrJwtParsing
	}

	return claims.Operator, nil
}

func bearerToken(request *http.Request) string {
	header := strings.TrimSpace(request.Header.Get("Authorization"))
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}

	return header
}

func writeError(response http.ResponseWriter, status int, message string) {
	response.Header().Set("Content-Type", "application/json")
	response.WriteHeader(status)
	_ = json.NewEncoder(response).Encode(models.ErrorResponse{Error: message})
}
