package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/briefly60/payment-service/pkg/logger"
	"github.com/briefly60/payment-service/pkg/res"
)

// ContextKey is a typed key for gin context values
type ContextKey string

const (
	// ContextUserIDKey holds the authenticated user's id in the gin context.
	ContextUserIDKey ContextKey = "userID"
	// ContextUserEmailKey holds the authenticated user's email.
	ContextUserEmailKey ContextKey = "userEmail"
	// ContextUserRoleKey holds the authenticated user's role.
	ContextUserRoleKey ContextKey = "userRole"

	authHeaderPrefix = "Bearer "
)

// TokenValidator verifies a bearer token and returns its claims
type TokenValidator interface {
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims are the claims issued by the platform's auth service
type TokenClaims struct {
	UserEmail string `json:"email"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// JWTMiddleware guards routes that require an authenticated user
type JWTMiddleware struct {
	log       *logger.Logger
	validator TokenValidator
}

// NewJWTMiddleware creates the auth middleware
func NewJWTMiddleware(validator TokenValidator, log *logger.Logger) *JWTMiddleware {
	return &JWTMiddleware{
		log:       log,
		validator: validator,
	}
}

// RequireAuth validates the bearer token and, when roles are given, requires
// one of them.
func (m *JWTMiddleware) RequireAuth(requiredRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			m.handleAuthError(c, "Missing authorization token")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, authHeaderPrefix)
		claims, err := m.validator.Validate(tokenString)
		if err != nil {
			m.handleAuthError(c, fmt.Sprintf("Token validation failed: %v", err))
			return
		}

		if len(requiredRoles) > 0 && !hasRequiredRole(claims.Role, requiredRoles) {
			m.handleAuthError(c, "Insufficient permissions")
			return
		}

		userID := claims.Subject
		if userID == "" {
			m.handleAuthError(c, "User ID (sub) missing in token")
			return
		}

		c.Set(string(ContextUserIDKey), userID)
		c.Set(string(ContextUserEmailKey), claims.UserEmail)
		c.Set(string(ContextUserRoleKey), claims.Role)
		m.log.Debugw("User authenticated", "userID", userID, "path", c.Request.URL.Path)
		c.Next()
	}
}

func hasRequiredRole(tokenRole string, requiredRoles []string) bool {
	for _, role := range requiredRoles {
		if tokenRole == role {
			return true
		}
	}
	return false
}

func (m *JWTMiddleware) handleAuthError(c *gin.Context, message string) {
	m.log.Warnw("Authentication failed", "path", c.Request.URL.Path, "reason", message)
	res.Error(c.Writer, message, http.StatusUnauthorized)
	c.Abort()
}

// DefaultTokenValidator validates HMAC-signed tokens with a shared secret
type DefaultTokenValidator struct {
	Secret []byte
}

// Validate parses and verifies the token string
func (v *DefaultTokenValidator) Validate(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.Secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, errors.New("malformed token")
		} else if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, errors.New("invalid token signature")
		} else if errors.Is(err, jwt.ErrTokenExpired) || errors.Is(err, jwt.ErrTokenNotValidYet) {
			return nil, errors.New("token expired")
		}
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	if claims, ok := token.Claims.(*TokenClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token claims")
}
