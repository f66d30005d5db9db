package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// JWTMiddleware guards the operator introspection endpoints. Member-facing
// traffic is never authenticated this way; the only user-level gate is the
// authorized-group allow-list enforced by the presence service.
type JWTMiddleware struct {
	secretKey string
	issuer    string
}

// NewJWTMiddleware creates a new JWT middleware
func NewJWTMiddleware(secretKey, issuer string) *JWTMiddleware {
	return &JWTMiddleware{
		secretKey: secretKey,
		issuer:    issuer,
	}
}

// Authenticate is a middleware that requires a valid bearer token
func (m *JWTMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := m.validateToken(r); err != nil {
			m.writeUnauthorizedResponse(w, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// validateToken extracts and validates the JWT token from the request
func (m *JWTMiddleware) validateToken(r *http.Request) (*jwt.Token, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, fmt.Errorf("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, fmt.Errorf("invalid authorization header format")
	}

	tokenString := parts[1]
	if tokenString == "" {
		return nil, fmt.Errorf("missing token")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.secretKey), nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	if m.issuer != "" {
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return nil, fmt.Errorf("invalid token claims")
		}
		issuer, ok := claims["iss"].(string)
		if !ok || issuer != m.issuer {
			return nil, fmt.Errorf("invalid token issuer")
		}
	}

	return token, nil
}

// writeUnauthorizedResponse writes an unauthorized error response
func (m *JWTMiddleware) writeUnauthorizedResponse(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)

	response := map[string]interface{}{
		"success": false,
		"error":   message,
	}

	json.NewEncoder(w).Encode(response)
}
