package service

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNotAdmin = errors.New("token does not carry the admin role")

// AdminAuthService validates bearer tokens minted by the external identity
// service. Issuing tokens is not this gateway's job.
type AdminAuthService struct {
	jwtSecret []byte
}

func NewAdminAuthService(secret string) *AdminAuthService {
	return &AdminAuthService{jwtSecret: []byte(secret)}
}

// Validates a JWT token and returns the claims
func (s *AdminAuthService) ValidateToken(tokenString string) (jwt.MapClaims, error) {
	if len(s.jwtSecret) == 0 {
		return nil, errors.New("admin API is disabled: no JWT secret configured")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Verifying signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithExpirationRequired())

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	if role, _ := claims["role"].(string); role != "admin" {
		return nil, ErrNotAdmin
	}

	return claims, nil
}
