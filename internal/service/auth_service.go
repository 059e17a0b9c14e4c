package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stemsi/exstem-portal/internal/apiclient"
	"github.com/stemsi/exstem-portal/internal/config"
	"github.com/stemsi/exstem-portal/internal/model"
)

// Common auth errors.
var (
	ErrInvalidToken = errors.New("invalid token")
)

// TokenType distinguishes student vs admin tokens.
type TokenType string

const (
	TokenTypeStudent TokenType = "student"
	TokenTypeAdmin   TokenType = "admin"
)

// Claims mirrors the claims the backend signs into its tokens.
type Claims struct {
	jwt.RegisteredClaims
	TokenType TokenType `json:"token_type,omitempty"`
	UserID    int       `json:"user_id"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email,omitempty"`
	Role      string    `json:"role,omitempty"`
}

// IsStudent reports whether the token may take exams. Tokens without a type or
// role are treated as student tokens.
func (c *Claims) IsStudent() bool {
	if c.TokenType == TokenTypeAdmin || c.Role == "admin" {
		return false
	}
	return true
}

// AuthService reads backend-issued tokens and proxies logins.
type AuthService struct {
	cfg *config.Config
	api *apiclient.Client
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config, api *apiclient.Client) *AuthService {
	return &AuthService{cfg: cfg, api: api}
}

// Login forwards the credentials to the backend and returns its token.
func (s *AuthService) Login(ctx context.Context, req *model.LoginRequest) (*model.LoginResult, error) {
	res, err := s.api.Login(ctx, req.Email, req.Password)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return res, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	// Some issuers only set sub.
	if claims.UserID == 0 && claims.Subject != "" {
		id, err := strconv.Atoi(claims.Subject)
		if err != nil {
			return nil, fmt.Errorf("%w: subject %q is not a user id", ErrInvalidToken, claims.Subject)
		}
		claims.UserID = id
	}
	if claims.UserID <= 0 {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidToken)
	}

	return claims, nil
}
