// ABOUTME: JWT minting and verification for operator API tokens
// ABOUTME: Uses HS256 signing with a configurable secret

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// Operator roles.
const (
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// Operator is the identity carried by a verified token.
type Operator struct {
	ID   string // stable identifier, usually an email address
	Name string // display name shown to end users in greetings
	Role string // RoleOperator or RoleAdmin
}

// TokenVerifier verifies a bearer token and returns the operator it
// was minted for.
type TokenVerifier interface {
	Verify(tokenString string) (*Operator, error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("empty JWT secret")
	}
	return &JWTVerifier{secret: secret}, nil
}

// Verify validates the token and extracts the operator identity from
// the sub, name, and role claims.
func (v *JWTVerifier) Verify(tokenString string) (*Operator, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	op := &Operator{ID: sub, Role: RoleOperator}
	if name, ok := claims["name"].(string); ok {
		op.Name = name
	}
	if role, ok := claims["role"].(string); ok && role != "" {
		op.Role = role
	}
	return op, nil
}

// Generate mints a token for the operator with the given lifetime.
func (v *JWTVerifier) Generate(op Operator, expiresIn time.Duration) (string, error) {
	if op.ID == "" {
		return "", errors.New("operator ID is required")
	}
	role := op.Role
	if role == "" {
		role = RoleOperator
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  op.ID,
		"name": op.Name,
		"role": role,
		"iat":  now.Unix(),
		"exp":  now.Add(expiresIn).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
