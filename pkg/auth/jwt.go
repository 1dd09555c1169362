package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token has expired")
	ErrInvalidClaims = errors.New("invalid token claims")
	ErrEmptySubject  = errors.New("subject cannot be empty")
	ErrInvalidRole   = errors.New("invalid role")
	ErrShortSecret   = errors.New("secret must be at least 32 characters")
	ErrMissingToken  = errors.New("missing bearer token")
	ErrForbidden     = errors.New("role not permitted for this method")
)

// Roles, from least to most privileged
const (
	RoleReader = "reader"
	RoleWriter = "writer"
	RoleAdmin  = "admin"
)

var roleRank = map[string]int{
	RoleReader: 1,
	RoleWriter: 2,
	RoleAdmin:  3,
}

// Claims represents JWT claims
type Claims struct {
	Subject   string    `json:"sub"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
	IssuedAt  time.Time `json:"issued_at"`
}

// Allows reports whether the claims' role reaches at least role.
func (c *Claims) Allows(role string) bool {
	return roleRank[c.Role] >= roleRank[role]
}

// JWTManager issues and validates HS256 bearer tokens
type JWTManager struct {
	secretKey     []byte
	tokenDuration time.Duration
}

// NewJWTManager creates a new JWT manager.
// Returns an error if the secret is shorter than 32 characters.
func NewJWTManager(secret string, tokenDuration time.Duration) (*JWTManager, error) {
	if len(secret) < 32 {
		return nil, ErrShortSecret
	}

	return &JWTManager{
		secretKey:     []byte(secret),
		tokenDuration: tokenDuration,
	}, nil
}

// GenerateToken generates a signed token for subject with role
func (m *JWTManager) GenerateToken(subject, role string) (string, error) {
	if subject == "" {
		return "", ErrEmptySubject
	}
	if _, ok := roleRank[role]; !ok {
		return "", fmt.Errorf("%w: %s", ErrInvalidRole, role)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"exp":  now.Add(m.tokenDuration).Unix(),
		"iat":  now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(m.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateToken validates a token and returns its claims
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secretKey, nil
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

	claimsMap, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidClaims
	}

	subject, err := claimsMap.GetSubject()
	if err != nil || subject == "" {
		return nil, fmt.Errorf("%w: missing or invalid sub", ErrInvalidClaims)
	}
	role, ok := claimsMap["role"].(string)
	if !ok || roleRank[role] == 0 {
		return nil, fmt.Errorf("%w: missing or invalid role", ErrInvalidClaims)
	}
	exp, err := claimsMap.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, fmt.Errorf("%w: missing or invalid exp", ErrInvalidClaims)
	}
	iat, err := claimsMap.GetIssuedAt()
	if err != nil || iat == nil {
		return nil, fmt.Errorf("%w: missing or invalid iat", ErrInvalidClaims)
	}

	return &Claims{
		Subject:   subject,
		Role:      role,
		ExpiresAt: exp.Time,
		IssuedAt:  iat.Time,
	}, nil
}
