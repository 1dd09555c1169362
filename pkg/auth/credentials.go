package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dd0wney/cluso-graphclient/pkg/api"
)

// MetadataKey carries the bearer token in call metadata.
const MetadataKey = "authorization"

// TokenCredentials sends a fixed bearer token with every call.
type TokenCredentials struct {
	token string
}

// NewTokenCredentials wraps a pre-issued token.
func NewTokenCredentials(token string) *TokenCredentials {
	return &TokenCredentials{token: token}
}

func (c *TokenCredentials) RequestMetadata(context.Context) (map[string]string, error) {
	return map[string]string{MetadataKey: "Bearer " + c.token}, nil
}

// JWTCredentials mints tokens from a JWTManager and reuses each one until it
// is close to expiry.
type JWTCredentials struct {
	manager *JWTManager
	subject string
	role    string

	mu      sync.Mutex
	token   string
	renewAt time.Time
}

// NewJWTCredentials returns credentials for subject acting as role.
func NewJWTCredentials(m *JWTManager, subject, role string) *JWTCredentials {
	return &JWTCredentials{manager: m, subject: subject, role: role}
}

func (c *JWTCredentials) RequestMetadata(context.Context) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == "" || time.Now().After(c.renewAt) {
		token, err := c.manager.GenerateToken(c.subject, c.role)
		if err != nil {
			return nil, err
		}
		c.token = token
		c.renewAt = time.Now().Add(c.manager.tokenDuration / 2)
	}
	return map[string]string{MetadataKey: "Bearer " + c.token}, nil
}

// Verifier authorizes an incoming call from its metadata.
type Verifier interface {
	Verify(ctx context.Context, method api.Method) (*Claims, error)
}

// JWTVerifier checks bearer tokens and enforces the minimum role per method:
// readers may query, writers may mutate and commit, admins may alter.
type JWTVerifier struct {
	manager *JWTManager
}

// NewJWTVerifier returns a verifier backed by m.
func NewJWTVerifier(m *JWTManager) *JWTVerifier {
	return &JWTVerifier{manager: m}
}

// RequiredRole returns the minimum role for method.
func RequiredRole(method api.Method) string {
	switch method {
	case api.MethodAlter:
		return RoleAdmin
	case api.MethodMutate, api.MethodCommitOrAbort:
		return RoleWriter
	default:
		return RoleReader
	}
}

func (v *JWTVerifier) Verify(ctx context.Context, method api.Method) (*Claims, error) {
	md := api.IncomingMetadata(ctx)
	header := md[MetadataKey]
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return nil, api.WrapError(api.CodeUnauthenticated, ErrMissingToken, string(method))
	}

	claims, err := v.manager.ValidateToken(token)
	if err != nil {
		return nil, api.WrapError(api.CodeUnauthenticated, err, string(method))
	}
	if !claims.Allows(RequiredRole(method)) {
		return nil, api.WrapError(api.CodeUnauthenticated, ErrForbidden, string(method))
	}
	return claims, nil
}

var (
	_ api.Credentials = (*TokenCredentials)(nil)
	_ api.Credentials = (*JWTCredentials)(nil)
	_ Verifier        = (*JWTVerifier)(nil)
)
