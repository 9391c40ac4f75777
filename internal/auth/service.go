package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingCredential = errors.New("credential is missing")
	ErrInvalidCredential = errors.New("credential is invalid")
	ErrExpiredCredential = errors.New("credential has expired")
	ErrMissingSubject    = errors.New("credential has no subject")
)

// AuthError is returned by Verify; the connection attempt must be refused.
type AuthError struct {
	Err   error
	Cause error
}

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("authentication failed: %s: %s", e.Err, e.Cause)
	}
	return fmt.Sprintf("authentication failed: %s", e.Err)
}

func (e *AuthError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

// Claims is the identity produced by a verified credential.
type Claims struct {
	SubjectID string
	Username  string
	Email     string
	Role      string
	ExpiresAt time.Time
}

type tokenClaims struct {
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// IdentityGate verifies HS256 tokens signed with a shared secret. It holds no
// mutable state and is safe for concurrent use.
type IdentityGate struct {
	secret []byte
	parser *jwt.Parser
}

func NewIdentityGate(secret string) *IdentityGate {
	return &IdentityGate{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name, jwt.SigningMethodHS384.Name, jwt.SigningMethodHS512.Name}),
			jwt.WithExpirationRequired(),
		),
	}
}

func (g *IdentityGate) Verify(credential string) (*Claims, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, &AuthError{Err: ErrMissingCredential}
	}

	var tc tokenClaims
	token, err := g.parser.ParseWithClaims(credential, &tc, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return g.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, &AuthError{Err: ErrExpiredCredential, Cause: err}
		}
		return nil, &AuthError{Err: ErrInvalidCredential, Cause: err}
	}
	if !token.Valid {
		return nil, &AuthError{Err: ErrInvalidCredential}
	}

	subject := tc.Subject
	if subject == "" {
		subject = tc.UserID
	}
	if subject == "" {
		return nil, &AuthError{Err: ErrMissingSubject}
	}

	claims := &Claims{
		SubjectID: subject,
		Username:  tc.Username,
		Email:     tc.Email,
		Role:      tc.Role,
	}
	if tc.ExpiresAt != nil {
		claims.ExpiresAt = tc.ExpiresAt.Time
	}
	return claims, nil
}

// TokenOptions carries the optional display attributes of a minted token.
type TokenOptions struct {
	Username string
	Email    string
	Role     string
	TTL      time.Duration
}

// GenerateToken mints a token Verify accepts. Used by the dev client and tests.
func (g *IdentityGate) GenerateToken(subjectID string, opts TokenOptions) (string, error) {
	ttl := opts.TTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	now := time.Now()
	claims := tokenClaims{
		UserID:   subjectID,
		Username: opts.Username,
		Email:    opts.Email,
		Role:     opts.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(g.secret)
}
