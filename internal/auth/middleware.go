package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	TokenQueryParam   = "token"
	TokenCookie       = "token"
	OperatorKeyHeader = "X-Operator-Key"
)

// CredentialFromRequest returns the credential presented on an upgrade
// request: the token query parameter, then a bearer Authorization header,
// then the token cookie.
func CredentialFromRequest(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get(TokenQueryParam)); token != "" {
		return token
	}

	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		if !found {
			return header
		}
	}

	if cookie, err := r.Cookie(TokenCookie); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

type OperatorMiddleware struct {
	keyHash string
}

// NewOperatorMiddleware guards operator endpoints with a bcrypt-hashed key.
// An empty hash leaves them open.
func NewOperatorMiddleware(keyHash string) *OperatorMiddleware {
	return &OperatorMiddleware{keyHash: keyHash}
}

func (om *OperatorMiddleware) RequireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		if om.keyHash == "" {
			c.Next()
			return
		}

		key := c.GetHeader(OperatorKeyHeader)
		if key == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Operator key is missing"})
			c.Abort()
			return
		}

		if !VerifyHashedString(key, om.keyHash) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Invalid operator key"})
			c.Abort()
			return
		}

		c.Next()
	}
}
