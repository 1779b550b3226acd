package handlers

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

var errInvalidCredentials = errors.New("invalid credentials")

// AdminAuth issues a bearer token to the configured operator account.
// Logging in again replaces the previous token.
type AdminAuth struct {
	user string
	pass string

	mu    sync.RWMutex
	token string
}

// NewAdminAuth creates the authenticator. With an empty user or password
// every login is refused.
func NewAdminAuth(user, pass string) *AdminAuth {
	return &AdminAuth{user: user, pass: pass}
}

func (a *AdminAuth) Login(user, pass string) (string, error) {
	if a.user == "" || a.pass == "" {
		return "", errInvalidCredentials
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(a.user)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(a.pass)) == 1
	if !userOK || !passOK {
		return "", errInvalidCredentials
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = uuid.NewString()
	return a.token, nil
}

func (a *AdminAuth) Validate(token string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return token != "" && a.token != "" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) == 1
}

// AdminOnly rejects requests without the current bearer token.
func (a *AdminAuth) AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !a.Validate(token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED", "message": "admin login required"})
			return
		}
		c.Next()
	}
}
