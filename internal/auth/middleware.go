package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"carbon-scribe/settlement-backend/pkg/ledger"
)

const accountKey = "account_id"

// Middleware requires a valid bearer token and stores the acting account in
// the request context
func Middleware(issuer *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrMissingToken.Error()})
			return
		}
		account, err := issuer.Verify(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(accountKey, account)
		c.Next()
	}
}

// bearerToken reads the Authorization header, or the access_token query
// parameter for websocket upgrades
func bearerToken(c *gin.Context) (string, bool) {
	if h := c.GetHeader("Authorization"); h != "" {
		const prefix = "Bearer "
		if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
			return strings.TrimSpace(h[len(prefix):]), true
		}
		return "", false
	}
	if q := c.Query("access_token"); q != "" {
		return q, true
	}
	return "", false
}

// AccountFrom returns the account set by Middleware
func AccountFrom(c *gin.Context) (ledger.AccountID, bool) {
	v, ok := c.Get(accountKey)
	if !ok {
		return "", false
	}
	account, ok := v.(ledger.AccountID)
	return account, ok
}
