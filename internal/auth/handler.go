package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"carbon-scribe/settlement-backend/pkg/ledger"
)

// AccountLookup reports whether an account exists on the ledger
type AccountLookup interface {
	Balance(account ledger.AccountID) (int64, error)
}

type Handler struct {
	issuer   *TokenIssuer
	accounts AccountLookup
	logger   *zap.Logger
	// devTokens enables POST /auth/token, which issues a token for any
	// existing account without a wallet signature
	devTokens bool
}

func NewHandler(issuer *TokenIssuer, accounts AccountLookup, devTokens bool, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{issuer: issuer, accounts: accounts, devTokens: devTokens, logger: logger}
}

// Ping endpoint
func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "auth service alive!"})
}

type tokenRequest struct {
	AccountID string `json:"account_id" binding:"required"`
}

// Token handles POST /auth/token
func (h *Handler) Token(c *gin.Context) {
	if !h.devTokens {
		c.JSON(http.StatusNotFound, gin.H{"error": "token issuing is disabled"})
		return
	}
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	account, err := ledger.ParseAccountID(req.AccountID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := h.accounts.Balance(account); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	token, expires, err := h.issuer.Issue(account)
	if err != nil {
		h.logger.Error("Failed to issue token", zap.String("account_id", account.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_at":   expires,
	})
}

// Me handles GET /auth/me
func (h *Handler) Me(c *gin.Context) {
	account, ok := AccountFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": ErrMissingToken.Error()})
		return
	}
	balance, err := h.accounts.Balance(account)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account_id":   account,
		"balance":      balance,
		"balance_hbar": ledger.FormatHbar(balance),
	})
}
