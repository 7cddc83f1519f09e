package settlement

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"carbon-scribe/settlement-backend/internal/auth"
	"carbon-scribe/settlement-backend/internal/escrow"
	"carbon-scribe/settlement-backend/internal/finality"
	"carbon-scribe/settlement-backend/internal/marketplace"
	"carbon-scribe/settlement-backend/internal/mirror"
	"carbon-scribe/settlement-backend/internal/notifications/websocket"
	"carbon-scribe/settlement-backend/internal/registry"
	"carbon-scribe/settlement-backend/internal/reports/export"
	"carbon-scribe/settlement-backend/pkg/ledger"
)

// Handler handles HTTP requests for settlement workflows
type Handler struct {
	service *Service
	hub     *websocket.Manager
	logger  *zap.Logger
}

// NewHandler creates a new settlement handler. hub may be nil, which
// disables the event stream.
func NewHandler(service *Service, hub *websocket.Manager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, hub: hub, logger: logger}
}

// RegisterRoutes registers settlement routes. Every route requires a bearer
// token whose subject is the acting account.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup, issuer *auth.TokenIssuer) {
	rg := router.Group("", auth.Middleware(issuer))

	projects := rg.Group("/projects")
	{
		projects.POST("", h.submitProject)
		projects.POST("/review", h.reviewProject)
		projects.GET("/mine", h.myProjects)
		projects.GET("/pending", h.pendingProjects)
		projects.GET("/verifier-dashboard", h.verifierDashboard)
		projects.GET("/:id", h.getProject)
	}

	rg.POST("/tokens/associate", h.associateToken)

	credits := rg.Group("/credits")
	{
		credits.GET("/mine", h.myCredits)
		credits.GET("/:serial", h.getCredit)
		credits.POST("/:serial/deposit", h.depositCredit)
	}

	listings := rg.Group("/listings")
	{
		listings.POST("", h.listCredit)
		listings.GET("", h.listListings)
		listings.GET("/mine", h.myListings)
		listings.GET("/export", h.exportListings)
		listings.POST("/:serial/buy", h.buyCredit)
		listings.POST("/:serial/claim", h.claimProceeds)
		listings.POST("/:serial/withdraw", h.withdrawListing)
	}

	rg.POST("/marketplace/fees/withdraw", h.withdrawPlatformFees)
	rg.GET("/transactions/:id/record", h.getRecord)

	if h.hub != nil {
		rg.GET("/ws", h.events)
	}
}

// =====================================================
// Project Endpoints
// =====================================================

type submitProjectRequest struct {
	MetadataReference string `json:"metadata_reference" binding:"required"`
	Fee               string `json:"fee" binding:"required"`
}

// submitProject handles POST /api/v1/projects
func (h *Handler) submitProject(c *gin.Context) {
	var req submitProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	fee, ok := parseAmount(c, "fee", req.Fee)
	if !ok {
		return
	}

	res, err := h.service.SubmitProject(c.Request.Context(), h.actor(c), req.MetadataReference, fee)
	if err != nil {
		h.fail(c, "Failed to submit project", err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

type reviewProjectRequest struct {
	TransactionID string `json:"transaction_id"`
	ProjectID     uint64 `json:"project_id"`
	Approve       *bool  `json:"approve" binding:"required"`
}

// reviewProject handles POST /api/v1/projects/review
func (h *Handler) reviewProject(c *gin.Context) {
	var req reviewProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.service.ReviewProject(c.Request.Context(), h.actor(c), ReviewRequest{
		SubmissionTransactionID: req.TransactionID,
		ProjectID:               req.ProjectID,
		Approve:                 *req.Approve,
	})
	if err != nil {
		h.fail(c, "Failed to review project", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// getProject handles GET /api/v1/projects/:id
func (h *Handler) getProject(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project ID"})
		return
	}
	p, err := h.service.GetProject(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to get project", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// myProjects handles GET /api/v1/projects/mine
func (h *Handler) myProjects(c *gin.Context) {
	projects, err := h.service.MyProjects(c.Request.Context(), h.actor(c))
	if err != nil {
		h.fail(c, "Failed to list projects", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

// pendingProjects handles GET /api/v1/projects/pending
func (h *Handler) pendingProjects(c *gin.Context) {
	projects, err := h.service.PendingProjects(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to list pending projects", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

// verifierDashboard handles GET /api/v1/projects/verifier-dashboard
func (h *Handler) verifierDashboard(c *gin.Context) {
	dash, err := h.service.VerifierDashboard(c.Request.Context(), h.actor(c))
	if err != nil {
		h.fail(c, "Failed to load verifier dashboard", err)
		return
	}
	c.JSON(http.StatusOK, dash)
}

// =====================================================
// Credit Endpoints
// =====================================================

// associateToken handles POST /api/v1/tokens/associate
func (h *Handler) associateToken(c *gin.Context) {
	res, err := h.service.AssociateToken(c.Request.Context(), h.actor(c))
	if err != nil {
		h.fail(c, "Failed to associate token", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// depositCredit handles POST /api/v1/credits/:serial/deposit
func (h *Handler) depositCredit(c *gin.Context) {
	serial, ok := serialParam(c)
	if !ok {
		return
	}
	res, err := h.service.DepositCredit(c.Request.Context(), h.actor(c), serial)
	if err != nil {
		h.fail(c, "Failed to deposit credit", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// myCredits handles GET /api/v1/credits/mine
func (h *Handler) myCredits(c *gin.Context) {
	credits, err := h.service.MyCredits(c.Request.Context(), h.actor(c))
	if err != nil {
		h.fail(c, "Failed to list credits", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"credits": credits})
}

// getCredit handles GET /api/v1/credits/:serial
func (h *Handler) getCredit(c *gin.Context) {
	serial, ok := serialParam(c)
	if !ok {
		return
	}
	credit, err := h.service.GetCredit(c.Request.Context(), serial)
	if err != nil {
		h.fail(c, "Failed to get credit", err)
		return
	}
	c.JSON(http.StatusOK, credit)
}

// =====================================================
// Listing Endpoints
// =====================================================

type listCreditRequest struct {
	SerialNumber int64  `json:"serial_number" binding:"required"`
	Price        string `json:"price" binding:"required"`
	// Deposit transfers the credit into marketplace custody first
	Deposit bool `json:"deposit"`
}

// listCredit handles POST /api/v1/listings
func (h *Handler) listCredit(c *gin.Context) {
	var req listCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	price, ok := parseAmount(c, "price", req.Price)
	if !ok {
		return
	}

	list := h.service.ListCredit
	if req.Deposit {
		list = h.service.DepositAndList
	}
	res, err := list(c.Request.Context(), h.actor(c), req.SerialNumber, price)
	if err != nil {
		h.fail(c, "Failed to list credit", err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// listListings handles GET /api/v1/listings
func (h *Handler) listListings(c *gin.Context) {
	activeOnly := c.DefaultQuery("active", "true") != "false"
	listings, err := h.service.Listings(c.Request.Context(), activeOnly)
	if err != nil {
		h.fail(c, "Failed to list listings", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings})
}

// myListings handles GET /api/v1/listings/mine
func (h *Handler) myListings(c *gin.Context) {
	listings, err := h.service.MyListings(c.Request.Context(), h.actor(c))
	if err != nil {
		h.fail(c, "Failed to list listings", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings})
}

// exportListings handles GET /api/v1/listings/export
func (h *Handler) exportListings(c *gin.Context) {
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var seller ledger.AccountID
	if c.Query("scope") == "mine" {
		seller = h.actor(c)
	}

	statement, err := h.service.SalesStatement(c.Request.Context(), seller)
	if err != nil {
		h.fail(c, "Failed to build sales statement", err)
		return
	}

	filename := fmt.Sprintf("sales-statement-%s.%s", statement.GeneratedAt.Format("20060102-150405"), format)
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Header("Content-Type", format.ContentType())
	c.Status(http.StatusOK)
	if err := statement.Write(c.Writer, format); err != nil {
		h.logger.Error("Failed to write sales statement", zap.String("format", string(format)), zap.Error(err))
	}
}

type buyCreditRequest struct {
	Payment string `json:"payment" binding:"required"`
}

// buyCredit handles POST /api/v1/listings/:serial/buy
func (h *Handler) buyCredit(c *gin.Context) {
	serial, ok := serialParam(c)
	if !ok {
		return
	}
	var req buyCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	payment, ok := parseAmount(c, "payment", req.Payment)
	if !ok {
		return
	}

	res, err := h.service.BuyCredit(c.Request.Context(), h.actor(c), serial, payment)
	if err != nil {
		h.fail(c, "Failed to buy credit", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// claimProceeds handles POST /api/v1/listings/:serial/claim
func (h *Handler) claimProceeds(c *gin.Context) {
	serial, ok := serialParam(c)
	if !ok {
		return
	}
	res, err := h.service.ClaimProceeds(c.Request.Context(), h.actor(c), serial)
	if err != nil {
		h.fail(c, "Failed to claim proceeds", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transaction_id": res.TransactionID,
		"serial_number":  res.SerialNumber,
		"amount":         ledger.FormatHbar(res.Amount),
	})
}

// withdrawListing handles POST /api/v1/listings/:serial/withdraw
func (h *Handler) withdrawListing(c *gin.Context) {
	serial, ok := serialParam(c)
	if !ok {
		return
	}
	res, err := h.service.WithdrawListing(c.Request.Context(), h.actor(c), serial)
	if err != nil {
		h.fail(c, "Failed to withdraw listing", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// withdrawPlatformFees handles POST /api/v1/marketplace/fees/withdraw
func (h *Handler) withdrawPlatformFees(c *gin.Context) {
	res, err := h.service.WithdrawPlatformFees(c.Request.Context(), h.actor(c))
	if err != nil {
		h.fail(c, "Failed to withdraw platform fees", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transaction_id": res.TransactionID,
		"amount":         ledger.FormatHbar(res.Amount),
	})
}

// =====================================================
// Ledger Endpoints
// =====================================================

// getRecord handles GET /api/v1/transactions/:id/record
func (h *Handler) getRecord(c *gin.Context) {
	rec, err := h.service.ResolveRecord(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Failed to resolve transaction record", err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// events handles GET /api/v1/ws
func (h *Handler) events(c *gin.Context) {
	if _, err := h.hub.HandleConnection(c.Writer, c.Request, h.actor(c).String()); err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
	}
}

// =====================================================
// Helpers
// =====================================================

func (h *Handler) actor(c *gin.Context) ledger.AccountID {
	account, _ := auth.AccountFrom(c)
	return account
}

func serialParam(c *gin.Context) (int64, bool) {
	serial, err := strconv.ParseInt(c.Param("serial"), 10, 64)
	if err != nil || serial <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid serial number"})
		return 0, false
	}
	return serial, true
}

// parseAmount converts an HBAR decimal string into tinybars
func parseAmount(c *gin.Context, field, raw string) (int64, bool) {
	v, err := ledger.ParseHbar(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s: %v", field, err)})
		return 0, false
	}
	return v, true
}

// fail maps a workflow error to a response. Revert reasons are passed
// through verbatim.
func (h *Handler) fail(c *gin.Context, msg string, err error) {
	status := StatusCode(err)
	body := gin.H{"error": err.Error()}

	var pe *PhaseError
	if errors.As(err, &pe) {
		body["phase"] = pe.Phase
		body["step"] = pe.Step
		if pe.TransactionID != "" {
			body["transaction_id"] = pe.TransactionID
		}
	}
	if reason, ok := ledger.RevertReason(err); ok {
		body["reason"] = reason
	}
	var rerr *finality.ResolutionError
	if errors.As(err, &rerr) {
		body["transaction_id"] = rerr.TransactionID
		body["attempts"] = rerr.Attempts
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.Int("status", status), zap.Error(err))
	} else {
		h.logger.Info(msg, zap.Int("status", status), zap.Error(err))
	}
	c.JSON(status, body)
}

var (
	forbiddenReverts = []error{
		escrow.ErrNotAdmin,
		escrow.ErrNotVerifier,
		marketplace.ErrNotAdmin,
		marketplace.ErrNotSeller,
		marketplace.ErrNotFeeRecipient,
		registry.ErrNotCreditOwner,
		registry.ErrNotMintingAuthority,
	}
	invalidReverts = []error{
		escrow.ErrFeeBelowMinimum,
		escrow.ErrFeeMismatch,
		marketplace.ErrInvalidPrice,
		marketplace.ErrPaymentMismatch,
		marketplace.ErrInsufficientPayment,
		marketplace.ErrSellerCannotBuy,
	}
	notFoundReverts = []error{
		escrow.ErrUnknownProject,
		marketplace.ErrListingNotFound,
		registry.ErrUnknownSerial,
	}
)

// StatusCode maps a settlement error to an HTTP status: 400 validation,
// 403 authorization, 404 unknown entity, 409 state conflict, 504 accepted but
// unconfirmed, 500 otherwise
func StatusCode(err error) int {
	if phase, ok := FailedPhase(err); ok && phase == PhaseConfirmation {
		// a submission that was itself rejected is reported by its revert
		if !errors.Is(err, ledger.ErrMalformedTransactionID) {
			return http.StatusGatewayTimeout
		}
	}

	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ledger.ErrMalformedTransactionID):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound), errors.Is(err, mirror.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, finality.ErrRecordUnavailable):
		return http.StatusGatewayTimeout
	}
	if matchesAny(err, forbiddenReverts) {
		return http.StatusForbidden
	}
	if matchesAny(err, invalidReverts) {
		return http.StatusBadRequest
	}
	if matchesAny(err, notFoundReverts) {
		return http.StatusNotFound
	}

	var se *ledger.StatusError
	if errors.As(err, &se) {
		switch se.Status {
		case ledger.StatusInsufficientPayerBalance, ledger.StatusInvalidAccountID:
			return http.StatusBadRequest
		}
		if se.Transient() {
			return http.StatusGatewayTimeout
		}
	}
	var re *ledger.RevertError
	if errors.As(err, &re) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func matchesAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
