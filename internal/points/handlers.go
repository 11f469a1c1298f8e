package points

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/muhammad-febriansyah/karrirconnect-sub005/internal/logging"
)

// Handler provides HTTP endpoints for point operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new points handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up company-facing points routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/companies/:id/purchases", h.InitiatePurchase)
	r.GET("/purchases/:reference", h.GetPurchase)
	r.POST("/purchases/:reference/sync", h.SyncPurchase)
	r.POST("/companies/:id/debits", h.DebitForUsage)
	r.GET("/companies/:id/balance", h.GetBalance)
	r.GET("/companies/:id/transactions", h.History)
}

// RegisterWebhookRoutes sets up the payment notification endpoint. It lives
// outside the authenticated group: the gateway signs its own payloads.
func (h *Handler) RegisterWebhookRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/payment", h.PaymentNotification)
}

// RegisterAdminRoutes sets up admin-only adjustment routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/companies/:id/bonus", h.GrantBonus)
	r.POST("/transactions/:id/refund", h.RefundTransaction)
	r.POST("/companies/:id/expire", h.ExpirePoints)
	r.GET("/companies/:id/audit", h.Audit)
}

type purchaseRequest struct {
	PackageID string `json:"packageId" binding:"required"`
}

// InitiatePurchase handles POST /v1/companies/:id/purchases
func (h *Handler) InitiatePurchase(c *gin.Context) {
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "packageId is required",
		})
		return
	}

	handle, err := h.service.InitiatePurchase(c.Request.Context(), c.Param("id"), req.PackageID)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		switch {
		case errors.Is(err, ErrPackageUnavailable):
			status = http.StatusNotFound
			code = "package_unavailable"
		case errors.Is(err, ErrCompanyNotFound):
			status = http.StatusNotFound
			code = "company_not_found"
		case errors.Is(err, ErrPaymentInitiationFailed):
			status = http.StatusBadGateway
			code = "payment_initiation_failed"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"purchase": handle})
}

// GetPurchase handles GET /v1/purchases/:reference
func (h *Handler) GetPurchase(c *gin.Context) {
	txn, err := h.service.GetPurchase(c.Request.Context(), c.Param("reference"))
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No transaction with this reference",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": txn})
}

// SyncPurchase handles POST /v1/purchases/:reference/sync
func (h *Handler) SyncPurchase(c *gin.Context) {
	txn, result, err := h.service.SyncPurchase(c.Request.Context(), c.Param("reference"))
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No transaction with this reference",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": txn, "reconciliation": result})
}

// PaymentNotification handles POST /v1/webhooks/payment
//
// The gateway retries on non-2xx, so every decision the reconciler can make
// on its own is acknowledged with 200, including payloads that fail
// signature verification: a misconfigured key would otherwise turn every
// legitimate delivery into a redelivery storm. Only internal failures get
// 5xx, where a retry can actually succeed.
func (h *Handler) PaymentNotification(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "unreadable payload"})
		return
	}
	signature := c.GetHeader("Stripe-Signature")

	result, err := h.service.HandleNotification(c.Request.Context(), payload, signature)
	if err != nil {
		if errors.Is(err, ErrUntrustedNotification) {
			logging.L(c.Request.Context()).Warn("untrusted payment notification acknowledged", "error", err)
			c.JSON(http.StatusOK, gin.H{"reconciliation": &ReconciliationResult{
				Outcome: OutcomeRejected,
				Reason:  "signature verification failed",
			}})
			return
		}
		logging.L(c.Request.Context()).Error("notification processing failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "notification processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"reconciliation": result})
}

type debitRequest struct {
	ReferenceKind string `json:"referenceKind" binding:"required"`
	ReferenceID   string `json:"referenceId" binding:"required"`
	Description   string `json:"description"`
}

// DebitForUsage handles POST /v1/companies/:id/debits
func (h *Handler) DebitForUsage(c *gin.Context) {
	var req debitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "referenceKind and referenceId are required",
		})
		return
	}

	txn, err := h.service.DebitForUsage(c.Request.Context(), c.Param("id"), req.ReferenceKind, req.ReferenceID, req.Description)
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientBalance):
			c.JSON(http.StatusPaymentRequired, gin.H{
				"error":   "insufficient_balance",
				"message": "Not enough points for this action",
			})
		case errors.Is(err, ErrCompanyNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "company_not_found", "message": err.Error()})
		case errors.Is(err, ErrDuplicateReference):
			c.JSON(http.StatusConflict, gin.H{"error": "duplicate_reference", "message": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"transaction": txn})
}

// GetBalance handles GET /v1/companies/:id/balance
func (h *Handler) GetBalance(c *gin.Context) {
	points, err := h.service.CurrentBalance(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"companyId": c.Param("id"), "points": points})
}

// History handles GET /v1/companies/:id/transactions
func (h *Handler) History(c *gin.Context) {
	f := HistoryFilter{
		Kind:   Kind(c.Query("kind")),
		Status: Status(c.Query("status")),
		Cursor: c.Query("cursor"),
	}
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil {
			f.Limit = parsed
		}
	}

	txns, next, err := h.service.History(c.Request.Context(), c.Param("id"), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}

	resp := gin.H{"transactions": txns, "count": len(txns)}
	if next != "" {
		resp["nextCursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

type bonusRequest struct {
	Points      int    `json:"points" binding:"required"`
	Description string `json:"description"`
}

// GrantBonus handles POST /v1/admin/companies/:id/bonus
func (h *Handler) GrantBonus(c *gin.Context) {
	var req bonusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "points is required"})
		return
	}

	txn, err := h.service.GrantBonus(c.Request.Context(), c.Param("id"), req.Points, req.Description)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidPoints):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_points", "message": err.Error()})
		case errors.Is(err, ErrCompanyNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "company_not_found", "message": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{"transaction": txn})
}

type refundRequest struct {
	Reason string `json:"reason"`
}

// RefundTransaction handles POST /v1/admin/transactions/:id/refund
func (h *Handler) RefundTransaction(c *gin.Context) {
	var req refundRequest
	_ = c.ShouldBindJSON(&req)

	txn, err := h.service.RefundTransaction(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, ErrTransactionNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
		case errors.Is(err, ErrDuplicateReference):
			c.JSON(http.StatusConflict, gin.H{"error": "already_refunded", "message": "This transaction was already refunded"})
		case errors.Is(err, ErrInvalidTransition):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "not_refundable", "message": err.Error()})
		case errors.Is(err, ErrInsufficientBalance):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "insufficient_balance", "message": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{"transaction": txn})
}

type expireRequest struct {
	Points      int    `json:"points" binding:"required"`
	Description string `json:"description"`
}

// ExpirePoints handles POST /v1/admin/companies/:id/expire
func (h *Handler) ExpirePoints(c *gin.Context) {
	var req expireRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "points is required"})
		return
	}

	txn, err := h.service.ExpirePoints(c.Request.Context(), c.Param("id"), req.Points, req.Description)
	if err != nil {
		if errors.Is(err, ErrInvalidPoints) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_points", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	if txn == nil {
		c.JSON(http.StatusOK, gin.H{"expired": 0})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"transaction": txn, "expired": -txn.Points})
}

// Audit handles GET /v1/admin/companies/:id/audit
func (h *Handler) Audit(c *gin.Context) {
	report, err := h.service.Audit(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"audit": report})
}
