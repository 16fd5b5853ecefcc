package orders

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mbande/biskato/internal/validation"
)

// Handler provides HTTP endpoints for order operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new order handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up auth-required order routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/orders", h.PlaceOrder)
	r.GET("/orders", h.ListMine)
	r.GET("/orders/:id", h.GetOrder)
	r.POST("/orders/:id/deliver", h.MarkDelivered)
	r.POST("/orders/:id/confirm", h.ConfirmDelivery)
	r.POST("/orders/:id/cancel", h.CancelOrder)
	r.POST("/orders/:id/dispute", h.OpenDispute)
	r.POST("/orders/:id/evidence", h.AddEvidence)
	r.POST("/orders/:id/rate", h.RateOrder)
}

// RegisterAdminRoutes sets up admin-gated order routes. MarkPaid lives here
// because the payment gateway callback authenticates with the admin secret.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/orders/:id/pay", h.MarkPaid)
	r.POST("/orders/:id/release", h.ReleaseOrder)
	r.POST("/orders/:id/refund", h.RefundOrder)
	r.POST("/orders/:id/settle", h.SettleOrder)
	r.POST("/orders/:id/resolve", h.ResolveDispute)
	r.GET("/orders/status/:status", h.ListByStatus)
}

// respondError maps service errors to HTTP responses.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrOrderNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrUnauthorized):
		status = http.StatusForbidden
		code = "unauthorized"
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrDisputeOpen),
		errors.Is(err, ErrDisputeExists), errors.Is(err, ErrDisputeResolved),
		errors.Is(err, ErrNotRateable):
		status = http.StatusConflict
		code = "invalid_state"
	case errors.Is(err, ErrNoDispute):
		status = http.StatusConflict
		code = "no_dispute"
	case errors.Is(err, ErrListingInactive), errors.Is(err, ErrSelfPurchase),
		errors.Is(err, ErrAmountOutOfRange), errors.Is(err, ErrInvalidReason),
		errors.Is(err, ErrInvalidDecision), errors.Is(err, ErrInvalidShare),
		errors.Is(err, ErrInvalidStars), errors.Is(err, ErrEvidenceLimit):
		status = http.StatusBadRequest
		code = "invalid_request"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}

// PlaceOrder handles POST /v1/orders
func (h *Handler) PlaceOrder(c *gin.Context) {
	buyerID := c.GetString("authUserID")

	var req PlaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "listingId is required",
		})
		return
	}

	if errs := validation.Validate(
		validation.MaxLength("requirements", req.Requirements, validation.MaxStringLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	order, err := h.service.PlaceOrder(c.Request.Context(), buyerID, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"order": order})
}

// GetOrder handles GET /v1/orders/:id
func (h *Handler) GetOrder(c *gin.Context) {
	order, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	userID := c.GetString("authUserID")
	if userID != order.BuyerID && userID != order.SellerID {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Only the order parties can view it",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"order": order})
}

// ListMine handles GET /v1/orders
func (h *Handler) ListMine(c *gin.Context) {
	userID := c.GetString("authUserID")
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	orders, err := h.service.ListByUser(c.Request.Context(), userID, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"count":  len(orders),
	})
}

// MarkPaid handles POST /v1/admin/orders/:id/pay
func (h *Handler) MarkPaid(c *gin.Context) {
	order, err := h.service.MarkPaid(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// MarkDelivered handles POST /v1/orders/:id/deliver
func (h *Handler) MarkDelivered(c *gin.Context) {
	order, err := h.service.MarkDelivered(c.Request.Context(), c.Param("id"), c.GetString("authUserID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// ConfirmDelivery handles POST /v1/orders/:id/confirm
func (h *Handler) ConfirmDelivery(c *gin.Context) {
	order, err := h.service.ConfirmDelivery(c.Request.Context(), c.Param("id"), c.GetString("authUserID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// CancelOrder handles POST /v1/orders/:id/cancel
func (h *Handler) CancelOrder(c *gin.Context) {
	order, err := h.service.Cancel(c.Request.Context(), c.Param("id"), c.GetString("authUserID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// ReleaseOrder handles POST /v1/admin/orders/:id/release
func (h *Handler) ReleaseOrder(c *gin.Context) {
	var req struct {
		Force bool `json:"force"`
	}
	_ = c.ShouldBindJSON(&req) // empty body means force=false

	order, err := h.service.Release(c.Request.Context(), c.Param("id"), req.Force)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// RefundOrder handles POST /v1/admin/orders/:id/refund
func (h *Handler) RefundOrder(c *gin.Context) {
	order, err := h.service.Refund(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// SettleOrder handles POST /v1/admin/orders/:id/settle
func (h *Handler) SettleOrder(c *gin.Context) {
	var req SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "buyerShare is required",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidShare("buyer_share", req.BuyerShare),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
		})
		return
	}

	order, err := h.service.Settle(c.Request.Context(), c.Param("id"), req.BuyerShare)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// OpenDispute handles POST /v1/orders/:id/dispute
func (h *Handler) OpenDispute(c *gin.Context) {
	var req DisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "reason is required",
		})
		return
	}

	order, err := h.service.OpenDispute(c.Request.Context(), c.Param("id"), c.GetString("authUserID"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// AddEvidence handles POST /v1/orders/:id/evidence
func (h *Handler) AddEvidence(c *gin.Context) {
	var req EvidenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "text is required",
		})
		return
	}

	if errs := validation.Validate(
		validation.MaxLength("text", req.Text, validation.MaxStringLength),
		validation.MaxLength("file_url", req.FileURL, 2048),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
		})
		return
	}

	order, err := h.service.AddEvidence(c.Request.Context(), c.Param("id"), c.GetString("authUserID"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// ResolveDispute handles POST /v1/admin/orders/:id/resolve
func (h *Handler) ResolveDispute(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "decision is required (pay_seller, refund_buyer, or partial_refund)",
		})
		return
	}

	order, err := h.service.ResolveDispute(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// RateOrder handles POST /v1/orders/:id/rate
func (h *Handler) RateOrder(c *gin.Context) {
	var req RateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "stars is required",
		})
		return
	}

	order, err := h.service.Rate(c.Request.Context(), c.Param("id"), c.GetString("authUserID"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

// ListByStatus handles GET /v1/admin/orders/status/:status
func (h *Handler) ListByStatus(c *gin.Context) {
	status := Status(c.Param("status"))
	switch status {
	case StatusPending, StatusPaid, StatusDelivered, StatusCancelled:
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "unknown status",
		})
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	orders, err := h.service.ListByStatus(c.Request.Context(), status, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"count":  len(orders),
	})
}
