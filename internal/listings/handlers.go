package listings

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for the listing catalog.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public (read-only) listing routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/listings", h.Browse)
	r.GET("/listings/:id", h.GetListing)
}

// RegisterProtectedRoutes sets up auth-required listing routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/listings", h.CreateListing)
	r.PATCH("/listings/:id", h.UpdateListing)
}

// Browse handles GET /v1/listings
func (h *Handler) Browse(c *gin.Context) {
	q := Query{
		Category: c.Query("category"),
		SellerID: c.Query("seller"),
		MinPrice: c.Query("minPrice"),
		MaxPrice: c.Query("maxPrice"),
	}
	if v := c.Query("minRating"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			q.MinRating = parsed
		}
	}
	if v := c.Query("active"); v != "" {
		active := v == "true"
		q.Active = &active
	} else {
		active := true
		q.Active = &active
	}
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			q.Limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			q.Offset = parsed
		}
	}

	results, err := h.service.List(c.Request.Context(), q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"listings": results,
		"count":    len(results),
	})
}

// GetListing handles GET /v1/listings/:id
func (h *Handler) GetListing(c *gin.Context) {
	listing, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrListingNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Listing not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"listing": listing})
}

// CreateListing handles POST /v1/listings
func (h *Handler) CreateListing(c *gin.Context) {
	sellerID := c.GetString("authUserID")

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	listing, err := h.service.Create(c.Request.Context(), sellerID, req)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCategory):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_category",
				"message": "Unknown listing category",
			})
		case errors.Is(err, ErrInvalidPrice):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_price",
				"message": "Price must be a positive Kz amount",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"listing": listing})
}

// UpdateListing handles PATCH /v1/listings/:id
func (h *Handler) UpdateListing(c *gin.Context) {
	sellerID := c.GetString("authUserID")

	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	listing, err := h.service.Update(c.Request.Context(), sellerID, c.Param("id"), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrListingNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Listing not found",
			})
		case errors.Is(err, ErrNotOwner):
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Only the seller can update a listing",
			})
		case errors.Is(err, ErrInvalidPrice):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_price",
				"message": "Price must be a positive Kz amount",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"listing": listing})
}
