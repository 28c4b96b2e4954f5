package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DanielKano/otaku-shop-sub000/internal/reservation"
	"github.com/DanielKano/otaku-shop-sub000/internal/service"
	"github.com/DanielKano/otaku-shop-sub000/internal/store"
	"github.com/DanielKano/otaku-shop-sub000/internal/util"
)

// Handler contains HTTP handlers
type Handler struct {
	reservationService *service.ReservationService
	checkoutService    *service.CheckoutService
}

// NewHandler creates a new HTTP handler
func NewHandler(reservationService *service.ReservationService, checkoutService *service.CheckoutService) *Handler {
	return &Handler{
		reservationService: reservationService,
		checkoutService:    checkoutService,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/reservations", h.createReservation)
		v1.GET("/reservations", h.listReservations)
		v1.PATCH("/reservations/:id", h.updateReservation)
		v1.POST("/reservations/:id/renew", h.renewReservation)
		v1.DELETE("/reservations/:id", h.releaseReservation)

		v1.GET("/products/:id/availability", h.productAvailability)

		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/cancel", h.cancelOrder)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

type createReservationRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity" binding:"required"`
	UserID    int64 `json:"user_id,omitempty"`
}

// createReservation handles hold requests. Anonymous shoppers identify via
// the X-Session-ID header; authenticated ones send user_id.
func (h *Handler) createReservation(c *gin.Context) {
	var req createReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	owner := reservation.Owner{
		UserID:    req.UserID,
		SessionID: c.GetHeader("X-Session-ID"),
	}
	if owner.UserID != 0 {
		owner.SessionID = ""
	}

	rec, granted, err := h.reservationService.Reserve(c.Request.Context(), req.ProductID, req.Quantity, owner)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, reservation.ErrInvalidQuantity) || errors.Is(err, reservation.ErrInvalidOwner) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{
			"error":   "Failed to create reservation",
			"details": err.Error(),
		})
		return
	}

	if !granted {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Product is not available in the requested quantity",
		})
		return
	}

	c.JSON(http.StatusCreated, rec)
}

// listReservations returns the caller's active holds
func (h *Handler) listReservations(c *gin.Context) {
	if userIDStr := c.Query("user_id"); userIDStr != "" {
		userID, err := strconv.ParseInt(userIDStr, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"reservations": h.reservationService.ForOwner(c.Request.Context(), userID),
		})
		return
	}

	sessionID := c.GetHeader("X-Session-ID")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id or X-Session-ID required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reservations": h.reservationService.ForSession(c.Request.Context(), sessionID),
	})
}

type updateReservationRequest struct {
	Quantity int `json:"quantity" binding:"required"`
}

// updateReservation changes the quantity of a hold
func (h *Handler) updateReservation(c *gin.Context) {
	var req updateReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	ok, err := h.reservationService.Update(c.Request.Context(), c.Param("id"), req.Quantity)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Failed to update reservation",
			"details": err.Error(),
		})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Reservation not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

// renewReservation extends a hold's expiry
func (h *Handler) renewReservation(c *gin.Context) {
	if !h.reservationService.Renew(c.Request.Context(), c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Reservation not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"renewed": true})
}

// releaseReservation drops a hold
func (h *Handler) releaseReservation(c *gin.Context) {
	if !h.reservationService.Release(c.Request.Context(), c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Reservation not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// productAvailability reports the advisory availability snapshot
func (h *Handler) productAvailability(c *gin.Context) {
	productID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	availability, err := h.reservationService.AvailableStock(c.Request.Context(), productID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Product not found",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, availability)
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}
	if req.SessionID == nil && req.UserID == nil {
		if sessionID := c.GetHeader("X-Session-ID"); sessionID != "" {
			req.SessionID = &sessionID
		}
	}

	resp, err := h.checkoutService.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "Insufficient stock",
				"details": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to create order",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	order, items, err := h.checkoutService.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Order not found",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order": order,
		"items": items,
	})
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

// cancelOrder restores the order's stock and marks it cancelled
func (h *Handler) cancelOrder(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	var req cancelOrderRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "customer_request"
	}

	if err := h.checkoutService.CancelOrder(c.Request.Context(), orderID, req.Reason); err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Failed to cancel order",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
