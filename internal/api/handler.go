package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"storefront-agent/internal/models"
	"storefront-agent/internal/service"
	"storefront-agent/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ReceiptLister reads the local order history
type ReceiptLister interface {
	ListReceipts(ctx context.Context, username string, limit int) ([]models.Receipt, error)
}

// ReadinessCheck reports whether a dependency is usable
type ReadinessCheck func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	storefront *service.Storefront
	receipts   ReceiptLister
	checks     map[string]ReadinessCheck
	logger     *zap.Logger
}

// NewHandler creates a new HTTP handler. receipts may be nil when no database is configured.
func NewHandler(storefront *service.Storefront, receipts ReceiptLister, checks map[string]ReadinessCheck) *Handler {
	return &Handler{
		storefront: storefront,
		receipts:   receipts,
		checks:     checks,
		logger:     util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger(h.logger))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/session/register", h.register)
		v1.POST("/session/login", h.login)
		v1.POST("/session/logout", h.logout)

		v1.GET("/products", h.listProducts)
		v1.POST("/search", h.search)
		v1.GET("/search", h.searchResults)

		v1.GET("/cart", h.getCart)
		v1.POST("/cart/items", h.addToCart)
		v1.POST("/cart/items/:productId/quantity", h.changeQuantity)

		v1.GET("/checkout", h.getCheckout)
		v1.POST("/checkout/start", h.startCheckout)
		v1.POST("/checkout/address-draft", h.beginAddress)
		v1.PUT("/checkout/address-draft", h.updateDraft)
		v1.POST("/checkout/address-draft/commit", h.commitAddress)
		v1.DELETE("/checkout/address-draft", h.cancelAddress)
		v1.POST("/checkout/addresses/:id/select", h.selectAddress)
		v1.DELETE("/checkout/addresses/:id", h.deleteAddress)
		v1.POST("/checkout/place", h.placeOrder)

		v1.GET("/notifications", h.notifications)
		v1.GET("/orders", h.listOrders)
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerRequest struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type addToCartRequest struct {
	ProductID string `json:"productId" binding:"required"`
	Qty       int    `json:"qty"`
}

type quantityRequest struct {
	Delta int `json:"delta" binding:"required"`
}

type searchRequest struct {
	Query string `json:"query"`
}

type draftRequest struct {
	Text string `json:"text"`
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck runs every registered dependency check
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("check", name), zap.Error(err))
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	result, err := h.storefront.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		respondError(c, err, nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"username": result.Username,
		"balance":  result.Balance,
	})
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if err := h.storefront.Register(c.Request.Context(), req.Username, req.Password, req.ConfirmPassword); err != nil {
		respondError(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"username": req.Username})
}

func (h *Handler) logout(c *gin.Context) {
	if err := h.storefront.Logout(c.Request.Context()); err != nil {
		respondError(c, err, nil)
		return
	}
	c.Status(http.StatusNoContent)
}

// listProducts returns the catalog, fetching it when ?refresh=true or nothing is cached
func (h *Handler) listProducts(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		products []models.Product
		err      error
	)
	if refresh, _ := strconv.ParseBool(c.Query("refresh")); refresh {
		products, err = h.storefront.Catalog.FetchAll(ctx)
	} else {
		products, err = h.storefront.Catalog.EnsureLoaded(ctx)
	}
	if err != nil {
		respondError(c, err, gin.H{"products": products})
		return
	}

	c.JSON(http.StatusOK, gin.H{"products": products})
}

func (h *Handler) search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	h.storefront.Search.OnQueryChange(req.Query)
	c.JSON(http.StatusAccepted, h.storefront.Search.Results())
}

func (h *Handler) searchResults(c *gin.Context) {
	c.JSON(http.StatusOK, h.storefront.Search.Results())
}

func (h *Handler) getCart(c *gin.Context) {
	if refresh, _ := strconv.ParseBool(c.Query("refresh")); refresh {
		if _, err := h.storefront.Cart.Load(c.Request.Context()); err != nil {
			respondError(c, err, h.cartBody())
			return
		}
	}
	c.JSON(http.StatusOK, h.cartBody())
}

func (h *Handler) addToCart(c *gin.Context) {
	var req addToCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if _, err := h.storefront.Cart.AddToCart(c.Request.Context(), req.ProductID, req.Qty); err != nil {
		respondError(c, err, h.cartBody())
		return
	}
	c.JSON(http.StatusOK, h.cartBody())
}

func (h *Handler) changeQuantity(c *gin.Context) {
	var req quantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if _, err := h.storefront.Cart.MutateQuantity(c.Request.Context(), c.Param("productId"), req.Delta); err != nil {
		respondError(c, err, h.cartBody())
		return
	}
	c.JSON(http.StatusOK, h.cartBody())
}

func (h *Handler) cartBody() gin.H {
	items := h.storefront.Cart.Items()
	return gin.H{
		"items":     items,
		"total":     service.ComputeTotal(items),
		"itemCount": service.ComputeItemCount(items),
	}
}

func (h *Handler) getCheckout(c *gin.Context) {
	c.JSON(http.StatusOK, h.storefront.Checkout.View(c.Request.Context()))
}

func (h *Handler) startCheckout(c *gin.Context) {
	view, err := h.storefront.Checkout.Start(c.Request.Context())
	if err != nil {
		respondError(c, err, gin.H{"checkout": view})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) beginAddress(c *gin.Context) {
	h.checkoutStep(c, h.storefront.Checkout.BeginAddAddress())
}

func (h *Handler) updateDraft(c *gin.Context) {
	var req draftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	h.checkoutStep(c, h.storefront.Checkout.UpdateDraft(req.Text))
}

func (h *Handler) commitAddress(c *gin.Context) {
	h.checkoutStep(c, h.storefront.Checkout.CommitAddress(c.Request.Context()))
}

func (h *Handler) cancelAddress(c *gin.Context) {
	h.checkoutStep(c, h.storefront.Checkout.CancelAddAddress())
}

func (h *Handler) selectAddress(c *gin.Context) {
	h.checkoutStep(c, h.storefront.Checkout.SelectAddress(c.Param("id")))
}

func (h *Handler) deleteAddress(c *gin.Context) {
	h.checkoutStep(c, h.storefront.Checkout.DeleteAddress(c.Request.Context(), c.Param("id")))
}

func (h *Handler) placeOrder(c *gin.Context) {
	view, err := h.storefront.Checkout.PlaceOrder(c.Request.Context())
	if err != nil {
		respondError(c, err, gin.H{"checkout": view})
		return
	}
	c.JSON(http.StatusOK, view)
}

// checkoutStep responds with the checkout view after a draft or selection step
func (h *Handler) checkoutStep(c *gin.Context, err error) {
	view := h.storefront.Checkout.View(c.Request.Context())
	if err != nil {
		respondError(c, err, gin.H{"checkout": view})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) notifications(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"notifications": h.storefront.Notifications.Drain()})
}

func (h *Handler) listOrders(c *gin.Context) {
	if h.receipts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Order history is not configured"})
		return
	}

	ctx := c.Request.Context()
	username, err := h.storefront.Session.Username(ctx)
	if err != nil {
		respondError(c, err, nil)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	receipts, err := h.receipts.ListReceipts(ctx, username, limit)
	if err != nil {
		h.logger.Error("Failed to list receipts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to list orders",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": receipts})
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

// requestLogger logs every request with zap
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
