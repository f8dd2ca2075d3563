package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"unlock-service/internal/service"
	"unlock-service/internal/store"
	"unlock-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	unlocks   *service.UnlockService
	status    *service.StatusController
	favorites *service.FavoriteService
	store     *store.Store
}

// NewHandler creates a new HTTP handler
func NewHandler(
	unlocks *service.UnlockService,
	status *service.StatusController,
	favorites *service.FavoriteService,
	store *store.Store,
) *Handler {
	return &Handler{
		unlocks:   unlocks,
		status:    status,
		favorites: favorites,
		store:     store,
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
		v1.GET("/listings/:id", h.getListing)
		v1.POST("/listings/:id/unlock", h.beginUnlock)
		v1.POST("/listings/:id/unlock/confirm", h.confirmUnlock)
		v1.POST("/listings/:id/favorite", h.toggleFavorite)
		v1.POST("/listings/:id/sold", h.markSold)

		v1.GET("/me/listings", h.myListings)
		v1.GET("/me/unlocks", h.myUnlocks)
		v1.GET("/me/favorites", h.myFavorites)
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

// callerID extracts the verified user id the gateway injected. The service
// trusts this value; authentication itself happens upstream.
func callerID(c *gin.Context) string {
	return c.GetHeader("X-User-ID")
}

// getListing returns a listing. Contact details are included only when the
// caller holds a recorded unlock.
func (h *Handler) getListing(c *gin.Context) {
	listingID := c.Param("id")

	listing, err := h.store.GetListingByID(c.Request.Context(), listingID)
	if err != nil {
		h.renderError(c, err)
		return
	}
	if listing == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found"})
		return
	}

	resp := gin.H{"listing": listing}

	if buyerID := callerID(c); buyerID != "" {
		unlocked, err := h.unlocks.IsUnlocked(c.Request.Context(), buyerID, listingID)
		if err != nil {
			h.renderError(c, err)
			return
		}
		resp["unlocked"] = unlocked
		if unlocked {
			contact, err := h.store.GetSellerContact(c.Request.Context(), listingID)
			if err != nil {
				h.renderError(c, err)
				return
			}
			resp["contact"] = contact
		}

		favorited, err := h.store.IsFavorited(c.Request.Context(), buyerID, listingID)
		if err != nil {
			h.renderError(c, err)
			return
		}
		resp["favorited"] = favorited
	}

	c.JSON(http.StatusOK, resp)
}

// beginUnlock starts or re-enters the unlock workflow
func (h *Handler) beginUnlock(c *gin.Context) {
	resp, err := h.unlocks.Begin(
		c.Request.Context(),
		callerID(c),
		c.GetHeader("X-User-Email"),
		c.Param("id"),
	)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// confirmUnlock resolves an attempt with the confirmation outcome
func (h *Handler) confirmUnlock(c *gin.Context) {
	var result service.ConfirmationResult
	if err := c.ShouldBindJSON(&result); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	outcome, err := h.unlocks.Complete(c.Request.Context(), callerID(c), c.Param("id"), &result)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, outcome)
}

// toggleFavorite flips the caller's favorite state for a listing
func (h *Handler) toggleFavorite(c *gin.Context) {
	favorited, err := h.favorites.Toggle(c.Request.Context(), callerID(c), c.Param("id"))
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"favorited": favorited})
}

// markSold marks a listing sold on behalf of its owner
func (h *Handler) markSold(c *gin.Context) {
	if err := h.status.MarkSold(c.Request.Context(), c.Param("id"), callerID(c)); err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "sold"})
}

// myListings returns the caller's own listings
func (h *Handler) myListings(c *gin.Context) {
	ownerID := callerID(c)
	if ownerID == "" {
		h.renderError(c, service.ErrUnauthorized)
		return
	}

	listings, err := h.store.GetListingsByOwnerID(c.Request.Context(), ownerID)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"listings": listings})
}

// myUnlocks returns the caller's unlock history
func (h *Handler) myUnlocks(c *gin.Context) {
	buyerID := callerID(c)
	if buyerID == "" {
		h.renderError(c, service.ErrUnauthorized)
		return
	}

	unlocks, err := h.store.GetUnlocksByBuyerID(c.Request.Context(), buyerID)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"unlocks": unlocks})
}

// myFavorites returns the caller's favorited listings
func (h *Handler) myFavorites(c *gin.Context) {
	buyerID := callerID(c)
	if buyerID == "" {
		h.renderError(c, service.ErrUnauthorized)
		return
	}

	favorites, err := h.store.GetFavoritesByBuyerID(c.Request.Context(), buyerID)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"favorites": favorites})
}

// renderError maps the workflow error taxonomy onto HTTP statuses
func (h *Handler) renderError(c *gin.Context, err error) {
	var notConfirmed *service.PaymentNotConfirmedError

	switch {
	case errors.Is(err, service.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
	case errors.Is(err, service.ErrListingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found"})
	case errors.Is(err, service.ErrListingSold):
		c.JSON(http.StatusConflict, gin.H{"error": "Listing is sold"})
	case errors.Is(err, service.ErrListingUnavailable):
		c.JSON(http.StatusConflict, gin.H{"error": "Listing already unlocked by another buyer"})
	case errors.As(err, &notConfirmed):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "Payment not confirmed", "details": notConfirmed.Detail})
	case errors.Is(err, service.ErrProviderUnavailable), errors.Is(err, service.ErrStoreUnavailable):
		c.Header("Retry-After", "2")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Temporarily unavailable, retry safely"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error", "details": err.Error()})
	}
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
