package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"kinguin-bot/internal/models"
	"kinguin-bot/internal/services/history"
	"kinguin-bot/internal/services/kinguin"
	"kinguin-bot/internal/websocket"
)

const (
	defaultLimit = 10
	maxLimit     = 100
)

type KinguinAPI interface {
	GetBalance(ctx context.Context) (*kinguin.Balance, error)
	GetOrders(ctx context.Context, filters kinguin.OrderFilters) (*kinguin.OrderPage, error)
}

type History interface {
	GetUserPurchases(userID int64, limit int) ([]models.Purchase, error)
	GetByOrderID(orderID string) (*models.Purchase, error)
}

type Deps struct {
	Kinguin   KinguinAPI
	History   History
	Metrics   http.Handler
	Hub       *websocket.Hub
	JWTSecret string
	Logger    *logrus.Entry
}

type APIHandler struct {
	kinguin KinguinAPI
	history History
	log     *logrus.Entry
}

// NewRouter builds the admin server: /health and /metrics are public,
// everything under /api/v1 needs a bearer token.
func NewRouter(deps Deps) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "api")

	r := gin.New()
	r.Use(gin.Recovery(), LoggingMiddleware(log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	apiGroup := r.Group("/api/v1")
	apiGroup.Use(AuthMiddleware(deps.JWTSecret))
	SetupRoutes(apiGroup, deps, log)
	return r
}

func SetupRoutes(r *gin.RouterGroup, deps Deps, log *logrus.Entry) {
	handler := &APIHandler{
		kinguin: deps.Kinguin,
		history: deps.History,
		log:     log,
	}

	purchases := r.Group("/purchases")
	{
		purchases.GET("", handler.GetPurchases)
		purchases.GET("/:order_id", handler.GetPurchase)
	}

	r.GET("/balance", handler.GetBalance)
	r.GET("/orders", handler.GetOrders)

	if deps.Hub != nil {
		r.GET("/ws", websocket.Handler(deps.Hub))
	}
}

func (h *APIHandler) GetPurchases(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	purchases, err := h.history.GetUserPurchases(userID, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purchases": purchases})
}

func (h *APIHandler) GetPurchase(c *gin.Context) {
	purchase, err := h.history.GetByOrderID(c.Param("order_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"purchase": purchase})
}

func (h *APIHandler) GetBalance(c *gin.Context) {
	balance, err := h.kinguin.GetBalance(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"balance":  balance.Balance,
		"currency": balance.Currency,
	})
}

func (h *APIHandler) GetOrders(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page must be a positive integer"})
		return
	}
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	filters := kinguin.OrderFilters{Page: page, Limit: limit}

	for param, dst := range map[string]**time.Time{
		"date_from": &filters.DateFrom,
		"date_to":   &filters.DateTo,
	} {
		raw := c.Query(param)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": param + " must be RFC3339"})
			return
		}
		*dst = &t
	}

	orders, err := h.kinguin.GetOrders(c.Request.Context(), filters)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"orders":     orders.Results,
		"item_count": orders.ItemCount,
		"page":       page,
		"limit":      limit,
	})
}

func parseLimit(c *gin.Context) (int, bool) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	if err != nil || limit < 1 || limit > maxLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
		return 0, false
	}
	return limit, true
}

// respondError maps service errors onto HTTP statuses.
func (h *APIHandler) respondError(c *gin.Context, err error) {
	var (
		apiErr       *kinguin.APIError
		transportErr *kinguin.TransportError
	)
	switch {
	case errors.Is(err, kinguin.ErrNotFound),
		errors.Is(err, history.ErrPurchaseNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.As(err, &apiErr):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":           "upstream error",
			"upstream_status": apiErr.StatusCode,
			"message":         apiErr.Message,
		})
	case errors.As(err, &transportErr):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "upstream unavailable"})
	default:
		h.log.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
