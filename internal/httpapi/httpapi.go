package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dhastore/backend/internal/domain"
	"dhastore/backend/internal/service"
	"dhastore/backend/internal/store"
)

// maxBodyBytes leaves room for product images carried as data URLs and for
// full backup files.
const maxBodyBytes = 16 << 20

const persistenceWarning = "change applied but not persisted; it will be lost on restart"

type API struct {
	service       *service.Service
	logger        *zap.Logger
	allowedOrigin string
}

func New(svc *service.Service, logger *zap.Logger, allowedOrigin string) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		service:       svc,
		logger:        logger.Named("http"),
		allowedOrigin: strings.TrimSpace(allowedOrigin),
	}
}

func (a *API) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(a.requestLogger())
	r.Use(securityHeaders())
	r.Use(cors.New(a.corsConfig()))
	r.Use(limitBody(maxBodyBytes))

	r.GET("/healthz", a.handleHealth)

	v1 := r.Group("/api/v1")
	v1.GET("/products", a.handleListProducts)
	v1.POST("/products", a.handleCreateProduct)
	v1.PUT("/products/:id", a.handleUpdateProduct)
	v1.DELETE("/products/:id", a.handleDeleteProduct)

	v1.POST("/sales", a.handleRecordSale)
	v1.POST("/sales/undo", a.handleUndo)
	v1.DELETE("/sales", a.handleClearSales)
	v1.GET("/undo", a.handleUndoStatus)
	v1.GET("/stats", a.handleStats)

	v1.GET("/export", a.handleExport)
	v1.POST("/import", a.handleImport)

	return r
}

func (a *API) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type"},
		ExposeHeaders: []string{"Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}
	if a.allowedOrigin == "" || a.allowedOrigin == "*" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = []string{a.allowedOrigin}
	}
	return cfg
}

func (a *API) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleListProducts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"products": a.service.ListProducts()})
}

func (a *API) handleCreateProduct(c *gin.Context) {
	var req domain.ProductSaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.writeError(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	product, err := a.service.CreateProduct(c.Request.Context(), req)
	a.respond(c, http.StatusCreated, gin.H{"product": product}, err)
}

func (a *API) handleUpdateProduct(c *gin.Context) {
	var req domain.ProductSaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.writeError(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	product, err := a.service.UpdateProduct(c.Request.Context(), c.Param("id"), req)
	a.respond(c, http.StatusOK, gin.H{"product": product}, err)
}

func (a *API) handleDeleteProduct(c *gin.Context) {
	id := c.Param("id")
	err := a.service.DeleteProduct(c.Request.Context(), id)
	a.respond(c, http.StatusOK, gin.H{"deleted": id}, err)
}

func (a *API) handleRecordSale(c *gin.Context) {
	var req domain.RecordSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.writeError(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.ProductID == "" {
		a.writeError(c, http.StatusBadRequest, errors.New("product_id is required"))
		return
	}

	sale, err := a.service.RecordSale(c.Request.Context(), req.ProductID)
	a.respond(c, http.StatusCreated, gin.H{"sale": sale}, err)
}

func (a *API) handleUndo(c *gin.Context) {
	resp, err := a.service.UndoLastSale(c.Request.Context())
	body := gin.H{"undone": resp.Undone}
	if resp.Sale != nil {
		body["sale"] = resp.Sale
	}
	a.respond(c, http.StatusOK, body, err)
}

func (a *API) handleUndoStatus(c *gin.Context) {
	c.JSON(http.StatusOK, a.service.UndoStatus())
}

// handleClearSales is irreversible, so it insists on ?confirm=true.
func (a *API) handleClearSales(c *gin.Context) {
	if confirmed, _ := strconv.ParseBool(c.Query("confirm")); !confirmed {
		a.writeError(c, http.StatusBadRequest, errors.New("clearing all sales requires confirm=true"))
		return
	}

	err := a.service.ClearAllSales(c.Request.Context())
	a.respond(c, http.StatusOK, gin.H{"cleared": true}, err)
}

func (a *API) handleStats(c *gin.Context) {
	stats, err := a.service.Stats(c.Query("period"))
	if err != nil {
		a.writeError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (a *API) handleExport(c *gin.Context) {
	bundle, filename := a.service.Export()
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.IndentedJSON(http.StatusOK, bundle)
}

func (a *API) handleImport(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		a.writeError(c, http.StatusBadRequest, fmt.Errorf("read body: %w", err))
		return
	}

	resp, err := a.service.Import(c.Request.Context(), raw)
	a.respond(c, http.StatusOK, gin.H{
		"products_replaced": resp.ProductsReplaced,
		"sales_replaced":    resp.SalesReplaced,
		"products":          resp.Products,
		"sales":             resp.Sales,
	}, err)
}

// respond writes body with status on success. A persistence-only failure
// still succeeds but carries a warning; other errors map to an error body.
func (a *API) respond(c *gin.Context, status int, body gin.H, err error) {
	switch {
	case err == nil:
	case errors.Is(err, store.ErrPersistenceUnavailable):
		a.logger.Warn("serving unpersisted change", zap.String("path", c.FullPath()), zap.Error(err))
		body["warning"] = persistenceWarning
	default:
		a.writeError(c, statusFor(err), err)
		return
	}
	c.JSON(status, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrProductNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNothingToUndo):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidProduct),
		errors.Is(err, domain.ErrMalformedImport),
		errors.Is(err, domain.ErrUnknownPeriod):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeError(c *gin.Context, status int, err error) {
	// 5xx bodies stay generic; the detail goes to the log.
	msg := err.Error()
	if status >= 500 {
		a.logger.Error("internal error", zap.Int("status", status), zap.Error(err))
		msg = "internal server error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func (a *API) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startedAt := time.Now()
		c.Next()
		a.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(startedAt)),
		)
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}
