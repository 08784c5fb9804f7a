// internal/router/router.go
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/masumi-network/payment-coordinator/internal/config"
	"github.com/masumi-network/payment-coordinator/internal/handlers"
	"github.com/masumi-network/payment-coordinator/internal/middleware"
	"github.com/masumi-network/payment-coordinator/internal/repository"
	"github.com/masumi-network/payment-coordinator/internal/services"
)

func Initialize(store *repository.Store, cfg *config.Config) *gin.Engine {
	// Initialize services
	paymentService := services.NewPaymentService(store, cfg)
	purchaseService := services.NewPurchaseService(store, cfg)
	registryService := services.NewRegistryService(store, cfg)

	// Initialize handlers
	paymentHandler := handlers.NewPaymentHandler(paymentService)
	purchaseHandler := handlers.NewPurchaseHandler(purchaseService)
	registryHandler := handlers.NewRegistryHandler(registryService)

	// Initialize Gin router
	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS())
	r.Use(middleware.APIRateLimit(cfg.Server.RateLimitPerSec, cfg.Server.RateLimitBurst))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})

	// API v1 routes
	v1 := r.Group("/api/v1")
	v1.Use(middleware.APIKeyRequired(cfg.Auth.AdminKey))
	{
		payment := v1.Group("/payment")
		{
			payment.POST("", paymentHandler.CreatePayment)
			payment.POST("/submit-result", paymentHandler.SubmitResult)
			payment.POST("/authorize-refund", paymentHandler.AuthorizeRefund)
			payment.GET("", paymentHandler.QueryPayments)
		}

		purchase := v1.Group("/purchase")
		{
			purchase.POST("", purchaseHandler.CreatePurchase)
			purchase.POST("/request-refund", purchaseHandler.RequestRefund)
			purchase.POST("/cancel-refund-request", purchaseHandler.CancelRefundRequest)
			purchase.GET("", purchaseHandler.QueryPurchases)
		}

		registry := v1.Group("/registry")
		{
			registry.POST("", registryHandler.RegisterAgent)
			registry.POST("/deregister", registryHandler.UnregisterAgent)
			registry.DELETE("/:id", registryHandler.DeleteRegistration)
			registry.GET("", registryHandler.QueryRegistry)
		}
	}

	return r
}
