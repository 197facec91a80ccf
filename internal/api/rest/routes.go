package rest

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/briefly60/payment-service/internal/api/rest/handlers"
	"github.com/briefly60/payment-service/internal/api/rest/middleware"
	"github.com/briefly60/payment-service/internal/config"
	"github.com/briefly60/payment-service/internal/service"
	"github.com/briefly60/payment-service/pkg/logger"
)

// SetupRouter wires the gin router with middleware and routes
func SetupRouter(
	subscriptionSvc service.SubscriptionService,
	planSvc service.PlanService,
	registry *prometheus.Registry,
	cfg *config.Config,
	log *logger.Logger,
) *gin.Engine {
	r := gin.New()

	r.Use(middleware.LoggerMiddleware(log))
	r.Use(gin.Recovery())

	r.GET("/health", handlers.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	auth := middleware.NewJWTMiddleware(&middleware.DefaultTokenValidator{
		Secret: []byte(cfg.Auth.JWTSecret),
	}, log)

	subscriptionHandler := handlers.NewSubscriptionHandler(subscriptionSvc, planSvc, log)
	callbackHandler := handlers.NewCallbackHandler(subscriptionSvc, cfg.App.FrontendURL, log)

	v1 := r.Group("/api/v1")
	{
		subscription := v1.Group("/subscription")
		{
			subscription.GET("/plans", subscriptionHandler.GetPlans)

			subscription.POST("/init", auth.RequireAuth(), subscriptionHandler.InitiatePayment)
			subscription.GET("/status", auth.RequireAuth(), subscriptionHandler.GetStatus)
			subscription.GET("/history", auth.RequireAuth(), subscriptionHandler.GetHistory)
			subscription.POST("/refund", auth.RequireAuth("admin"), subscriptionHandler.RefundPayment)

			// Gateway callbacks. The gateway POSTs, but users can land on
			// these URLs with a GET after a browser replay.
			sslcommerz := subscription.Group("/sslcommerz")
			{
				sslcommerz.POST("/success", callbackHandler.HandleSuccess)
				sslcommerz.GET("/success", callbackHandler.HandleSuccess)
				sslcommerz.POST("/fail", callbackHandler.HandleFail)
				sslcommerz.GET("/fail", callbackHandler.HandleFail)
				sslcommerz.POST("/cancel", callbackHandler.HandleCancel)
				sslcommerz.GET("/cancel", callbackHandler.HandleCancel)
				sslcommerz.POST("/ipn", callbackHandler.HandleIPN)
			}
		}
	}

	return r
}
