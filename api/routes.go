package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Ishu-sri-001/neuro-nest/metrics"
	"github.com/Ishu-sri-001/neuro-nest/middleware"
)

// NewRouter builds the gin engine with middlewares and all routes.
func NewRouter(handler *APIHandler, tokens middleware.TokenParser, limiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	_ = r.SetTrustedProxies(nil)

	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.Cors())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	apiGroup := r.Group("/api")
	apiGroup.Use(middleware.Identity(tokens))
	{
		apiGroup.GET("/init", handler.InitHandler)

		authGroup := apiGroup.Group("/auth")
		{
			authGroup.POST("/signup", handler.SignupHandler)
			authGroup.POST("/login", handler.LoginHandler)
		}

		accountGroup := apiGroup.Group("/account", middleware.RequireAccount())
		{
			accountGroup.GET("", handler.GetAccountHandler)
			accountGroup.PATCH("", handler.UpdateAccountHandler)
			accountGroup.POST("/credits", handler.PurchaseCreditsHandler)
		}

		// Session creation and anything that reaches the provider is rate limited
		limited := func(h gin.HandlerFunc) []gin.HandlerFunc {
			if limiter == nil {
				return []gin.HandlerFunc{h}
			}
			return []gin.HandlerFunc{limiter.Handler(), h}
		}

		sessionGroup := apiGroup.Group("/sessions")
		{
			sessionGroup.POST("", limited(handler.CreateSessionHandler)...)
			sessionGroup.GET("/:id", handler.GetSessionHandler)
			sessionGroup.DELETE("/:id", handler.EndSessionHandler)
			sessionGroup.POST("/:id/cancel", handler.CancelHandler)
			sessionGroup.POST("/:id/messages", limited(handler.SubmitMessageHandler)...)
			sessionGroup.POST("/:id/retry", limited(handler.RetryHandler)...)
		}
	}
	return r
}
