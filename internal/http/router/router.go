package router

import (
	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/credential-service/internal/config"
	"github.com/ignatzorin/credential-service/internal/http/handlers"
	"github.com/ignatzorin/credential-service/internal/http/middleware"
)

// Handlers набор обработчиков, которые монтирует роутер.
type Handlers struct {
	Health       *handlers.HealthHandler
	StudentCodes *handlers.StudentCodeHandler
	Verification *handlers.VerificationHandler
	SecretTokens *handlers.SecretTokenHandler
}

func SetupRouter(cfg *config.Config, h Handlers) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.ErrorHandler())

	r.GET("/health", h.Health.Health)

	api := r.Group("/api/v1")
	api.Use(middleware.ServiceAuthMiddleware(cfg.ServiceSecret))
	api.Use(middleware.TimeoutMiddleware(cfg.RequestTimeout))

	// Выдача ограничена по IP, проверки нет: лимит попыток проверки задаёт сам код.
	issueRateLimit := middleware.RateLimitMiddleware(cfg.RateLimitLimit, cfg.RateLimitPeriod)

	codes := api.Group("/student-codes")
	{
		codes.POST("", h.StudentCodes.Allocate)
		codes.GET("/sub-pillars", h.StudentCodes.SubPillars)
		codes.GET("/:base/usage", h.StudentCodes.Usage)
	}

	verification := api.Group("/verification-codes")
	{
		verification.POST("", issueRateLimit, h.Verification.Issue)
		verification.POST("/resend", issueRateLimit, h.Verification.Resend)
		verification.POST("/validate", h.Verification.Validate)
	}

	tokens := api.Group("/secret-tokens")
	{
		tokens.POST("/password-reset", issueRateLimit, h.SecretTokens.PasswordReset)
		tokens.POST("/email-reset", issueRateLimit, h.SecretTokens.EmailReset)
		tokens.POST("/validate", h.SecretTokens.Validate)
	}

	return r
}
