package main

import (
	"github.com/gin-gonic/gin"
	"github.com/querydeck/backend/internal/handlers"
	"github.com/querydeck/backend/internal/middleware"
	"github.com/querydeck/backend/internal/models"
	"github.com/querydeck/backend/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) {
	// Middleware
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS())

	// Rate limiter for unauthenticated auth routes
	authLimiter := middleware.NewRateLimiter(5, 10)

	// Health check
	healthHandler := handlers.NewHealthHandler(svc.broker)
	r.GET("/health", healthHandler.CheckHealth)

	authHandler := handlers.NewAuthHandler(svc.authService)
	projectHandler := handlers.NewProjectHandler(models.GetDB())
	memberHandler := handlers.NewMemberHandler(models.GetDB())
	databaseHandler := handlers.NewDatabaseHandler(svc.databaseService)
	queryHandler := handlers.NewQueryHandler(svc.queryService)
	apiKeyHandler := handlers.NewApiKeyHandler(models.GetDB())
	systemLogHandler := handlers.NewSystemLogHandler(models.GetDB())

	// API routes
	api := r.Group("/api")
	{
		// Auth routes (public, rate limited)
		auth := api.Group("/auth", authLimiter.Middleware())
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.Refresh)
			auth.POST("/verify", authHandler.VerifyEmail)
			auth.POST("/forgot-password", authHandler.ForgotPassword)
			auth.POST("/reset-password", authHandler.ResetPassword)
		}

		// Protected routes (JWT only)
		protected := api.Group("")
		protected.Use(middleware.AuthRequired(), middleware.AuditLog())
		{
			protected.GET("/auth/me", authHandler.Me)
			protected.POST("/auth/logout", authHandler.Logout)
			protected.POST("/auth/change-password", authHandler.ChangePassword)

			protected.GET("/projects", projectHandler.List)
			protected.POST("/projects", projectHandler.Create)
			protected.GET("/projects/slug/:slug", projectHandler.GetBySlug)

			protected.GET("/system-logs", systemLogHandler.List)
			protected.GET("/system-logs/modules", systemLogHandler.GetModules)
		}

		// Project-scoped routes (JWT or API key, role checked per group)
		project := api.Group("/projects/:id")
		project.Use(middleware.ApiKeyOrAuthRequired(svc.apiKeyService), middleware.AuditLog())
		{
			viewer := project.Group("", middleware.ProjectRole(svc.memberService, models.RoleViewer))
			{
				viewer.GET("", projectHandler.Get)
				viewer.GET("/versions", projectHandler.Versions)
				viewer.GET("/activities", projectHandler.Activities)
				viewer.GET("/members", memberHandler.List)
				viewer.GET("/databases", databaseHandler.List)
				viewer.GET("/databases/:db_id", databaseHandler.Get)
			}

			querier := project.Group("", middleware.ProjectPermission(svc.memberService, models.PermQueriesExecute))
			{
				querier.POST("/databases/:db_id/query", queryHandler.Execute)
				querier.POST("/databases/:db_id/ask", queryHandler.Ask)
			}

			// Permission gate rather than a role gate: custom-role members
			// may hold history:read without any standard role rank.
			history := project.Group("", middleware.ProjectPermission(svc.memberService, models.PermHistoryRead))
			{
				history.GET("/queries", queryHandler.History)
			}

			editor := project.Group("", middleware.ProjectRole(svc.memberService, models.RoleEditor))
			{
				editor.PUT("", projectHandler.Update)
				editor.POST("/databases", databaseHandler.Register)
				editor.POST("/databases/test", databaseHandler.TestSettings)
				editor.PUT("/databases/:db_id", databaseHandler.Update)
				editor.POST("/databases/:db_id/test", databaseHandler.Test)
			}

			admin := project.Group("", middleware.ProjectRole(svc.memberService, models.RoleAdmin))
			{
				admin.DELETE("", projectHandler.Delete)
				admin.POST("/members", memberHandler.Add)
				admin.PUT("/members/:user_id", memberHandler.UpdateRole)
				admin.DELETE("/members/:user_id", memberHandler.Remove)
				admin.PUT("/databases/:db_id/primary", databaseHandler.SetPrimary)
				admin.DELETE("/databases/:db_id", databaseHandler.Remove)
				admin.GET("/keys", apiKeyHandler.List)
				admin.POST("/keys", apiKeyHandler.Create)
				admin.DELETE("/keys/:key_id", apiKeyHandler.Revoke)
			}
		}
	}
}
