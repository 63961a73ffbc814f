package main

import (
	"github.com/querydeck/backend/internal/broker"
	"github.com/querydeck/backend/internal/config"
	"github.com/querydeck/backend/internal/models"
	"github.com/querydeck/backend/internal/services"
	"github.com/querydeck/backend/internal/utils"
	"github.com/querydeck/backend/pkg/logger"
)

// appServices holds all initialized services needed by the application.
type appServices struct {
	broker           *broker.Broker
	authService      *services.AuthService
	databaseService  *services.DatabaseService
	queryService     *services.QueryService
	apiKeyService    *services.ApiKeyService
	memberService    *services.MemberService
	retentionService *services.RetentionService
	taskQueue        services.TaskQueue
	worker           *services.Worker
}

// bootstrap initializes all application dependencies: database, services, schedulers.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)

	// Initialize database
	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Auto migrate database
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	// Initialize system logger
	services.InitSystemLogger(models.GetDB())

	// Initialize task queue (uses Redis if enabled, otherwise sync mode)
	emailService := services.NewEmailService(&cfg.SMTP)
	taskQueue := services.InitTaskQueue(cfg)
	if syncQueue, ok := taskQueue.(*services.SyncQueue); ok {
		syncQueue.SetProcessor(emailService.Send)
	}

	// Start async worker if Redis is enabled
	var worker *services.Worker
	if cfg.Redis.Enabled {
		worker = services.InitWorker(&cfg.Redis)
		if worker != nil {
			worker.SetProcessor(emailService.Send)
			if err := worker.Start(); err != nil {
				logger.Warn().Err(err).Msg("Failed to start task worker")
			}
		}
	}

	// Connection broker for tenant databases
	b := broker.New(models.GetDB(), &cfg.Broker)

	authService := services.NewAuthService(models.GetDB(), &cfg.JWT, &cfg.LDAP, taskQueue)
	if err := authService.CreateAdminIfNotExists(); err != nil {
		logger.Warn().Err(err).Msg("Failed to create admin user")
	}

	translator := services.NewAIService(&cfg.AI)

	// Retention scheduler for system logs and query history
	retentionService := services.NewRetentionService(models.GetDB())
	retentionService.Start()

	return &appServices{
		broker:           b,
		authService:      authService,
		databaseService:  services.NewDatabaseService(models.GetDB(), b),
		queryService:     services.NewQueryService(models.GetDB(), b, translator, &cfg.Broker),
		apiKeyService:    services.NewApiKeyService(models.GetDB()),
		memberService:    services.NewMemberService(models.GetDB()),
		retentionService: retentionService,
		taskQueue:        taskQueue,
		worker:           worker,
	}
}

// shutdown gracefully stops all services.
func (s *appServices) shutdown() {
	s.retentionService.Stop()
	s.broker.ShutdownAll()
	logger.Info().Msg("Schedulers and broker stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		s.taskQueue.Close()
	}
}
