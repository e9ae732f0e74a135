// internal/app/server.go
package app

import (
	"context"
	"log"
	"net/http"

	"go.uber.org/zap"

	"identity-service/internal/config"
	"identity-service/internal/db"
	adminhandler "identity-service/internal/handlers/admin"
	authhandler "identity-service/internal/handlers/auth"
	tenanthandler "identity-service/internal/handlers/tenant"
	"identity-service/internal/pkg/crypto"
	"identity-service/internal/pkg/oidc"
	"identity-service/internal/pkg/session"
	"identity-service/internal/pkg/tenantctx"
	"identity-service/internal/repository/postgres"
	auditsvc "identity-service/internal/service/audit"
	authsvc "identity-service/internal/service/auth"
	lockoutsvc "identity-service/internal/service/lockout"
	tenantsvc "identity-service/internal/service/tenant"
	ws "identity-service/internal/websocket"
)

// Server wires configuration, storage, services and HTTP routing.
type Server struct {
	cfg        config.AppConfig
	logger     *zap.Logger
	httpServer *http.Server

	// background tasks (hub, retention sweeper) stop with this
	cancel context.CancelFunc
}

func NewServer() *Server {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}

	pool, err := db.ConnectDB(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}

	redisClient, err := db.NewRedisClient(db.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
	})
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}

	protector, err := crypto.NewProtector(cfg.SessionKey)
	if err != nil {
		logger.Fatal("failed to initialize token protector", zap.Error(err))
	}

	issuer := oidc.New(oidc.Config{
		IssuerURL:    cfg.OIDC.IssuerURL,
		ClientID:     cfg.OIDC.ClientID,
		ClientSecret: cfg.OIDC.ClientSecret,
		Timeout:      cfg.OIDC.Timeout,
	})

	store := session.NewStore(redisClient, protector, issuer, cfg.SlidingWindow, logger)

	// Repositories
	database := postgres.NewDB(pool)
	userRepo := postgres.NewUserRepository(pool)
	tenantRepo := postgres.NewTenantRepository(database)
	lockoutRepo := postgres.NewLockoutRepository(pool)
	auditRepo := postgres.NewAuditRepository(pool)

	// Background workers
	hub := ws.NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	// Services
	auditor := auditsvc.NewService(auditRepo, hub, cfg.AuditRetentionDays, cfg.AuditSweepInterval, logger)
	go auditor.RunRetentionSweeper(ctx)

	locker := lockoutsvc.NewService(lockoutRepo, cfg.Lockout, logger)
	tenants := tenantsvc.NewService(tenantRepo, store, auditor, cfg.ImpersonationTTL, logger)
	authService := authsvc.NewService(userRepo, tenantRepo, store, issuer, locker, auditor, cfg.SessionTTL, logger)

	resolver := tenantctx.NewResolver(store, tenantRepo, logger)

	// Handlers
	authHandler := authhandler.NewHandler(authService, cfg.CookieSecure)
	tenantHandler := tenanthandler.NewHandler(tenants)
	adminHandler := adminhandler.NewHandler(tenants, locker, auditor, hub)

	router := SetupRouter(logger, resolver, authHandler, tenantHandler, adminHandler)

	return &Server{
		cfg:    cfg,
		logger: logger,
		cancel: cancel,
		httpServer: &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: router,
		},
	}
}

// Start blocks serving HTTP until shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.cfg.HTTPAddr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops background workers and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) {
	s.cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("http shutdown failed", zap.Error(err))
	}
	s.logger.Sync()
}
