package container

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	database "github.com/nivara-labs/identity-core/app/db"
	"github.com/nivara-labs/identity-core/app/events"
	"github.com/nivara-labs/identity-core/config"
	"github.com/nivara-labs/identity-core/internal/api/audit"
	"github.com/nivara-labs/identity-core/internal/api/auth"
	"github.com/nivara-labs/identity-core/internal/api/membership"
	"github.com/nivara-labs/identity-core/internal/api/profile"
	"github.com/nivara-labs/identity-core/internal/api/status"
	"github.com/nivara-labs/identity-core/internal/api/tenant"
)

// Container holds all application dependencies
type Container struct {
	Config     *config.Config
	Logger     *slog.Logger
	Pool       *pgxpool.Pool
	Dispatcher events.Dispatcher

	AuthHandler       *auth.HandlerImpl
	StatusHandler     *status.HandlerImpl
	MembershipHandler *membership.HandlerImpl
	ProfileHandler    *profile.HandlerImpl
	TenantHandler     *tenant.HandlerImpl
	AuditHandler      *audit.HandlerImpl
}

// NewContainer initializes and returns a new dependency container
func NewContainer(cfg *config.Config, logger *slog.Logger) (*Container, error) {
	dbConfig, err := database.NewDatabaseConfig(cfg, logger)
	if err != nil {
		logger.Error("Failed to generate database config", slog.Any("error", err))
		return nil, err
	}

	pool, err := database.Init(dbConfig.ConnectionURL, logger)
	if err != nil {
		logger.Error("Failed to initialize database pool", slog.Any("error", err))
		return nil, err
	}

	var dispatcher events.Dispatcher
	if cfg.Kafka.Enabled {
		dispatcher = events.NewKafkaDispatcher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
	} else {
		logger.Info("Kafka disabled, notifications will not be dispatched")
		dispatcher = events.NoopDispatcher{}
	}

	// Every repository shares one audit recorder so mutations and their
	// audit rows commit in the same transaction.
	recorder := audit.NewPostgresRecorder(logger)

	statusRepo := status.NewPostgresStatusRepo(pool, recorder, logger)
	statusService := status.NewStatusService(statusRepo, dispatcher, cfg, logger)
	statusHandler := status.NewHandlerImpl(statusService, logger)

	authRepo := auth.NewPostgresAuthRepo(pool, recorder, logger)
	authService := auth.NewAuthService(authRepo, statusService, dispatcher, cfg, logger)
	authHandler := auth.NewHandlerImpl(authService, logger)

	membershipRepo := membership.NewPostgresMembershipRepo(pool, recorder, logger)
	membershipService := membership.NewMembershipService(membershipRepo, dispatcher, logger)
	membershipHandler := membership.NewHandlerImpl(membershipService, logger)

	profileRepo := profile.NewPostgresProfileRepo(pool, recorder, logger)
	profileService := profile.NewProfileService(profileRepo, dispatcher, logger)
	profileHandler := profile.NewHandlerImpl(profileService, logger)

	tenantRepo := tenant.NewPostgresTenantRepo(pool, recorder, logger)
	tenantService := tenant.NewTenantService(tenantRepo, logger)
	tenantHandler := tenant.NewHandlerImpl(tenantService, logger)

	auditRepo := audit.NewPostgresAuditRepo(pool, logger)
	auditService := audit.NewAuditService(auditRepo, logger)
	auditHandler := audit.NewHandlerImpl(auditService, logger)

	return &Container{
		Config:            cfg,
		Logger:            logger,
		Pool:              pool,
		Dispatcher:        dispatcher,
		AuthHandler:       authHandler,
		StatusHandler:     statusHandler,
		MembershipHandler: membershipHandler,
		ProfileHandler:    profileHandler,
		TenantHandler:     tenantHandler,
		AuditHandler:      auditHandler,
	}, nil
}

// Close releases all resources held by the container
func (c *Container) Close() {
	if c.Dispatcher != nil {
		if err := c.Dispatcher.Close(); err != nil {
			c.Logger.Warn("Failed to close dispatcher", slog.Any("error", err))
		}
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}

// WaitForDB waits for the database to be ready
func (c *Container) WaitForDB(ctx context.Context) bool {
	return database.WaitForDB(ctx, c.Pool, c.Logger)
}

// RunMigrations runs database migrations
func (c *Container) RunMigrations(connectionURL string) error {
	return database.RunMigrations(connectionURL, c.Logger)
}
