package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-iam/internal/events"
	"github.com/odyssey-erp/odyssey-iam/internal/mail"
	"github.com/odyssey-erp/odyssey-iam/internal/password"
	"github.com/odyssey-erp/odyssey-iam/internal/permissions"
	"github.com/odyssey-erp/odyssey-iam/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/relations"
	"github.com/odyssey-erp/odyssey-iam/internal/roles"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
)

// Services holds the domain services shared by the server and the worker.
type Services struct {
	Hasher      *password.Argon2
	Permissions *permissions.Service
	Roles       *roles.Service
	Users       *users.Service
	RBAC        *rbac.Service
}

// ServiceDeps groups the infrastructure the domain services run on.
type ServiceDeps struct {
	Config    *Config
	Pool      *pgxpool.Pool
	Cache     *cache.Store
	Publisher events.Publisher
	Logger    *slog.Logger
}

// BuildServices composes the domain services. Permissions are built first,
// then roles over them, then users over roles; the back links used to drop
// relation mirrors on delete are attached afterwards.
func BuildServices(deps ServiceDeps) (*Services, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config
	hasher, err := password.NewArgon2(password.Config{
		MemoryKB:    cfg.Argon2MemoryKB,
		Time:        cfg.Argon2Time,
		Parallelism: cfg.Argon2Parallelism,
	})
	if err != nil {
		return nil, err
	}
	emitter := events.NewEmitter(deps.Publisher, logger)

	permissionService := permissions.NewService(
		permissions.NewStore(permissions.NewRepository(deps.Pool), deps.Cache, emitter, logger), logger)
	roleService := roles.NewService(roles.ServiceParams{
		Store:       roles.NewStore(roles.NewRepository(deps.Pool), deps.Cache, emitter, logger),
		Permissions: permissionService,
		Relations:   relations.NewPostgresRepository(deps.Pool, relations.RolePermissions),
		Cache:       deps.Cache,
		Emitter:     emitter,
		Logger:      logger,
	})
	permissionService.SetReferrers(roleService.Grants())

	userRepo := users.NewRepository(deps.Pool)
	userService := users.NewService(users.ServiceParams{
		Repo:      userRepo,
		Store:     users.NewStore(userRepo, deps.Cache, emitter, logger),
		Hasher:    hasher,
		Roles:     roleService,
		Relations: relations.NewPostgresRepository(deps.Pool, relations.UserRoles),
		Cache:     deps.Cache,
		Emitter:   emitter,
		Logger:    logger,
	})
	roleService.SetReferrers(userService.Memberships())

	return &Services{
		Hasher:      hasher,
		Permissions: permissionService,
		Roles:       roleService,
		Users:       userService,
		RBAC:        rbac.NewService(userService, roleService, logger),
	}, nil
}

// NewMailSender selects the outbound mail transport.
func NewMailSender(cfg *Config, logger *slog.Logger) (mail.Sender, error) {
	if cfg.MailTransport != "smtp" {
		return &mail.LogSender{Logger: logger}, nil
	}
	sender, err := mail.NewSMTPSender(mail.SMTPConfig{
		Host:          cfg.SMTPHost,
		Port:          cfg.SMTPPort,
		From:          cfg.SMTPFrom,
		Username:      cfg.SMTPUsername,
		Password:      cfg.SMTPPassword,
		RatePerSecond: cfg.MailRatePerSecond,
	})
	if err != nil {
		return nil, err
	}
	return sender, nil
}
