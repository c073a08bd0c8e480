package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-iam/internal/app"
	"github.com/odyssey-erp/odyssey-iam/internal/audit"
	"github.com/odyssey-erp/odyssey-iam/internal/permissions"
	"github.com/odyssey-erp/odyssey-iam/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-iam/internal/platform/db"
	"github.com/odyssey-erp/odyssey-iam/internal/roles"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
	"github.com/odyssey-erp/odyssey-iam/jobs"
)

const seedActor = "seed"

// Every permission named by a route's capability entry.
var basePermissions = []permissions.CreateInput{
	{Name: users.PermView, Type: permissions.TypeView, Description: "View users"},
	{Name: users.PermManage, Type: permissions.TypeAdmin, Description: "Manage users and their roles"},
	{Name: roles.PermView, Type: permissions.TypeView, Description: "View roles"},
	{Name: roles.PermManage, Type: permissions.TypeAdmin, Description: "Manage roles and their permissions"},
	{Name: permissions.PermView, Type: permissions.TypeView, Description: "View permissions"},
	{Name: permissions.PermManage, Type: permissions.TypeAdmin, Description: "Manage permissions"},
	{Name: audit.PermView, Type: permissions.TypeView, Description: "Read the audit log"},
}

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	password := os.Getenv("SEED_ADMIN_PASSWORD")
	if password == "" {
		log.Fatal("SEED_ADMIN_PASSWORD is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()
	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		log.Fatalf("connect redis: %v", err)
	}
	defer redisClient.Close()
	jobClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer jobClient.Close()

	services, err := app.BuildServices(app.ServiceDeps{
		Config:    cfg,
		Pool:      pool,
		Cache:     cache.NewStore(redisClient, cfg.CacheTimeout),
		Publisher: jobClient,
		Logger:    app.NewLogger(cfg),
	})
	if err != nil {
		log.Fatalf("build services: %v", err)
	}

	fmt.Println("→ Seeding permissions...")
	permissionIDs, err := seedPermissions(ctx, services.Permissions)
	if err != nil {
		log.Fatalf("seed permissions: %v", err)
	}
	fmt.Println("→ Seeding administrator role...")
	roleID, err := seedAdminRole(ctx, services.Roles, permissionIDs)
	if err != nil {
		log.Fatalf("seed role: %v", err)
	}
	fmt.Println("→ Seeding admin user...")
	if err := seedAdminUser(ctx, services.Users, roleID, password); err != nil {
		log.Fatalf("seed admin: %v", err)
	}
	fmt.Println("✓ Seed complete")
}

func seedPermissions(ctx context.Context, svc *permissions.Service) ([]string, error) {
	existing, err := svc.List(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]string, len(existing))
	for _, p := range existing {
		byName[p.Name] = p.ID
	}
	ids := make([]string, 0, len(basePermissions))
	for _, in := range basePermissions {
		if id, ok := byName[in.Name]; ok {
			ids = append(ids, id)
			continue
		}
		created, err := svc.Create(ctx, seedActor, in)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", in.Name, err)
		}
		ids = append(ids, created.ID)
	}
	return ids, nil
}

func seedAdminRole(ctx context.Context, svc *roles.Service, permissionIDs []string) (string, error) {
	existing, err := svc.List(ctx)
	if err != nil {
		return "", err
	}
	roleID := ""
	for _, r := range existing {
		if r.Name == "administrator" {
			roleID = r.ID
			break
		}
	}
	if roleID == "" {
		created, err := svc.Create(ctx, seedActor, roles.CreateInput{
			Name:        "administrator",
			Type:        roles.TypeAdministrator,
			Description: "Full access to identity management",
		})
		if err != nil {
			return "", err
		}
		roleID = created.ID
	}
	return roleID, svc.AddPermissions(ctx, seedActor, roleID, permissionIDs)
}

func seedAdminUser(ctx context.Context, svc *users.Service, roleID, password string) error {
	creds, err := svc.FindCredentials(ctx, "admin")
	switch {
	case err == nil:
		return svc.AddRoles(ctx, seedActor, creds.User.ID, []string{roleID})
	case !errors.Is(err, shared.ErrNotFound):
		return err
	}
	admin, err := svc.Create(ctx, seedActor, users.CreateInput{
		Username: "admin",
		Password: password,
		Email:    "admin@odyssey.local",
	}, nil)
	if err != nil {
		return err
	}
	return svc.AddRoles(ctx, seedActor, admin.ID, []string{roleID})
}
