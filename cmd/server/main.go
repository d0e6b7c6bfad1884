package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"attachment-gateway/internal/api"
	"attachment-gateway/internal/apperr"
	"attachment-gateway/internal/auth"
	"attachment-gateway/internal/config"
	"attachment-gateway/internal/mapping"
	"attachment-gateway/internal/migrate"
	"attachment-gateway/internal/service"
	"attachment-gateway/internal/store"
)

func main() {
	ctx := context.Background()

	// 1. Load config; any configuration error is fatal before serving.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()
	zlog.Info("config loaded",
		zap.Int("port", cfg.Server.Port),
		zap.Bool("mock_oauth", cfg.Authentication.UseMockOAuth),
		zap.String("mapping_service", cfg.MappingService.BaseURL),
	)

	// 2. Migrate schema. Failure is logged and startup continues; the
	// operational policy for serving against an unmigrated schema is an open
	// question tracked in DESIGN.md.
	if err := migrate.Up(ctx, cfg.Database.DSN()); err != nil {
		zlog.Warn("schema migration failed, continuing startup", zap.Error(err))
	}

	// 3. Connect to the entity store.
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		zlog.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// 4. Token validator: mode resolved exactly once, fail-fast on missing
	// signing material.
	validator, err := auth.NewValidator(cfg, zlog)
	if err != nil {
		zlog.Fatal("failed to construct token validator", zap.Error(err))
	}

	revocations := auth.NewRevocationList()

	var issuer *auth.Issuer
	if cfg.Authentication.UseMockOAuth {
		issuer = auth.NewIssuer(cfg.JWT)
	}

	// 5. Services and outbound client.
	attachments := service.NewAttachmentService(db, zlog)
	mappingClient := mapping.NewClient(cfg.MappingService, zlog)

	// 6. Fiber app.
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler(zlog),
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	// 7. Middleware chain: delegated guard strictly before token validation.
	guardMW := auth.GuardMiddleware(revocations)
	authMW := auth.RequireAuth(validator)
	adminMW := auth.RequireAdmin()

	handler := api.NewHandler(attachments, mappingClient)
	authHandler := api.NewAuthHandler(issuer, revocations, zlog)
	api.RegisterRoutes(app, handler, authHandler, guardMW, authMW, adminMW, cfg.Authentication.UseMockOAuth)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	zlog.Info("starting server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		zlog.Fatal("server stopped", zap.Error(err))
	}
}

func errorHandler(zlog *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var appErr *apperr.AppError
		if errors.As(err, &appErr) {
			return c.Status(appErr.Status).JSON(apperr.ErrorResponse{Error: appErr})
		}

		code := fiber.StatusInternalServerError
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			code = fiberErr.Code
		}

		zlog.Error("unhandled request error", zap.Error(err))
		return c.Status(code).JSON(apperr.ErrorResponse{
			Error: &apperr.AppError{
				Code:    "INTERNAL_ERROR",
				Message: "Internal server error",
			},
		})
	}
}
