package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/labbook/labbook/internal/config"
	"github.com/labbook/labbook/internal/domain/admincase"
	"github.com/labbook/labbook/internal/domain/appointment"
	"github.com/labbook/labbook/internal/domain/auditlog"
	"github.com/labbook/labbook/internal/domain/catalog"
	"github.com/labbook/labbook/internal/domain/payment"
	"github.com/labbook/labbook/internal/domain/slot"
	"github.com/labbook/labbook/internal/platform/auth"
	"github.com/labbook/labbook/internal/platform/db"
	"github.com/labbook/labbook/internal/platform/middleware"
	"github.com/labbook/labbook/internal/platform/notification"
	"github.com/labbook/labbook/internal/platform/redislock"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "booking-server",
		Short: "Laboratory appointment booking API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the booking API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s).\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("migration status failed: %w", err)
			}
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Slot lock: Redis when configured, process-local noop otherwise
	var locker redislock.SlotLocker = redislock.NoopLocker{}
	if cfg.RedisURL != "" {
		client, err := redislock.NewClient(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer client.Close()
		locker = redislock.NewSlotLocker(client, cfg.SlotLockTTL)
		logger.Info().Msg("connected to redis")
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})

	e.GET("/health/db", db.HealthHandler(pool))

	apiV1 := e.Group("/api/v1")
	registerDomains(apiV1, pool, locker, cfg, logger)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// registerDomains is the composition root: every collaborator is constructed
// here and injected, components never construct one another.
func registerDomains(apiV1 *echo.Group, pool *pgxpool.Pool, locker redislock.SlotLocker, cfg *config.Config, logger zerolog.Logger) {
	serviceLookup := catalog.NewServiceRepoPG(pool)
	staffLookup := catalog.NewStaffRepoPG(pool)

	auditSvc := auditlog.NewService(auditlog.NewRepoPG(pool), logger)
	auditlog.NewHandler(auditSvc).RegisterRoutes(apiV1)

	var sender notification.EmailSender = notification.LogSender{Log: logger}
	notifySvc := notification.NewService(notification.NewTemplateEngine(), sender, logger)

	caseBridge := admincase.NewBridge(admincase.NewRepoPG(pool), logger)

	slotSvc := slot.NewAllocator(slot.NewRepoPG(pool), staffLookup, logger)
	slot.NewHandler(slotSvc).RegisterRoutes(apiV1)

	mgr := appointment.NewManager(appointment.ManagerDeps{
		Repo:     appointment.NewRepoPG(pool),
		Slots:    slotSvc,
		Services: serviceLookup,
		Staff:    staffLookup,
		Resolver: appointment.NewResolver(staffLookup),
		Bridge:   caseBridge,
		Payments: payment.NewRepoPG(pool),
		Notify:   notifySvc,
		Audit:    auditSvc,
		Locker:   locker,
		Config:   cfg,
		Tx: func(ctx context.Context, fn func(ctx context.Context) error) error {
			return db.WithTx(ctx, pool, fn)
		},
		Log: logger,
	})
	appointment.NewHandler(mgr).RegisterRoutes(apiV1)
}
