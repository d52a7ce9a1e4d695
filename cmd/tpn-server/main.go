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

	"github.com/ehr/tpn/internal/config"
	"github.com/ehr/tpn/internal/domain/extensions"
	"github.com/ehr/tpn/internal/domain/notes"
	"github.com/ehr/tpn/internal/domain/params"
	"github.com/ehr/tpn/internal/domain/ranges"
	"github.com/ehr/tpn/internal/domain/worksheet"
	"github.com/ehr/tpn/internal/platform/auth"
	"github.com/ehr/tpn/internal/platform/db"
	"github.com/ehr/tpn/internal/platform/middleware"
	"github.com/ehr/tpn/internal/platform/sandbox"
	"github.com/ehr/tpn/internal/platform/script"
	"github.com/ehr/tpn/internal/platform/telemetry"
	"github.com/ehr/tpn/internal/platform/websocket"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "tpn-server",
		Short: "TPN documentation engine API server",
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
		Short: "Start the TPN API server",
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
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default from MIGRATIONS_DIR)")
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
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
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
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default from MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	catalog, err := params.LoadCatalog(cfg.CatalogFile)
	if err != nil {
		logger.Fatal().Err(err).Str("file", cfg.CatalogFile).Msg("failed to load parameter catalog")
	}

	scriptCache := script.NewCache(cfg.ScriptCacheMax)
	engine := script.New(
		script.WithTimeout(time.Duration(cfg.ScriptTimeout())*time.Millisecond),
		script.WithMaxSteps(cfg.ScriptMaxSteps),
		script.WithPrecision(cfg.NumberPrecision),
		script.WithCache(scriptCache),
	)

	// Repositories: Postgres when DATABASE_URL is set, in-memory otherwise.
	// Validate rejects the in-memory mode outside development.
	var (
		pool     *pgxpool.Pool
		noteRepo notes.NoteRepository
		tplRepo  notes.TemplateRepository
		prefRepo params.PreferenceRepository
		rrRepo   ranges.RangeRepository
		evRepo   ranges.EventRepository
		fnRepo   extensions.FunctionRepository
	)

	ctx := context.Background()
	if cfg.InMemory() {
		noteRepo = notes.NewNoteRepoMem()
		tplRepo = notes.NewTemplateRepoMem()
		prefRepo = params.NewPreferenceRepoMem()
		rrRepo = ranges.NewRangeRepoMem()
		evRepo = ranges.NewEventRepoMem()
		fnRepo = extensions.NewFunctionRepoMem()
		logger.Info().Msg("running with in-memory repositories")
	} else {
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")

		noteRepo = notes.NewNoteRepoPG(pool)
		tplRepo = notes.NewTemplateRepoPG(pool)
		prefRepo = params.NewPreferenceRepoPG(pool)
		rrRepo = ranges.NewRangeRepoPG(pool)
		evRepo = ranges.NewEventRepoPG(pool)
		fnRepo = extensions.NewFunctionRepoPG(pool)
	}

	noteSvc := notes.NewService(noteRepo, tplRepo)
	paramSvc := params.NewService(catalog, prefRepo)
	rangeSvc := ranges.NewService(catalog, rrRepo, evRepo)
	extSvc := extensions.NewService(fnRepo, engine)

	metrics := telemetry.NewProvider(telemetry.Config{
		ServiceName:    "tpn-server",
		ServiceVersion: version,
		Environment:    cfg.Env,
	})
	hub := websocket.NewHub()

	worksheetSvc := worksheet.NewService(worksheet.Deps{
		Registry:  worksheet.NewRegistry(0),
		Engine:    engine,
		Notes:     noteSvc,
		Params:    paramSvc,
		Ranges:    rangeSvc,
		Functions: extSvc,
		Publisher: hub,
		Metrics:   metrics,
	})

	seeder := sandbox.NewSeeder(noteSvc, paramSvc, rangeSvc, extSvc, logger)
	if cfg.SeedDemo {
		if _, err := seeder.Seed(ctx, sandbox.DefaultSeedConfig()); err != nil {
			logger.Fatal().Err(err).Msg("failed to seed demo data")
		}
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.SanitizeWithLogger(logger))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.BodyLimit("2M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(metrics.MetricsMiddleware())

	// Public endpoints. Everything else requires authentication.
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if pool != nil {
		e.GET("/healthz/db", db.HealthHandler(pool))
	}
	e.GET("/metrics", metricsHandler(metrics, scriptCache, pool))

	authMW := auth.DevAuthMiddleware()
	if !cfg.IsDev() {
		authMW = auth.JWTMiddleware(auth.JWTConfig{SigningKey: []byte(cfg.JWTSecret)})
	}

	apiV1 := e.Group("/api/v1", authMW)
	apiV1.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))

	notes.NewHandler(noteSvc).RegisterRoutes(apiV1)
	params.NewHandler(paramSvc).RegisterRoutes(apiV1)
	ranges.NewHandler(rangeSvc).RegisterRoutes(apiV1)
	extensions.NewHandler(extSvc).RegisterRoutes(apiV1)
	worksheet.NewHandler(worksheetSvc).RegisterRoutes(apiV1)
	sandbox.NewSeedHandler(seeder).RegisterRoutes(apiV1.Group("/sandbox"))

	websocket.NewHandler(hub).RegisterRoutes(e.Group("", authMW))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
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

// metricsHandler serves Prometheus metrics, first syncing totals that are
// tracked outside the provider: compile cache activity and pool state.
func metricsHandler(m *telemetry.Provider, cache *script.Cache, pool *pgxpool.Pool) echo.HandlerFunc {
	prom := m.PrometheusHandler()
	return func(c echo.Context) error {
		stats := cache.Stats()
		m.SetCounter(telemetry.MetricCacheHits, stats.Hits)
		m.SetCounter(telemetry.MetricCacheMisses, stats.Misses)

		if pool != nil {
			ps := db.GetPoolStats(pool)
			m.GaugeSet("db.pool.active_connections", int64(ps.AcquiredConns))
			m.GaugeSet("db.pool.idle_connections", int64(ps.IdleConns))
		}
		return prom(c)
	}
}
