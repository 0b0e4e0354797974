package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentinel-admin/sentinel/cmd/sentinel/cli"
	"github.com/sentinel-admin/sentinel/internal/app"
	"github.com/sentinel-admin/sentinel/internal/auth"
	"github.com/sentinel-admin/sentinel/internal/dashboard"
	"github.com/sentinel-admin/sentinel/internal/observability"
	"github.com/sentinel-admin/sentinel/internal/platform/cache"
	"github.com/sentinel-admin/sentinel/internal/platform/db"
	"github.com/sentinel-admin/sentinel/internal/rbac"
	"github.com/sentinel-admin/sentinel/internal/roles"
	"github.com/sentinel-admin/sentinel/internal/seed"
	"github.com/sentinel-admin/sentinel/internal/shared"
	"github.com/sentinel-admin/sentinel/internal/users"
	"github.com/sentinel-admin/sentinel/internal/view"
	"github.com/sentinel-admin/sentinel/jobs"
)

const usage = `usage: sentinel <command> [flags]

commands:
  serve         run the HTTP server (default)
  migrate       apply database migrations
  seed          install the default permissions and roles
  user:create   create a user or update the administrator
  jobs:trigger  enqueue a job by type (otp:purge)
  jobs:stats    print queue depth
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	command, args := "serve", os.Args[1:]
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}
	os.Exit(run(ctx, command, args, cfg, logger))
}

func run(ctx context.Context, command string, args []string, cfg *app.Config, logger *slog.Logger) int {
	switch command {
	case "serve":
		return serve(ctx, cfg, logger)
	case "migrate":
		return migrate(ctx, cfg, logger)
	case "seed":
		return seedCatalog(ctx, cfg, logger)
	case "user:create":
		return createUser(ctx, args, cfg, logger)
	case "jobs:trigger":
		return triggerJob(ctx, args, cfg)
	case "jobs:stats":
		return jobStats(cfg)
	case "help", "-h", "--help":
		fmt.Fprint(os.Stdout, usage)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", command, usage)
		return 2
	}
}

func connect(ctx context.Context, cfg *app.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.Pool())
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return nil, err
	}
	return pool, nil
}

func migrate(ctx context.Context, cfg *app.Config, logger *slog.Logger) int {
	pool, err := connect(ctx, cfg, logger)
	if err != nil {
		return 1
	}
	defer pool.Close()
	if err := db.Migrate(pool, logger); err != nil {
		logger.Error("migrate", slog.Any("error", err))
		return 1
	}
	return 0
}

func seedCatalog(ctx context.Context, cfg *app.Config, logger *slog.Logger) int {
	pool, err := connect(ctx, cfg, logger)
	if err != nil {
		return 1
	}
	defer pool.Close()

	doc, err := seed.Default()
	if err != nil {
		logger.Error("load seed catalogue", slog.Any("error", err))
		return 1
	}
	rbacService := rbac.NewService(rbac.NewRepository(pool), logger, shared.NewAuditLogger(pool))
	report, err := seed.New(rbacService, logger).Run(ctx, doc)
	if err != nil {
		logger.Error("seed", slog.Any("error", err))
		return 1
	}
	fmt.Fprintf(os.Stdout, "permissions: %d created, %d updated; roles: %d created, %d synced\n",
		report.PermissionsCreated, report.PermissionsUpdated, report.RolesCreated, report.RolesSynced)
	return 0
}

func createUser(ctx context.Context, args []string, cfg *app.Config, logger *slog.Logger) int {
	fs := flag.NewFlagSet("user:create", flag.ContinueOnError)
	opts := cli.CreateUserOptions{}
	fs.StringVar(&opts.Role, "role", "", "role name (admin, user, ...)")
	fs.StringVar(&opts.FirstName, "first-name", "", "first name")
	fs.StringVar(&opts.LastName, "last-name", "", "last name")
	fs.StringVar(&opts.Email, "email", "", "email address")
	fs.StringVar(&opts.Password, "password", "", "password, optional when updating the administrator")
	fs.BoolVar(&opts.UpdateAdmin, "update-admin", false, "update the existing administrator instead of failing")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	pool, err := connect(ctx, cfg, logger)
	if err != nil {
		return 1
	}
	defer pool.Close()

	audit := shared.NewAuditLogger(pool)
	rbacService := rbac.NewService(rbac.NewRepository(pool), logger, audit)
	userService := users.NewService(users.NewRepository(pool), rbacService, logger, audit)
	userCLI, err := cli.NewUserCLI(rbacService, userService)
	if err != nil {
		logger.Error("init user cli", slog.Any("error", err))
		return 1
	}
	return userCLI.CreateCommand(ctx, opts)
}

func triggerJob(ctx context.Context, args []string, cfg *app.Config) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: sentinel jobs:trigger <type>")
		return 2
	}
	jobsCLI := cli.NewJobsCLI(cfg.Redis().Asynq())
	defer jobsCLI.Close()
	info, err := jobsCLI.Trigger(ctx, args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobs:trigger: %v\n", err)
		return 1
	}
	fmt.Fprintf(os.Stdout, "enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
	return 0
}

func jobStats(cfg *app.Config) int {
	jobsCLI := cli.NewJobsCLI(cfg.Redis().Asynq())
	defer jobsCLI.Close()
	stats, err := jobsCLI.InspectQueues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobs:stats: %v\n", err)
		return 1
	}
	cli.PrintStats(os.Stdout, stats)
	return 0
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) int {
	dbpool, err := connect(ctx, cfg, logger)
	if err != nil {
		return 1
	}
	defer dbpool.Close()

	if cfg.AutoMigrate {
		if err := db.Migrate(dbpool, logger); err != nil {
			logger.Error("migrate", slog.Any("error", err))
			return 1
		}
	}

	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "sentinel_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	templates, err := view.NewEngine()
	if err != nil {
		logger.Error("parse templates", slog.Any("error", err))
		return 1
	}

	metrics := observability.NewMetrics()

	redisOpts := cfg.Redis().Asynq()
	jobsClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)
	rbacService := rbac.NewService(rbac.NewRepository(dbpool), logger, auditLogger)
	userService := users.NewService(users.NewRepository(dbpool), rbacService, logger, auditLogger)
	authService := auth.NewService(auth.NewRepository(dbpool), jobsClient, logger, auth.Options{
		OTPTTL:     cfg.OTPTTL,
		TOTPIssuer: cfg.TOTPIssuer,
		AppName:    cfg.AppName,
	})

	gate := rbac.NewGate(rbacService, sessionManager, authService, logger).WithObserver(metrics)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Templates:          templates,
		SessionManager:     sessionManager,
		CSRFManager:        csrfManager,
		Gate:               gate,
		AuthHandler:        auth.NewHandler(logger, authService, templates, sessionManager, csrfManager),
		SettingsHandler:    auth.NewSettingsHandler(logger, authService, userService, templates, sessionManager, csrfManager, gate),
		DashboardHandler:   dashboard.NewHandler(logger, userService, rbacService, templates, csrfManager, gate),
		RolesHandler:       roles.NewHandler(logger, rbacService, templates, csrfManager, gate),
		UsersHandler:       users.NewHandler(logger, userService, templates, csrfManager, gate),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, rbacService, templates, csrfManager, gate),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	code := 0
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server", slog.Any("error", err))
			code = 1
		}
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	return code
}
