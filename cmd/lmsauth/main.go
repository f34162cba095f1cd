package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/chi-demo/app"
	dbutils "github.com/tendant/db-utils/db"
	"github.com/tendant/simple-lms/pkg/bootstrap"
	"github.com/tendant/simple-lms/pkg/client"
	"github.com/tendant/simple-lms/pkg/config"
	"github.com/tendant/simple-lms/pkg/device"
	deviceapi "github.com/tendant/simple-lms/pkg/device/api"
	"github.com/tendant/simple-lms/pkg/login"
	"github.com/tendant/simple-lms/pkg/loginflow"
	loginflowapi "github.com/tendant/simple-lms/pkg/loginflow/api"
	"github.com/tendant/simple-lms/pkg/tokengenerator"
)

func main() {
	// Setup logger
	logLevel := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logLevel.Set(config.ParseLogLevel(cfg.Server.LogLevel))

	var pool *pgxpool.Pool
	if cfg.Device.Persistence == config.PersistencePostgres {
		pool, err = openDbPool(context.Background(), cfg.Database)
		if err != nil {
			slog.Error("Failed creating dbpool",
				"db", cfg.Database.Database,
				"host", cfg.Database.Host,
				"port", cfg.Database.Port,
				"user", cfg.Database.User,
				"error", err)
			os.Exit(1)
		}
		defer pool.Close()
		slog.Info("Database connected", "database", cfg.Database.Database, "schema", cfg.Database.Schema)
	}

	services, err := initializeServices(cfg, pool)
	if err != nil {
		slog.Error("Failed to initialize services", "error", err)
		os.Exit(1)
	}

	// Create first admin user if no users exist
	result, err := bootstrap.BootstrapAdmin(context.Background(), bootstrap.AdminBootstrapConfig{
		AdminEmail:    cfg.Server.SeedAdminEmail,
		AdminPassword: cfg.Server.SeedAdminPassword,
		LoginService:  services.loginService,
	})
	if err != nil {
		slog.Error("Failed to bootstrap administrator", "error", err)
		os.Exit(1)
	}
	bootstrap.PrintBootstrapResult(result)
	bootstrap.LogBootstrapSummary(result)

	server := app.DefaultApp()
	app.RoutesHealthz(server.R)
	app.RoutesHealthzReady(server.R)
	setupRoutes(server.R, services, cfg)

	slog.Info("LMS auth service ready", "baseUrl", cfg.Server.BaseUrl, "persistence", cfg.Device.Persistence)
	server.Run()
}

type Services struct {
	loginService     *login.LoginService
	deviceService    *device.DeviceService
	loginFlowService *loginflow.LoginFlowService
}

// openDbPool opens the pool through db-utils unless a non-default schema
// requires a search_path in the connection URL.
func openDbPool(ctx context.Context, d config.DatabaseConfig) (*pgxpool.Pool, error) {
	if d.UsesDefaultSchema() {
		return dbutils.NewDbPool(ctx, d.ToDbConfig())
	}
	return pgxpool.New(ctx, d.ToDatabaseURL())
}

func initializeServices(cfg config.Config, pool *pgxpool.Pool) (*Services, error) {
	var db login.DBTX
	if pool != nil {
		db = pool
	}

	userRepo, err := login.NewUserRepository(cfg.Device.Persistence, login.RepositoryConfig{DB: db, DataDir: cfg.Device.DataDir})
	if err != nil {
		return nil, err
	}
	deviceRepo, err := device.NewDeviceRepository(cfg.Device.Persistence, device.RepositoryConfig{DB: db, DataDir: cfg.Device.DataDir})
	if err != nil {
		return nil, err
	}

	// Durations were checked by config.Validate
	enrollmentTTL, _ := cfg.Device.ParseEnrollmentTTL()
	accessExpiry, _ := cfg.JWT.ParseAccessTokenExpiry()
	refreshExpiry, _ := cfg.JWT.ParseRefreshTokenExpiry()

	loginService := login.NewLoginService(userRepo)
	deviceService := device.NewDeviceService(deviceRepo,
		device.WithMaxActiveDevices(cfg.Device.MaxActive),
		device.WithEnrollmentTTL(enrollmentTTL),
		device.WithUserLookup(loginService),
	)
	tokenService := tokengenerator.NewJwtService(
		tokengenerator.NewJwtTokenGenerator(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Audience),
		tokengenerator.WithAccessTokenExpiry(accessExpiry),
		tokengenerator.WithRefreshTokenExpiry(refreshExpiry),
	)

	return &Services{
		loginService:     loginService,
		deviceService:    deviceService,
		loginFlowService: loginflow.NewLoginFlowService(loginService, deviceService, tokenService),
	}, nil
}

func setupRoutes(r *chi.Mux, services *Services, cfg config.Config) {
	ja := client.NewJWTAuth(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Audience)
	auth := []func(http.Handler) http.Handler{
		client.Verifier(ja),
		client.AuthUserMiddleware,
		client.RequireAuth,
	}
	if cfg.Device.EnforceActive {
		auth = append(auth, client.RequireActiveDevice(services.deviceService))
	}

	r.Mount("/api/auth", loginflowapi.Handler(loginflowapi.NewHandle(services.loginFlowService), auth...))

	deviceHandle := deviceapi.NewDeviceHandler(services.deviceService, services.loginService)

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(auth...)

		r.Mount("/api/devices", deviceapi.Handler(deviceHandle))

		adminRouter := chi.NewRouter()
		adminRouter.Group(func(r chi.Router) {
			r.Use(client.RequireAdmin)
			r.Mount("/", deviceapi.AdminHandler(deviceHandle))
		})
		r.Mount("/api/admin", adminRouter)
	})
}
