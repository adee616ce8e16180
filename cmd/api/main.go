package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	common_api "go-opsdesk/internal/common/api"
	common_models "go-opsdesk/internal/common/models"
	"go-opsdesk/internal/config"
	"go-opsdesk/internal/database"
	"go-opsdesk/internal/features/approval"
	"go-opsdesk/internal/features/audit"
	"go-opsdesk/internal/features/system"
	"go-opsdesk/internal/features/user"
	"go-opsdesk/internal/logger"
	"go-opsdesk/internal/middleware"
	"go-opsdesk/pkg/utils"

	_ "go-opsdesk/docs" // Import swagger docs

	"github.com/gofiber/fiber/v2"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// NewFiberServer creates a new Fiber app instance
func NewFiberServer(cfg *config.Config, log *zap.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		Immutable:             true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return common_models.Fail(c, code, "Error", err.Error(), nil)
		},
	})

	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.RequestLogger(log))
	app.Use(middleware.CORSMiddleware(cfg))

	return app
}

// AsRoute is a helper function to reduce boilerplate.
// It tags the constructor so Fx knows to add it to the "routes" group.
func AsRoute(f any) any {
	return fx.Annotate(
		f,
		fx.As(new(common_api.Route)),    // Cast to Interface
		fx.ResultTags(`group:"routes"`), // Add to Group
	)
}

// RegisterAllRoutes takes the group "routes" (slice of interfaces)
// and calls Setup() on each one.
func RegisterAllRoutes(app *fiber.App, routes []common_api.Route, log *zap.Logger) {
	log.Info("Registering routes", zap.Int("count", len(routes)))
	for _, route := range routes {
		log.Debug("Setting up route", zap.String("type", fmt.Sprintf("%T", route)))
		route.Setup(app)
	}
}

// RegisterAllRoutesWithAnnotation wraps RegisterAllRoutes with fx annotations
var RegisterAllRoutesWithAnnotation = fx.Annotate(
	RegisterAllRoutes,
	fx.ParamTags(``, `group:"routes"`, ``),
)

// StartServer creates a lifecycle hook to start Fiber in a goroutine
// and shut it down when the app exits.
func StartServer(lc fx.Lifecycle, app *fiber.App, cfg *config.Config, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				port := fmt.Sprintf(":%s", cfg.Port)
				log.Info("HTTP server listening", zap.String("addr", port))
				if err := app.Listen(port); err != nil {
					log.Fatal("Server failed to start", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return app.ShutdownWithContext(ctx)
		},
	})
}

// InitializeSchema creates tables and indexes before the server accepts traffic.
func InitializeSchema(lc fx.Lifecycle, store approval.Store, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()

			if err := store.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("ensure approval schema: %w", err)
			}
			log.Info("Approval schema ready")
			return nil
		},
	})
}

// storeOptions selects the persistence stack for STORE_DRIVER: the approval
// store, the user directory and the audit sink always come from one backend.
func storeOptions(cfg *config.Config) (fx.Option, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		return fx.Provide(
			fx.Annotate(approval.NewMemoryStore, fx.As(new(approval.Store))),
			user.NewMemoryUserRepositoryFromConfig,
			audit.NewLogSink,
		), nil
	case config.DriverMongo:
		return fx.Provide(
			database.NewMongoDatabase,
			approval.NewMongoStore,
			user.NewUserRepository,
			audit.NewMongoSink,
		), nil
	case config.DriverPostgres:
		return fx.Provide(
			database.NewPostgresDatabase,
			approval.NewPostgresStore,
			user.NewPostgresUserRepository,
			audit.NewPostgresSink,
		), nil
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

// @title           Opsdesk Approval API
// @version         1.0
// @description     Multi-level approval workflows for requests, payments, payroll runs and projects.

// @contact.name    Operations Platform Team

// @host            localhost:8080
// @BasePath        /
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	utils.SetSecret(cfg.JWTSecret)

	stores, err := storeOptions(cfg)
	if err != nil {
		log.Fatal(err)
	}

	app := fx.New(
		fx.Supply(cfg),
		stores,
		fx.Provide(
			// Initialize Logger
			logger.NewLogger,

			// Initialize Fiber Server
			NewFiberServer,

			// Approval engine
			approval.NewRegistryFromConfig,
			approval.NewAuthorizer,
			audit.ProvideDispatcher,
			func(d *audit.Dispatcher) audit.Recorder { return d },
			approval.NewApprovalService,
			approval.ProvideReconciler,
			func(s approval.ApprovalService) system.ActorResolver { return s },

			// Initialize Controller
			approval.NewApprovalController,
			system.NewDebugController,

			// Initialize API Routes
			AsRoute(approval.NewApprovalApi),
			AsRoute(system.NewDebugApi),
			AsRoute(system.NewHealthApi),
			AsRoute(system.NewSwaggerApi),
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
		fx.Invoke(
			InitializeSchema,
			// Register Routes & Start
			RegisterAllRoutesWithAnnotation,
			StartServer,
			func(*approval.Reconciler) {},
		),
	)

	app.Run()
}
