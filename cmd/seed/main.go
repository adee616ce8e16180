package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"go-opsdesk/internal/config"
	"go-opsdesk/internal/database"
	"go-opsdesk/internal/features/approval"
	"go-opsdesk/internal/features/user"
	"go-opsdesk/internal/logger"
	"go-opsdesk/pkg/utils"

	"github.com/lib/pq"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

const tokenTTL = 24 * time.Hour

// userWriter upserts seed users into the configured backend.
type userWriter func(ctx context.Context, users []user.User) error

func mongoUserWriter(mongodb *database.MongodbDB) userWriter {
	coll := mongodb.DB.Collection("users")
	return func(ctx context.Context, users []user.User) error {
		for _, u := range users {
			_, err := coll.ReplaceOne(ctx, bson.M{"_id": u.ID}, u, options.Replace().SetUpsert(true))
			if err != nil {
				return fmt.Errorf("upsert user %s: %w", u.ID, err)
			}
		}
		return nil
	}
}

func postgresUserWriter(pg *database.PostgresDB) userWriter {
	return func(ctx context.Context, users []user.User) error {
		query := `
			INSERT INTO users (id, username, email, status, permissions)
			VALUES ($1, $2, NULLIF($3, ''), $4, $5)
			ON CONFLICT (id) DO UPDATE
			SET username = EXCLUDED.username,
			    email = EXCLUDED.email,
			    status = EXCLUDED.status,
			    permissions = EXCLUDED.permissions
		`
		return withTx(ctx, pg.DB, func(tx *sql.Tx) error {
			for _, u := range users {
				if _, err := tx.ExecContext(ctx, query, u.ID, u.Username, u.Email, u.Status, pq.Array(u.Permissions)); err != nil {
					return fmt.Errorf("upsert user %s: %w", u.ID, err)
				}
			}
			return nil
		})
	}
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Seed loads USERS_FILE into the user directory and prints a development
// bearer token per user.
func Seed(
	lc fx.Lifecycle,
	cfg *config.Config,
	store approval.Store,
	write userWriter,
	logger *zap.Logger,
	shutdowner fx.Shutdowner,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				defer func() {
					if err := shutdowner.Shutdown(); err != nil {
						logger.Error("Failed to shutdown", zap.Error(err))
					}
				}()

				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				defer cancel()

				if err := store.EnsureSchema(ctx); err != nil {
					logger.Error("Failed to ensure schema", zap.Error(err))
					return
				}

				users, err := user.LoadUsersFile(cfg.UsersFile)
				if err != nil {
					logger.Error("Failed to read users file", zap.Error(err))
					return
				}
				if err := write(ctx, users); err != nil {
					logger.Error("Failed to seed users", zap.Error(err))
					return
				}
				logger.Info("Users seeded", zap.Int("count", len(users)))

				for _, u := range users {
					token, err := utils.GenerateToken(u.ID, tokenTTL)
					if err != nil {
						logger.Warn("Failed to mint token", zap.String("user_id", u.ID), zap.Error(err))
						continue
					}
					logger.Info("Development token",
						zap.String("user_id", u.ID),
						zap.String("username", u.Username),
						zap.String("token", token),
					)
				}
			}()
			return nil
		},
	})
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.UsersFile == "" {
		log.Fatal("USERS_FILE is required for seeding")
	}
	utils.SetSecret(cfg.JWTSecret)

	var backend fx.Option
	switch cfg.StoreDriver {
	case config.DriverMongo:
		backend = fx.Provide(database.NewMongoDatabase, approval.NewMongoStore, mongoUserWriter)
	case config.DriverPostgres:
		backend = fx.Provide(database.NewPostgresDatabase, approval.NewPostgresStore, postgresUserWriter)
	default:
		log.Fatalf("seeding needs STORE_DRIVER=mongo or postgres, got %q", cfg.StoreDriver)
	}

	app := fx.New(
		fx.Supply(cfg),
		backend,
		fx.Provide(
			logger.NewLogger,
			approval.NewRegistryFromConfig,
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
		fx.Invoke(Seed),
	)

	if err := app.Start(context.Background()); err != nil {
		log.Fatal(err)
	}

	<-app.Done()
	if err := app.Stop(context.Background()); err != nil {
		log.Printf("Failed to stop cleanly: %v", err)
	}
}
