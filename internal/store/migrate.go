package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/mongodb"
	_ "github.com/golang-migrate/migrate/v4/source/file" // File source for golang-migrate
	"github.com/lightcar-iot/lightcar/internal/constants"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Migrate applies every pending migration found in dir to the configured database.
// Having nothing to apply is not an error.
func Migrate(ctx context.Context, cfg Config, dir string) (err error) {
	if cfg.URI == "" {
		return fmt.Errorf("connection string is required, set %s", constants.MongoURIEnv)
	}
	if cfg.DBName == "" {
		cfg.DBName = constants.DefaultDBName
	}

	c, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI).SetServerSelectionTimeout(opTimeout))
	if err != nil {
		return fmt.Errorf("failed to connect to document store: %v", err)
	}

	driver, err := mongodb.WithInstance(c, &mongodb.Config{DatabaseName: cfg.DBName})
	if err != nil {
		return errors.Join(fmt.Errorf("failed to create migration driver: %v", err), c.Disconnect(ctx))
	}

	m, err := migrate.NewWithDatabaseInstance(fmt.Sprintf("file://%s", dir), "mongodb", driver)
	if err != nil {
		return errors.Join(fmt.Errorf("failed to create migration instance: %v", err), driver.Close())
	}
	// Closing the migration instance disconnects the client.
	defer func() {
		if sErr, dbErr := m.Close(); sErr != nil || dbErr != nil {
			if sErr != nil {
				slog.Error("Failed to close migration source", "error", sErr)
			}
			if dbErr != nil {
				slog.Error("Failed to close document store connection", "error", dbErr)
			}
		}
	}()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("No new migrations to apply")
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %v", err)
	}

	slog.Info("Migrations applied successfully", "db", cfg.DBName)
	return nil
}
