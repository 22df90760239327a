// Package testdb opens throwaway databases for tests.
//
// SQLite in memory is the default. Setting TEST_DB_DRIVER=postgres starts a
// PostgreSQL container through testcontainers instead.
package testdb

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	container "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func gormConfig() *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	}
}

// Sqlite opens a private in-memory SQLite database with foreign keys
// enforced and migrates models into it.
func Sqlite(t testing.TB, models ...any) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:test%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	require.NoError(t, err)

	// Every pooled connection to a shared-cache memory database sees the same
	// data, but one writer at a time avoids SQLITE_LOCKED in tests.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(models...))
	return db
}

// Postgres starts a PostgreSQL container and migrates models into it.
func Postgres(ctx context.Context, t testing.TB, models ...any) (*gorm.DB, testcontainers.Container) {
	t.Helper()

	const (
		dbName     = "byro"
		dbUser     = "postgres"
		dbPassword = "postgres"
	)

	postgresContainer, err := container.Run(ctx,
		"postgres:16-alpine",
		container.WithDatabase(dbName),
		container.WithUsername(dbUser),
		container.WithPassword(dbPassword),
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_HOST_AUTH_METHOD": "trust",
		}),
		testcontainers.WithWaitStrategy(
			wait.ForAll(
				wait.ForLog("database system is ready to accept connections"),
				wait.ForListeningPort("5432/tcp"),
			)))
	require.NoError(t, err)
	log.Println("started container:", postgresContainer.GetContainerID())

	url, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(postgres.Open(url), gormConfig())
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models...))

	return db, postgresContainer
}

// Setup picks SQLite or PostgreSQL based on TEST_DB_DRIVER. The returned
// cleanup releases the database.
func Setup(t testing.TB, models ...any) (*gorm.DB, func()) {
	t.Helper()

	ctx := context.Background()
	switch os.Getenv("TEST_DB_DRIVER") {
	case "postgres":
		db, c := Postgres(ctx, t, models...)
		return db, func() {
			if err := c.Terminate(ctx); err != nil {
				log.Printf("failed to terminate PostgreSQL container: %v", err)
			}
		}
	default:
		db := Sqlite(t, models...)
		return db, func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}
	}
}
