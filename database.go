package main

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/henryk/byro/pkg/ledger"
	"github.com/henryk/byro/pkg/log"
	"github.com/henryk/byro/pkg/members"
	"github.com/henryk/byro/pkg/reconcile"
)

// In order to connect to PostgreSQL you need to fill out all the fields.
//
// To connect to sqlite, you just need to specify "sqlite" driver.
// By default it will use in-memory database. You can provide BYRO_DATABASE_NAME to use a file.
type DatabaseConfig struct {
	Name     string `env:"BYRO_DATABASE_NAME" env-default:""`
	Schema   string `env:"BYRO_DATABASE_SCHEMA" env-default:""`
	Driver   string `env:"BYRO_DATABASE_DRIVER" env-default:"sqlite"`
	Username string `env:"BYRO_DATABASE_USERNAME" env-default:"postgres"`
	Password string `env:"BYRO_DATABASE_PASSWORD" env-default:""`
	Host     string `env:"BYRO_DATABASE_HOST" env-default:"localhost"`
	Port     string `env:"BYRO_DATABASE_PORT" env-default:"5432"`
	Retries  int    `env:"BYRO_DATABASE_RETRIES" env-default:"5"`
}

// ParseConnectionString parses a PostgreSQL URI or a "file:" sqlite path
// and returns a DatabaseConfig
func ParseConnectionString(connStr string) (DatabaseConfig, error) {
	// SQLite detection: starts with "file:"
	if strings.HasPrefix(connStr, "file:") {
		// Separate path from query
		parts := strings.SplitN(connStr[5:], "?", 2)
		return DatabaseConfig{
			Name:    parts[0],
			Driver:  "sqlite",
			Retries: 1,
		}, nil
	}

	parsedURL, err := url.Parse(connStr)
	if err != nil {
		return DatabaseConfig{}, fmt.Errorf("invalid connection string: %w", err)
	}

	if parsedURL.Scheme != "postgres" && parsedURL.Scheme != "postgresql" {
		return DatabaseConfig{}, fmt.Errorf("unsupported scheme: %s", parsedURL.Scheme)
	}

	var username, password string
	if user := parsedURL.User; user != nil {
		username = user.Username()
		password, _ = user.Password()
	}

	port := parsedURL.Port()
	if port == "" {
		port = "5432" // default PostgreSQL port
	}

	retries := 5
	query := parsedURL.Query()
	if r := query.Get("retries"); r != "" {
		if retryVal, err := strconv.Atoi(r); err == nil {
			retries = retryVal
		}
	}

	return DatabaseConfig{
		Name:     strings.TrimPrefix(parsedURL.Path, "/"),
		Schema:   query.Get("search_path"),
		Driver:   "postgres",
		Username: username,
		Password: password,
		Host:     parsedURL.Hostname(),
		Port:     port,
		Retries:  retries,
	}, nil
}

// allModels lists every persistent type in migration order.
func allModels() []any {
	models := ledger.Models()
	models = append(models, members.Models()...)
	return append(models, reconcile.Models()...)
}

func gormConfig() *gorm.Config {
	return &gorm.Config{TranslateError: true}
}

func ConnectToDB(cnf DatabaseConfig, logger log.Logger) (*gorm.DB, error) {
	logger = log.OrNoop(logger).WithName("database")

	switch cnf.Driver {
	case "postgres":
		return connectToPostgresql(cnf, logger)
	case "sqlite", "":
		return connectToSqlite(cnf, logger)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cnf.Driver)
	}
}

func connectToPostgresql(cnf DatabaseConfig, logger log.Logger) (*gorm.DB, error) {
	logger.Info("connecting to PostgreSQL", "host", cnf.Host, "database", cnf.Name, "schema", cnf.Schema)
	if err := ensurePostgresqlSchema(cnf, logger); err != nil {
		return nil, fmt.Errorf("failed to ensure PostgreSQL schema: %w", err)
	}

	if err := migratePostgres(cnf, logger); err != nil {
		return nil, fmt.Errorf("failed to apply PostgreSQL migrations: %w", err)
	}

	// The DSN carries search_path, so table names need no schema prefix.
	db, err := gorm.Open(postgres.Open(postgresqlDSN(cnf)), gormConfig())
	if err != nil {
		return nil, err
	}
	return db, nil
}

func connectToSqlite(cnf DatabaseConfig, logger log.Logger) (*gorm.DB, error) {
	var dsn string
	if cnf.Name != "" {
		logger.Info("connecting to sqlite", "file", cnf.Name)
		dsn = fmt.Sprintf("file:%s?cache=shared&_foreign_keys=on", cnf.Name)
	} else {
		logger.Info("connecting to in-memory sqlite")
		dsn = "file::memory:?cache=shared&_foreign_keys=on"
	}

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite: %w", err)
	}
	logger.Debug("successfully auto-migrated")
	return db, nil
}

func postgresqlDSN(cnf DatabaseConfig) string {
	dsn := fmt.Sprintf(
		"user=%s password=%s host=%s port=%s dbname=%s sslmode=disable",
		cnf.Username, cnf.Password, cnf.Host, cnf.Port, cnf.Name,
	)
	if cnf.Schema != "" {
		dsn = fmt.Sprintf("%s search_path=%s", dsn, cnf.Schema)
	}
	return dsn
}

func ensurePostgresqlSchema(cnf DatabaseConfig, logger log.Logger) error {
	if cnf.Schema == "" {
		logger.Debug("no schema specified, skipping schema creation")
		return nil
	}

	dbConf := cnf
	dbConf.Schema = ""
	db, err := sqlx.Connect("postgres", postgresqlDSN(dbConf))
	if err != nil {
		return err
	}
	defer db.Close()

	var exists bool
	if err := db.Get(&exists, "SELECT EXISTS(SELECT 1 FROM information_schema.schemata WHERE schema_name = $1)", cnf.Schema); err != nil {
		return fmt.Errorf("error while checking schema existence: %w", err)
	}
	if exists {
		logger.Debug("schema already exists", "schema", cnf.Schema)
		return nil
	}

	if _, err = db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %q", cnf.Schema)); err != nil {
		return fmt.Errorf("error while creating schema: %w", err)
	}
	logger.Info("schema created", "schema", cnf.Schema)
	return nil
}

func migratePostgres(cnf DatabaseConfig, logger log.Logger) error {
	db, err := goose.OpenDBWithDriver("postgres", postgresqlDSN(cnf))
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetBaseFS(embedMigrations)
	if err := goose.Up(db, "config/migrations/postgres"); err != nil {
		return err
	}

	logger.Info("applied migrations")
	return nil
}
