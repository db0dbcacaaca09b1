// Package database persists bridge state in SQL through gorm. Postgres is the
// production target, sqlite serves local setups and tests.
package database

import (
	"fmt"
	"net/url"
	"strings"

	"mabridge/logger"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// In order to connect to Postgresql fill out URL, or the discrete fields.
//
// To connect to sqlite, you just need to specify "sqlite" driver.
// By default it will use in-memory database. Name selects a file.
type DatabaseConfig struct {
	URL      string `yaml:"url" envconfig:"DATABASE_URL"`
	Name     string `yaml:"name" envconfig:"DATABASE_NAME"`
	Schema   string `yaml:"schema" envconfig:"DATABASE_SCHEMA"`
	Driver   string `yaml:"driver" envconfig:"DATABASE_DRIVER"`
	Username string `yaml:"username" envconfig:"DATABASE_USERNAME"`
	Password string `yaml:"password" envconfig:"DATABASE_PASSWORD"`
	Host     string `yaml:"host" envconfig:"DATABASE_HOST"`
	Port     string `yaml:"port" envconfig:"DATABASE_PORT"`
}

// ParseConnectionString turns a postgres:// URI or a file: sqlite DSN into a DatabaseConfig
func ParseConnectionString(connStr string) (DatabaseConfig, error) {
	// SQLite detection: starts with "file:"
	if strings.HasPrefix(connStr, "file:") {
		parts := strings.SplitN(connStr[5:], "?", 2)
		return DatabaseConfig{Name: parts[0], Driver: "sqlite"}, nil
	}

	parsedURL, err := url.Parse(connStr)
	if err != nil {
		return DatabaseConfig{}, fmt.Errorf("invalid connection string: %w", err)
	}
	if parsedURL.Scheme != "postgres" && parsedURL.Scheme != "postgresql" {
		return DatabaseConfig{}, fmt.Errorf("unsupported scheme: %s", parsedURL.Scheme)
	}

	username, password := "", ""
	if user := parsedURL.User; user != nil {
		username = user.Username()
		password, _ = user.Password()
	}

	port := parsedURL.Port()
	if port == "" {
		port = "5432" // default PostgreSQL port
	}

	return DatabaseConfig{
		Name:     strings.TrimPrefix(parsedURL.Path, "/"),
		Schema:   parsedURL.Query().Get("search_path"),
		Driver:   "postgres",
		Username: username,
		Password: password,
		Host:     parsedURL.Hostname(),
		Port:     port,
	}, nil
}

func ConnectToDB(cnf DatabaseConfig, lg logger.Logger) (*gorm.DB, error) {
	if lg == nil {
		lg = logger.NewNop()
	}
	if cnf.URL != "" {
		parsed, err := ParseConnectionString(cnf.URL)
		if err != nil {
			return nil, err
		}
		cnf = parsed
	}

	var (
		db  *gorm.DB
		err error
	)
	switch cnf.Driver {
	case "postgres":
		db, err = connectToPostgresql(cnf, lg)
	case "sqlite", "":
		db, err = connectToSqlite(cnf, lg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cnf.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	lg.Info("successfully auto-migrated", "driver", db.Dialector.Name())
	return db, nil
}

func gormConfig(cnf DatabaseConfig) *gorm.Config {
	prefix := ""
	if cnf.Schema != "" {
		prefix = cnf.Schema + "."
	}
	return &gorm.Config{
		NamingStrategy: schema.NamingStrategy{TablePrefix: prefix},
	}
}

func connectToPostgresql(cnf DatabaseConfig, lg logger.Logger) (*gorm.DB, error) {
	lg.Info("connecting to Postgresql", "host", cnf.Host, "database", cnf.Name)
	dsn := fmt.Sprintf(
		"user=%s password=%s host=%s port=%s dbname=%s sslmode=disable",
		cnf.Username, cnf.Password, cnf.Host, cnf.Port, cnf.Name,
	)
	if cnf.Schema != "" {
		dsn = fmt.Sprintf("%s search_path=%s", dsn, cnf.Schema)
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig(cnf))
	if err != nil {
		return nil, err
	}
	if cnf.Schema != "" {
		if err := db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", cnf.Schema)).Error; err != nil {
			return nil, fmt.Errorf("error while creating schema: %w", err)
		}
	}
	return db, nil
}

func connectToSqlite(cnf DatabaseConfig, lg logger.Logger) (*gorm.DB, error) {
	var dsn string
	if cnf.Name != "" {
		lg.Info("connecting to sqlite", "file", cnf.Name)
		dsn = fmt.Sprintf("file:%s?cache=shared", cnf.Name)
	} else {
		lg.Info("connecting to in-memory sqlite")
		dsn = "file::memory:?cache=shared"
	}

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(cnf))
	if err != nil {
		return nil, err
	}

	// one writer at a time, concurrent writers get "database is locked"
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&ConsumedNonce{},
		&NonceCounter{},
		&SwapEvent{},
		&Redemption{},
		&ValidatorCell{},
		&ValidatorEvent{},
		&Operation{},
		&ScanCursor{},
		&TokenBalance{},
		&TokenAllowance{},
		&TokenMinter{},
	)
}
