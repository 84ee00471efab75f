package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	appErr "judged/pkg/errors"
)

// Config holds MySQL connection configuration
type Config struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// MySQL wraps a database/sql pool for the relational store.
type MySQL struct {
	db *sql.DB
}

// NewMySQL opens a connection pool and verifies connectivity.
func NewMySQL(cfg Config) (*MySQL, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "failed to connect to mysql at %s:%d", cfg.Host, cfg.Port)
	}

	return &MySQL{db: db}, nil
}

// DB exposes the underlying pool to the repositories.
func (m *MySQL) DB() *sql.DB {
	return m.db
}

func (m *MySQL) Ping(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return appErr.Wrap(err, appErr.DatabaseError)
	}
	return nil
}

func (m *MySQL) Close() error {
	return m.db.Close()
}
