package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type DB struct {
	*sqlx.DB
}

type Config struct {
	Host     string
	Port     int
	UserName string
	Password string
	DBName   string
}

// SSLMode はlocalhostの場合のみSSLを無効化します
func (c Config) SSLMode() string {
	if c.Host == "localhost" || c.Host == "127.0.0.1" {
		return "disable"
	}
	return "require"
}

// DSN returns the database connection string
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.UserName,
		c.Password,
		c.DBName,
		c.SSLMode(),
	)
}

// NewDB はPostgreSQLへ接続します。tracing が true の場合はX-Ray対応のドライバを使用します
func NewDB(ctx context.Context, cfg Config, tracing bool) (*DB, error) {
	var (
		db  *sql.DB
		err error
	)
	if tracing {
		db, err = xray.SQLContext("postgres", cfg.DSN())
	} else {
		db, err = sql.Open("postgres", cfg.DSN())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// コネクションプールの設定
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{sqlx.NewDb(db, "postgres")}, nil
}
