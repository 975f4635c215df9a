package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/uma-arai/sbcntr-parking/internal/common/database"
	"github.com/uma-arai/sbcntr-parking/internal/common/tracing"
)

type DB struct {
	*sqlx.DB
}

// NewDB は接続済みの database.DB をリポジトリ用にラップします
func NewDB(db *database.DB) *DB {
	return &DB{DB: db.DB}
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// BeginTx starts a new transaction
func (db *DB) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return db.DB.BeginTxx(ctx, nil)
}

// QueryxContext wraps sqlx.DB.QueryxContext with X-Ray tracing
func (db *DB) QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error) {
	ctx, span := tracing.Begin(ctx, "DB.Queryx")
	span.AddMetadata("query", query)

	rows, err := db.DB.QueryxContext(ctx, query, args...)
	span.End(err)
	return rows, err
}

// ExecContext wraps sqlx.DB.ExecContext with X-Ray tracing
func (db *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	ctx, span := tracing.Begin(ctx, "DB.Exec")
	span.AddMetadata("query", query)

	result, err := db.DB.ExecContext(ctx, query, args...)
	span.End(err)
	return result, err
}

// ext はトランザクションがあればそれを、なければコネクションプールを返します
func (db *DB) ext(tx *sqlx.Tx) sqlx.ExtContext {
	if tx != nil {
		return tx
	}
	return db.DB
}

// inTx はトランザクション内で fn を実行し、エラーがなければコミットします
func (db *DB) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// エラーが発生した場合のみロールバックを実行
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Printf("rollback failed: %v, original error: %v", rbErr, err)
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
