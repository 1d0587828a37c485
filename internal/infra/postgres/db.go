// Package postgres は pgvector によるメタデータインデックスと、キャリブレーションスナップショットの PostgreSQL 実装を提供する
package postgres

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX はプールとトランザクションの共通インターフェース
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Conn はトランザクションを開始できる接続 (*pgxpool.Pool が満たす)
type Conn interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// schemaStatements は Migrate が順に実行するDDL
var schemaStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,
	`CREATE TABLE IF NOT EXISTS metadata_indexes (
		name           TEXT PRIMARY KEY,
		dimension      INTEGER NOT NULL,
		document_count INTEGER NOT NULL,
		built_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS metadata_documents (
		id          UUID PRIMARY KEY,
		index_name  TEXT NOT NULL REFERENCES metadata_indexes(name) ON DELETE CASCADE,
		content     TEXT NOT NULL,
		doc_type    TEXT NOT NULL,
		column_name TEXT,
		table_name  TEXT NOT NULL,
		embedding   vector NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_metadata_documents_index_name ON metadata_documents(index_name)`,
	`CREATE TABLE IF NOT EXISTS calibration_snapshots (
		name       TEXT PRIMARY KEY,
		document   JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate はテーブルと拡張を作成する (冪等)
func Migrate(ctx context.Context, db DBTX) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// transact はトランザクションを開き fn を実行する。fn がエラーを返した場合はロールバックする
func transact[T any](ctx context.Context, db Conn, fn func(pgx.Tx) (T, error)) (T, error) {
	var zero T
	tx, err := db.Begin(ctx)
	if err != nil {
		return zero, fmt.Errorf("failed to begin transaction: %w", err)
	}

	result, err := fn(tx)
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return zero, fmt.Errorf("tx rollback failed: %v (original err: %w)", rbErr, err)
		}
		return zero, err
	}

	if err := tx.Commit(ctx); err != nil {
		return zero, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return result, nil
}

// GenerateLockID は文字列からアドバイザリロックIDを生成する
func GenerateLockID(parts ...string) int64 {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	hash := h.Sum(nil)

	// ハッシュの最初の8バイトをint64として使用
	var id int64
	for i := range 8 {
		id = (id << 8) | int64(hash[i])
	}

	return id
}

// acquireLock はトランザクションスコープのアドバイザリロックを取得する。
// ロックはトランザクション終了時に自動で解放される
func acquireLock(ctx context.Context, tx pgx.Tx, lockID int64) error {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", lockID); err != nil {
		return fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	return nil
}
