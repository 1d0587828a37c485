package tabular

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jinford/conformal-rag/internal/core/metadata"
)

// readSQLite は PRAGMA table_info で宣言型を読み、カラムごとにサンプル値を取得する。
// 指定テーブルが無ければ先頭のユーザーテーブルを使う
func (l *Loader) readSQLite(ctx context.Context) (metadata.TableSchema, error) {
	// 存在しないパスを開くと空のデータベースが作られるため先に確認する
	if _, err := os.Stat(l.path); err != nil {
		return metadata.TableSchema{}, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db, err := sql.Open("sqlite", l.path)
	if err != nil {
		return metadata.TableSchema{}, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	defer db.Close()

	table, err := resolveTable(ctx, db, l.tableName)
	if err != nil {
		return metadata.TableSchema{}, err
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return metadata.TableSchema{}, fmt.Errorf("failed to read table info: %w", err)
	}
	defer rows.Close()

	var columns []metadata.Column
	for rows.Next() {
		var (
			cid        int
			name       string
			declType   string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &declType, &notNull, &defaultVal, &pk); err != nil {
			return metadata.TableSchema{}, fmt.Errorf("failed to scan table info: %w", err)
		}
		if declType == "" {
			declType = TypeText
		}
		columns = append(columns, metadata.Column{Name: name, Type: strings.ToUpper(declType)})
	}
	if err := rows.Err(); err != nil {
		return metadata.TableSchema{}, fmt.Errorf("failed to iterate table info: %w", err)
	}
	if len(columns) == 0 {
		return metadata.TableSchema{}, ErrEmptyTable
	}

	for i := range columns {
		samples, err := sqliteSamples(ctx, db, table, columns[i].Name, l.maxSamples)
		if err != nil {
			return metadata.TableSchema{}, err
		}
		columns[i].SampleValues = samples
	}

	return metadata.TableSchema{TableName: table, Columns: columns}, nil
}

func resolveTable(ctx context.Context, db *sql.DB, preferred string) (string, error) {
	var name string
	err := db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`,
		preferred,
	).Scan(&name)
	if err == nil {
		return name, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to look up table: %w", err)
	}

	err = db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY rowid LIMIT 1`,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrTableNotFound, preferred)
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up table: %w", err)
	}
	return name, nil
}

func sqliteSamples(ctx context.Context, db *sql.DB, table, column string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	col := quoteIdent(column)
	rows, err := db.QueryContext(ctx,
		fmt.Sprintf(`SELECT DISTINCT CAST(%s AS TEXT) FROM %s WHERE %s IS NOT NULL AND CAST(%s AS TEXT) <> '' LIMIT ?`,
			col, quoteIdent(table), col, col),
		n,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read samples for %s: %w", column, err)
	}
	defer rows.Close()

	samples := make([]string, 0, n)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan sample for %s: %w", column, err)
		}
		samples = append(samples, v)
	}
	return samples, rows.Err()
}

// quoteIdent はSQLiteの識別子をダブルクォートで囲む
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
