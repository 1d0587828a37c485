// Package tabular はCSV・XLSX・SQLiteファイルからテーブルスキーマを読み取る
package tabular

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/jinford/conformal-rag/internal/core/metadata"
)

const (
	// DefaultTableName は取り込んだテーブルの既定名
	DefaultTableName = "data_table"

	// DefaultMaxScanRows は型推定とサンプル取得で読む最大行数
	DefaultMaxScanRows = 1000
)

var (
	// ErrUnsupportedFormat は対応していない拡張子の場合のエラー
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrEmptyTable はヘッダー行が無い場合のエラー
	ErrEmptyTable = errors.New("table has no header row")

	// ErrTableNotFound はSQLiteファイルに対象テーブルが無い場合のエラー
	ErrTableNotFound = errors.New("table not found")
)

// Format はファイル形式
type Format string

const (
	FormatCSV    Format = "csv"
	FormatTSV    Format = "tsv"
	FormatXLSX   Format = "xlsx"
	FormatSQLite Format = "sqlite"
)

// DetectFormat は拡張子からファイル形式を判定する
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".tsv":
		return FormatTSV, nil
	case ".xlsx":
		return FormatXLSX, nil
	case ".sqlite", ".sqlite3", ".db":
		return FormatSQLite, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// Loader はデータファイルのスキーマを返す metadata.SchemaSource 実装
type Loader struct {
	path        string
	tableName   string
	sheet       string
	maxSamples  int
	maxScanRows int
	logger      *slog.Logger
}

// LoaderOption は Loader のオプション
type LoaderOption func(*Loader)

// WithTableName はテーブル名を設定する。SQLite では読み取るテーブルの名前になる
func WithTableName(name string) LoaderOption {
	return func(l *Loader) {
		if name != "" {
			l.tableName = name
		}
	}
}

// WithSheet はXLSXで読むシート名を設定する。未指定なら先頭シート
func WithSheet(sheet string) LoaderOption {
	return func(l *Loader) {
		l.sheet = sheet
	}
}

// WithMaxSamples はカラムごとのサンプル値の最大数を設定する
func WithMaxSamples(n int) LoaderOption {
	return func(l *Loader) {
		if n >= 0 {
			l.maxSamples = n
		}
	}
}

// WithMaxScanRows は型推定で読む最大行数を設定する
func WithMaxScanRows(n int) LoaderOption {
	return func(l *Loader) {
		if n > 0 {
			l.maxScanRows = n
		}
	}
}

// WithLoaderLogger はロガーを設定する
func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader は path のデータファイルを読む Loader を作成する
func NewLoader(path string, opts ...LoaderOption) *Loader {
	l := &Loader{
		path:        path,
		tableName:   DefaultTableName,
		maxSamples:  metadata.DefaultMaxSampleValues,
		maxScanRows: DefaultMaxScanRows,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ metadata.SchemaSource = (*Loader)(nil)

// Path はデータファイルのパスを返す
func (l *Loader) Path() string {
	return l.path
}

// Schema はファイル形式に応じてスキーマを読み取る
func (l *Loader) Schema(ctx context.Context) (metadata.TableSchema, error) {
	format, err := DetectFormat(l.path)
	if err != nil {
		return metadata.TableSchema{}, err
	}

	var schema metadata.TableSchema
	switch format {
	case FormatCSV:
		schema, err = l.readCSV(ctx, ',')
	case FormatTSV:
		schema, err = l.readCSV(ctx, '\t')
	case FormatXLSX:
		schema, err = l.readXLSX(ctx)
	case FormatSQLite:
		schema, err = l.readSQLite(ctx)
	}
	if err != nil {
		return metadata.TableSchema{}, fmt.Errorf("failed to read schema from %s: %w", l.path, err)
	}

	l.logger.Info("table schema discovered",
		"path", l.path,
		"format", format,
		"table", schema.TableName,
		"columns", len(schema.Columns),
	)

	return schema, nil
}
