package tabular

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jinford/conformal-rag/internal/core/metadata"
)

// readCSV は区切り文字 comma のテキストファイルを読み、先頭行をヘッダーとしてスキーマを推定する
func (l *Loader) readCSV(ctx context.Context, comma rune) (metadata.TableSchema, error) {
	file, err := os.Open(l.path)
	if err != nil {
		return metadata.TableSchema{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return metadata.TableSchema{}, ErrEmptyTable
		}
		return metadata.TableSchema{}, fmt.Errorf("failed to read header: %w", err)
	}

	rows := make([][]string, 0, min(l.maxScanRows, 256))
	for len(rows) < l.maxScanRows {
		if err := ctx.Err(); err != nil {
			return metadata.TableSchema{}, err
		}
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return metadata.TableSchema{}, fmt.Errorf("failed to read row %d: %w", len(rows)+2, err)
		}
		rows = append(rows, record)
	}

	return schemaFromRows(l.tableName, header, rows, l.maxSamples)
}
