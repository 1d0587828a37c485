package tabular

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/jinford/conformal-rag/internal/core/metadata"
)

// readXLSX はシートの先頭行をヘッダーとしてスキーマを推定する
func (l *Loader) readXLSX(ctx context.Context) (metadata.TableSchema, error) {
	f, err := excelize.OpenFile(l.path)
	if err != nil {
		return metadata.TableSchema{}, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheet := l.sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		return metadata.TableSchema{}, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	defer rows.Close()

	var header []string
	data := make([][]string, 0, min(l.maxScanRows, 256))
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return metadata.TableSchema{}, err
		}
		cols, err := rows.Columns()
		if err != nil {
			return metadata.TableSchema{}, fmt.Errorf("failed to read row: %w", err)
		}
		if header == nil {
			if len(cols) == 0 {
				continue
			}
			header = cols
			continue
		}
		data = append(data, cols)
		if len(data) >= l.maxScanRows {
			break
		}
	}
	if err := rows.Error(); err != nil {
		return metadata.TableSchema{}, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return schemaFromRows(l.tableName, header, data, l.maxSamples)
}
