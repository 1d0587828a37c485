package metadata

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jinford/conformal-rag/internal/core/llm"
)

type rawColumnMetadata struct {
	ColumnName        *string `json:"column_name"`
	DataType          *string `json:"data_type"`
	ColumnDescription *string `json:"column_description"`
}

type rawTableMetadata struct {
	TableDescription *string              `json:"table_description"`
	Columns          *[]rawColumnMetadata `json:"columns"`
}

// parseTableMetadata はLLM出力を TableMetadata に変換し、スキーマの全カラムが説明されていることを検証する。
// 返すカラムの順序はスキーマの宣言順に揃える
func parseTableMetadata(content string, schema TableSchema) (TableMetadata, error) {
	body := llm.ExtractJSON(content)
	if !json.Valid([]byte(body)) {
		return TableMetadata{}, ErrMalformedMetadata
	}

	var raw rawTableMetadata
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return TableMetadata{}, fmt.Errorf("%w: %v", ErrIncompleteMetadata, err)
	}
	if raw.TableDescription == nil || strings.TrimSpace(*raw.TableDescription) == "" {
		return TableMetadata{}, fmt.Errorf("%w: table_description", ErrIncompleteMetadata)
	}
	if raw.Columns == nil || len(*raw.Columns) == 0 {
		return TableMetadata{}, fmt.Errorf("%w: columns", ErrIncompleteMetadata)
	}

	described := make(map[string]rawColumnMetadata, len(*raw.Columns))
	for i, c := range *raw.Columns {
		if c.ColumnName == nil || strings.TrimSpace(*c.ColumnName) == "" {
			return TableMetadata{}, fmt.Errorf("%w: columns[%d].column_name", ErrIncompleteMetadata, i)
		}
		if c.ColumnDescription == nil || strings.TrimSpace(*c.ColumnDescription) == "" {
			return TableMetadata{}, fmt.Errorf("%w: columns[%d].column_description", ErrIncompleteMetadata, i)
		}
		described[strings.TrimSpace(*c.ColumnName)] = c
	}

	md := TableMetadata{
		TableDescription: strings.TrimSpace(*raw.TableDescription),
		Columns:          make([]ColumnMetadata, 0, len(schema.Columns)),
	}
	var missing []string
	for _, col := range schema.Columns {
		c, ok := described[col.Name]
		if !ok {
			missing = append(missing, col.Name)
			continue
		}
		dataType := col.Type
		if c.DataType != nil && strings.TrimSpace(*c.DataType) != "" {
			dataType = strings.TrimSpace(*c.DataType)
		}
		md.Columns = append(md.Columns, ColumnMetadata{
			ColumnName:        col.Name,
			DataType:          dataType,
			ColumnDescription: strings.TrimSpace(*c.ColumnDescription),
		})
	}
	if len(missing) > 0 {
		return TableMetadata{}, fmt.Errorf("%w: no description for columns %s", ErrIncompleteMetadata, strings.Join(missing, ", "))
	}

	return md, nil
}
