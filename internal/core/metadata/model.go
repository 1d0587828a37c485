package metadata

import "context"

// Column はスキーマ上の1カラム
type Column struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	SampleValues []string `json:"sample_values,omitempty"`
}

// TableSchema は取り込み対象テーブルのスキーマ
type TableSchema struct {
	TableName string   `json:"table_name"`
	Columns   []Column `json:"columns"`
}

// ColumnNames はカラム名を宣言順に返す
func (s TableSchema) ColumnNames() []string {
	names := make([]string, 0, len(s.Columns))
	for _, c := range s.Columns {
		names = append(names, c.Name)
	}
	return names
}

// ColumnMetadata はLLMが推定したカラムの説明
type ColumnMetadata struct {
	ColumnName        string `json:"column_name"`
	DataType          string `json:"data_type"`
	ColumnDescription string `json:"column_description"`
}

// TableMetadata はLLMが推定したテーブルとカラムの説明
type TableMetadata struct {
	TableDescription string           `json:"table_description"`
	Columns          []ColumnMetadata `json:"columns"`
}

// SchemaSource はテーブルスキーマの取得元
type SchemaSource interface {
	Schema(ctx context.Context) (TableSchema, error)
}
