package metadata

import (
	"fmt"
	"strings"

	"github.com/jinford/conformal-rag/internal/core/retrieval"
)

// BuildDocuments はカラムごとに1件、テーブルに1件のドキュメントを作成する。
// カラムのドキュメントはスキーマの宣言順に並び、テーブルのドキュメントが最後に来る
func BuildDocuments(tableName string, md TableMetadata) []retrieval.Document {
	docs := make([]retrieval.Document, 0, len(md.Columns)+1)

	for _, col := range md.Columns {
		docs = append(docs, retrieval.NewDocument(
			columnContent(tableName, col),
			retrieval.Metadata{
				Type:       retrieval.DocTypeColumn,
				ColumnName: col.ColumnName,
				TableName:  tableName,
			},
		))
	}

	docs = append(docs, retrieval.NewDocument(
		tableContent(tableName, md),
		retrieval.Metadata{
			Type:      retrieval.DocTypeTable,
			TableName: tableName,
		},
	))

	return docs
}

func columnContent(tableName string, col ColumnMetadata) string {
	return fmt.Sprintf("Column: %s\nTable: %s\nType: %s\nDescription: %s",
		col.ColumnName, tableName, col.DataType, col.ColumnDescription)
}

func tableContent(tableName string, md TableMetadata) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Table: %s\nDescription: %s\nColumns: ", tableName, md.TableDescription))
	names := make([]string, 0, len(md.Columns))
	for _, col := range md.Columns {
		names = append(names, col.ColumnName)
	}
	sb.WriteString(strings.Join(names, ", "))
	return sb.String()
}
