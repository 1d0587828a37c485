package metadata

import (
	"fmt"
	"strings"
)

const (
	// MetadataPromptVersion はメタデータ推定プロンプトのバージョン
	MetadataPromptVersion = "1.0"

	// MetadataTemperature はメタデータ推定の温度設定
	MetadataTemperature = 0.0

	// MetadataMaxTokens は生成する最大トークン数
	MetadataMaxTokens = 2000

	// DefaultMaxSampleValues はプロンプトに含めるカラムごとのサンプル値の上限
	DefaultMaxSampleValues = 3
)

const metadataSystemPrompt = "You are a helpful assistant."

// buildMetadataPrompt はテーブル説明推定のプロンプトを構築する
func buildMetadataPrompt(schema TableSchema, maxSamples int) string {
	var sb strings.Builder

	sb.WriteString(`You are a data documentation assistant.
Given a table name and its columns, generate structured JSON output with:
1. table_description: A short, high-level summary of what the table likely contains. This will be
used for semantic search so ensure that you include all relevant keywords.
2. columns: A list of column descriptions, one entry for every column listed below. This will be
used for semantic search so ensure that you include all relevant keywords.

Return only valid JSON, like this:
{
  "table_description": "Your description here",
  "columns": [
    {
      "column_name": "name",
      "data_type": "type",
      "column_description": "description"
    }
  ]
}

`)
	sb.WriteString(fmt.Sprintf("Table name: %s\n", schema.TableName))
	sb.WriteString("Columns:\n")
	for _, col := range schema.Columns {
		sb.WriteString(fmt.Sprintf("- %s: %s", col.Name, col.Type))
		samples := col.SampleValues
		if maxSamples >= 0 && len(samples) > maxSamples {
			samples = samples[:maxSamples]
		}
		if len(samples) > 0 {
			sb.WriteString(fmt.Sprintf(" (e.g. %s)", strings.Join(samples, ", ")))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
