package tabular

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jinford/conformal-rag/internal/core/metadata"
)

// SQLite の型親和性に合わせた推定型
const (
	TypeInteger = "INTEGER"
	TypeReal    = "REAL"
	TypeText    = "TEXT"
)

// schemaFromRows はヘッダー行とデータ行からスキーマを組み立てる。
// 整数列に欠損があれば REAL とみなす
func schemaFromRows(tableName string, header []string, rows [][]string, maxSamples int) (metadata.TableSchema, error) {
	if len(header) == 0 {
		return metadata.TableSchema{}, ErrEmptyTable
	}

	names := normalizeHeader(header)
	columns := make([]metadata.Column, 0, len(names))
	for i, name := range names {
		values := make([]string, 0, len(rows))
		for _, row := range rows {
			if i < len(row) {
				values = append(values, strings.TrimSpace(row[i]))
			} else {
				values = append(values, "")
			}
		}
		columns = append(columns, metadata.Column{
			Name:         name,
			Type:         inferType(values),
			SampleValues: sampleValues(values, maxSamples),
		})
	}

	return metadata.TableSchema{TableName: tableName, Columns: columns}, nil
}

// normalizeHeader は空のカラム名を補い、重複したカラム名に連番を付ける
func normalizeHeader(header []string) []string {
	names := make([]string, 0, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		base := name
		for seen[name] > 0 {
			name = fmt.Sprintf("%s.%d", base, seen[base])
			seen[base]++
		}
		seen[name]++
		names = append(names, name)
	}
	return names
}

// inferType は値の並びから型を推定する
func inferType(values []string) string {
	nonEmpty, missing := 0, false
	allInt, allNumber := true, true
	for _, v := range values {
		if v == "" {
			missing = true
			continue
		}
		nonEmpty++
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			allInt = false
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			allNumber = false
		}
		if !allNumber {
			break
		}
	}

	switch {
	case nonEmpty == 0 || !allNumber:
		return TypeText
	case allInt && !missing:
		return TypeInteger
	default:
		return TypeReal
	}
}

// sampleValues は出現順に重複を除いた空でない値を最大 n 件返す
func sampleValues(values []string, n int) []string {
	if n <= 0 {
		return nil
	}
	samples := make([]string, 0, n)
	seen := make(map[string]struct{}, n)
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		samples = append(samples, v)
		if len(samples) == n {
			break
		}
	}
	return samples
}
