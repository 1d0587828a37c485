package calibration

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jinford/conformal-rag/internal/core/llm"
)

// generatedQuestion はLLM出力の受け口。欠落したフィールドを検出するためポインタで受ける
type generatedQuestion struct {
	Question      *string   `json:"question"`
	Category      *string   `json:"category"`
	SourceColumns *[]string `json:"source_columns"`
}

// parseGeneratedQuestion はLLM出力を検証しながら Question に変換する。
// 構文エラーは ErrMalformedOutput、必須フィールドの欠落は ErrMissingField として区別する
func parseGeneratedQuestion(content string) (Question, error) {
	body := llm.ExtractJSON(content)
	if !json.Valid([]byte(body)) {
		return Question{}, ErrMalformedOutput
	}

	var raw generatedQuestion
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		// 構文は正しいが型が合わない (例: source_columns が文字列)
		return Question{}, fmt.Errorf("%w: %v", ErrMissingField, err)
	}

	if raw.Question == nil || strings.TrimSpace(*raw.Question) == "" {
		return Question{}, fmt.Errorf("%w: question", ErrMissingField)
	}
	if raw.Category == nil {
		return Question{}, fmt.Errorf("%w: category", ErrMissingField)
	}
	if raw.SourceColumns == nil {
		return Question{}, fmt.Errorf("%w: source_columns", ErrMissingField)
	}
	columns := uniqueColumns(*raw.SourceColumns)
	if len(columns) == 0 {
		return Question{}, fmt.Errorf("%w: source_columns", ErrMissingField)
	}

	category, err := ParseCategory(strings.TrimSpace(*raw.Category))
	if err != nil {
		return Question{}, err
	}

	return Question{
		Question:      strings.TrimSpace(*raw.Question),
		Category:      category,
		SourceColumns: columns,
	}, nil
}

// uniqueColumns は空文字と重複を取り除く (出現順は維持)
func uniqueColumns(columns []string) []string {
	seen := make(map[string]struct{}, len(columns))
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
