package calibration

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedOutput はLLM出力が構文的に不正なJSONの場合のエラー
	ErrMalformedOutput = errors.New("malformed JSON output")

	// ErrMissingField は必須フィールドが欠けている場合のエラー
	ErrMissingField = errors.New("missing required field")

	// ErrInvalidCategory は未知のカテゴリの場合のエラー
	ErrInvalidCategory = errors.New("invalid category")
)

// QuestionGenerationError は1件の質問生成の失敗を表す。バッチ全体は継続する
type QuestionGenerationError struct {
	Category Category
	Err      error
}

func (e *QuestionGenerationError) Error() string {
	return fmt.Sprintf("question generation failed (category %s): %v", e.Category, e.Err)
}

func (e *QuestionGenerationError) Unwrap() error {
	return e.Err
}

// StorageError は永続化層の失敗を表す
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s failed (%s): %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
