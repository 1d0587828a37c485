package metadata

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedMetadata はLLM出力が構文的に不正なJSONの場合のエラー
	ErrMalformedMetadata = errors.New("malformed metadata JSON")

	// ErrIncompleteMetadata は必須フィールドやカラムの説明が欠けている場合のエラー
	ErrIncompleteMetadata = errors.New("incomplete metadata")
)

// MetadataInferenceError はテーブル説明の推定失敗を表す。ブートストラップにとって致命的
type MetadataInferenceError struct {
	Table string
	Err   error
}

func (e *MetadataInferenceError) Error() string {
	return fmt.Sprintf("metadata inference failed for table %s: %v", e.Table, e.Err)
}

func (e *MetadataInferenceError) Unwrap() error {
	return e.Err
}
