package calibration

import (
	"fmt"
	"time"

	"github.com/jinford/conformal-rag/internal/core/retrieval"
)

// Category はキャリブレーション質問の分類
type Category string

const (
	CategorySingleColumn  Category = "single_column"
	CategoryMultiColumn   Category = "multi_column"
	CategoryTablePurpose  Category = "table_purpose"
	CategoryBusinessLogic Category = "business_logic"
)

// Categories は全カテゴリを正規の順序で返す
func Categories() []Category {
	return []Category{
		CategorySingleColumn,
		CategoryMultiColumn,
		CategoryTablePurpose,
		CategoryBusinessLogic,
	}
}

// ParseCategory は文字列を Category に変換する
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories() {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCategory, s)
}

// Question はキャリブレーション用の質問。SourceColumns が正解ラベルとなる
type Question struct {
	Question      string    `json:"question"`
	Category      Category  `json:"category"`
	SourceColumns []string  `json:"source_columns"`
	CreatedAt     time.Time `json:"created_at"`
}

// DependsOn はカラムが質問の依存カラム集合に含まれるかを返す
func (q Question) DependsOn(column string) bool {
	for _, c := range q.SourceColumns {
		if c == column {
			return true
		}
	}
	return false
}

// Record は1件の真陽性マッチとその距離の観測値
type Record struct {
	Question       string             `json:"question"`
	Chunk          string             `json:"chunk"`
	CosineDistance float64            `json:"cosine_distance"`
	Metadata       retrieval.Metadata `json:"metadata"`
	SourceColumns  []string           `json:"source_columns"`
	Timestamp      time.Time          `json:"timestamp"`
}

// Distances はレコード群のコサイン距離を取り出す
func Distances(records []Record) []float64 {
	scores := make([]float64, 0, len(records))
	for _, r := range records {
		scores = append(scores, r.CosineDistance)
	}
	return scores
}

// ColumnInfo は質問生成プロンプトに渡すカラム情報
type ColumnInfo struct {
	Name string
	Type string
}

// CollectionStats は1回の収集結果の集計
type CollectionStats struct {
	QuestionsProcessed int
	QuestionsNoMatches int
	RecordsWritten     int
	// MissedColumns は上位 k 件に現れなかった真陽性カラム数。分布には含めない
	MissedColumns int
}
