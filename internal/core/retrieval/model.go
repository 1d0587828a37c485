package retrieval

import (
	"github.com/google/uuid"
)

// DocType はインデックス化されたドキュメントの種別を表す
type DocType string

const (
	// DocTypeColumn はカラム記述ドキュメント
	DocTypeColumn DocType = "column"
	// DocTypeTable はテーブル記述ドキュメント
	DocTypeTable DocType = "table"
)

// Metadata は検索対象ドキュメントの記述子
type Metadata struct {
	Type       DocType `json:"type"`
	ColumnName string  `json:"column_name,omitempty"`
	TableName  string  `json:"table_name"`
}

// IsColumn はカラム記述ドキュメントかどうかを返す
func (m Metadata) IsColumn() bool {
	return m.Type == DocTypeColumn
}

// Match はベクトル検索の1件の結果を表す。
// CosineDistance は小さいほど類似しており、コア全体でこの向きに統一している。
type Match struct {
	Content        string   `json:"content"`
	Metadata       Metadata `json:"metadata"`
	CosineDistance float64  `json:"cosine_distance"`
}

// Document はメタデータインデックスに登録する1件のドキュメント
type Document struct {
	ID       uuid.UUID `json:"id"`
	Content  string    `json:"content"`
	Metadata Metadata  `json:"metadata"`
}

// NewDocument はIDを採番してDocumentを作成する
func NewDocument(content string, metadata Metadata) Document {
	return Document{
		ID:       uuid.New(),
		Content:  content,
		Metadata: metadata,
	}
}

// DistanceFromSimilarity はコサイン類似度をコサイン距離に変換する。
// 類似度を返すコラボレータの出力は境界でこの関数を通して正規化する。
func DistanceFromSimilarity(similarity float64) float64 {
	d := 1 - similarity
	if d < 0 {
		return 0
	}
	return d
}

// ConfidenceFromDistance はコサイン距離から信頼度 (1 - distance) を求める
func ConfidenceFromDistance(distance float64) float64 {
	return 1 - distance
}
