package retrieval

import "context"

// Index はビルド済みメタデータインデックスへのハンドル。
// プロセス全体で共有する暗黙のインデックスは持たず、IndexStore から取得したハンドルを明示的に受け渡す。
type Index interface {
	// Name はインデックス名を返す
	Name() string

	// Search はクエリベクトルに近いドキュメントをコサイン距離の昇順で最大 k 件返す
	Search(ctx context.Context, queryVector []float32, k int) ([]Match, error)
}

// IndexStore はインデックスの永続化を担う
type IndexStore interface {
	// Open は永続化済みのインデックスを開く。存在しない場合は found=false を返す
	Open(ctx context.Context, name string) (index Index, found bool, err error)

	// Build はドキュメントとベクトルからインデックスを作り直す。
	// 途中で失敗した場合、部分的なインデックスは Open から見えてはならない
	Build(ctx context.Context, name string, docs []Document, vectors [][]float32) (Index, error)
}

// Embedder はテキストのEmbedding生成インターフェース
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	BatchEmbed(ctx context.Context, texts []string) ([][]float32, error)
	MaxBatchSize() int
}

// Searcher は質問文から候補マッチを返す検索コラボレータ。
// キャリブレーション収集と本番クエリは同じ Searcher を通す必要がある
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]Match, error)
}
