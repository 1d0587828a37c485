package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

// DefaultQueryLimit は k 未指定時の検索件数
const DefaultQueryLimit = 4

var (
	// ErrEmptyQuery はクエリが空の場合のエラー
	ErrEmptyQuery = errors.New("query is required")

	// ErrNoDocuments はインデックス対象のドキュメントが無い場合のエラー
	ErrNoDocuments = errors.New("no documents to index")
)

// Service はインデックスの構築と検索のビジネスロジックを提供する
type Service struct {
	store    IndexStore
	embedder Embedder
	logger   *slog.Logger
}

// ServiceOption は Service のオプション
type ServiceOption func(*Service)

// WithRetrievalLogger は Service にロガーを設定する
func WithRetrievalLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService は新しい Service を作成する
func NewService(store IndexStore, embedder Embedder, opts ...ServiceOption) *Service {
	svc := &Service{
		store:    store,
		embedder: embedder,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	return svc
}

// Open は永続化済みインデックスを開き、検索用ハンドルを返す
func (s *Service) Open(ctx context.Context, name string) (*Handle, bool, error) {
	index, found, err := s.store.Open(ctx, name)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open index %q: %w", name, err)
	}
	if !found {
		return nil, false, nil
	}
	return &Handle{index: index, embedder: s.embedder}, true, nil
}

// Build はドキュメントを埋め込み、インデックスを作り直してハンドルを返す
func (s *Service) Build(ctx context.Context, name string, docs []Document) (*Handle, error) {
	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}

	batchSize := s.embedder.MaxBatchSize()
	if batchSize <= 0 {
		batchSize = len(docs)
	}

	vectors := make([][]float32, 0, len(docs))
	for start := 0; start < len(docs); start += batchSize {
		end := min(start+batchSize, len(docs))
		texts := make([]string, 0, end-start)
		for _, doc := range docs[start:end] {
			texts = append(texts, doc.Content)
		}

		embedded, err := s.embedder.BatchEmbed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("failed to embed documents: %w", err)
		}
		if len(embedded) != len(texts) {
			return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(embedded), len(texts))
		}
		vectors = append(vectors, embedded...)
	}

	index, err := s.store.Build(ctx, name, docs, vectors)
	if err != nil {
		return nil, fmt.Errorf("failed to build index %q: %w", name, err)
	}

	s.logger.Info("metadata index built",
		"index", name,
		"documents", len(docs),
	)

	return &Handle{index: index, embedder: s.embedder}, nil
}

// Handle はインデックスとEmbedderを束ねた検索ハンドル。Searcher を実装する
type Handle struct {
	index    Index
	embedder Embedder
}

// NewHandle は既存の Index と Embedder から Handle を作成する
func NewHandle(index Index, embedder Embedder) *Handle {
	return &Handle{index: index, embedder: embedder}
}

// Name はインデックス名を返す
func (h *Handle) Name() string {
	return h.index.Name()
}

// Search はクエリを埋め込み、コサイン距離の昇順で最大 k 件のマッチを返す
func (h *Handle) Search(ctx context.Context, query string, k int) ([]Match, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		k = DefaultQueryLimit
	}

	queryVector, err := h.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	matches, err := h.index.Search(ctx, queryVector, k)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].CosineDistance < matches[j].CosineDistance
	})

	return matches, nil
}

var _ Searcher = (*Handle)(nil)
