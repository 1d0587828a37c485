package jsonstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jinford/conformal-rag/internal/core/retrieval"
)

// ErrDimensionMismatch はベクトルの次元がインデックスと一致しない場合のエラー
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

type indexEntry struct {
	ID        uuid.UUID          `json:"id"`
	Content   string             `json:"content"`
	Metadata  retrieval.Metadata `json:"metadata"`
	Embedding []float32          `json:"embedding"`
}

type indexDocument struct {
	Version   int          `json:"version"`
	Name      string       `json:"name"`
	Dimension int          `json:"dimension"`
	BuiltAt   time.Time    `json:"built_at"`
	Documents []indexEntry `json:"documents"`
}

// IndexStore はメタデータインデックスをディレクトリ内のJSONファイルとして保存する。
// 検索は全件のコサイン距離を計算する総当たりで、カラム数程度の規模を前提とする
type IndexStore struct {
	mu   sync.Mutex
	dir  string
	opts options
}

// NewIndexStore は dir にインデックスファイルを置く IndexStore を作成する
func NewIndexStore(dir string, opts ...Option) *IndexStore {
	return &IndexStore{
		dir:  dir,
		opts: buildOptions(opts),
	}
}

var _ retrieval.IndexStore = (*IndexStore)(nil)

// Path はインデックス名に対応するファイルパスを返す
func (s *IndexStore) Path(name string) string {
	return filepath.Join(s.dir, unsafeNameChars.ReplaceAllString(name, "_")+".index.json")
}

// Open は保存済みのインデックスを読み込む。壊れたファイルは未作成として扱い、再ビルドさせる
func (s *IndexStore) Open(ctx context.Context, name string) (retrieval.Index, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(name)
	var doc indexDocument
	found, err := readDocument(path, &doc, func() int { return doc.Version })
	if errors.Is(err, errCorrupt) {
		s.opts.logger.Warn("metadata index file is corrupt, index must be rebuilt",
			"path", path,
			"error", err,
		)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}

	return newMemIndex(name, doc.Dimension, doc.Documents), true, nil
}

// Build はインデックスファイルを作り直す。書き込みはアトミックなので、失敗しても以前のインデックスが残る
func (s *IndexStore) Build(ctx context.Context, name string, docs []retrieval.Document, vectors [][]float32) (retrieval.Index, error) {
	if len(docs) == 0 {
		return nil, retrieval.ErrNoDocuments
	}
	if len(docs) != len(vectors) {
		return nil, fmt.Errorf("document/vector count mismatch: %d documents, %d vectors", len(docs), len(vectors))
	}
	dimension := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dimension || dimension == 0 {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, want %d", ErrDimensionMismatch, i, len(v), dimension)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries := make([]indexEntry, len(docs))
	for i, doc := range docs {
		entries[i] = indexEntry{
			ID:        doc.ID,
			Content:   doc.Content,
			Metadata:  doc.Metadata,
			Embedding: vectors[i],
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(name)
	if err := writeDocument(path, indexDocument{
		Version:   DocumentVersion,
		Name:      name,
		Dimension: dimension,
		BuiltAt:   s.opts.now(),
		Documents: entries,
	}); err != nil {
		return nil, err
	}

	s.opts.logger.Debug("metadata index stored",
		"index", name,
		"path", path,
		"documents", len(docs),
		"dimension", dimension,
	)

	return newMemIndex(name, dimension, entries), nil
}

// Remove はインデックスファイルを削除する。存在しない場合は何もしない
func (s *IndexStore) Remove(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.Path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove index %s: %w", name, err)
	}
	return nil
}

// memIndex は読み込み済みエントリに対する総当たり検索
type memIndex struct {
	name      string
	dimension int
	entries   []indexEntry
	norms     []float64
}

func newMemIndex(name string, dimension int, entries []indexEntry) *memIndex {
	norms := make([]float64, len(entries))
	for i, e := range entries {
		norms[i] = norm(e.Embedding)
	}
	return &memIndex{name: name, dimension: dimension, entries: entries, norms: norms}
}

func (i *memIndex) Name() string {
	return i.name
}

// Search はコサイン距離 (1 - コサイン類似度) の昇順で最大 k 件を返す
func (i *memIndex) Search(ctx context.Context, queryVector []float32, k int) ([]retrieval.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(queryVector) != i.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, index %q has %d", ErrDimensionMismatch, len(queryVector), i.name, i.dimension)
	}
	if k <= 0 {
		k = retrieval.DefaultQueryLimit
	}

	queryNorm := norm(queryVector)
	matches := make([]retrieval.Match, 0, len(i.entries))
	for idx, e := range i.entries {
		similarity := cosineSimilarity(queryVector, e.Embedding, queryNorm, i.norms[idx])
		matches = append(matches, retrieval.Match{
			Content:        e.Content,
			Metadata:       e.Metadata,
			CosineDistance: retrieval.DistanceFromSimilarity(similarity),
		})
	}

	sort.SliceStable(matches, func(a, b int) bool {
		return matches[a].CosineDistance < matches[b].CosineDistance
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// cosineSimilarity はゼロベクトルに対して 0 を返す
func cosineSimilarity(a, b []float32, normA, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (normA * normB)
}
