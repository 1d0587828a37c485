package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/jinford/conformal-rag/internal/core/retrieval"
)

// ErrDimensionMismatch はベクトルの次元がインデックスと一致しない場合のエラー
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// IndexRepository は retrieval.IndexStore を実装する pgvector リポジトリ。
// インデックスのマーカー行とドキュメントは同一トランザクションでコミットされる
type IndexRepository struct {
	db     Conn
	now    func() time.Time
	logger *slog.Logger
}

// IndexRepositoryOption は IndexRepository のオプション
type IndexRepositoryOption func(*IndexRepository)

// WithIndexLogger はロガーを設定する
func WithIndexLogger(logger *slog.Logger) IndexRepositoryOption {
	return func(r *IndexRepository) {
		r.logger = logger
	}
}

// NewIndexRepository は新しい IndexRepository を返す
func NewIndexRepository(db Conn, opts ...IndexRepositoryOption) *IndexRepository {
	r := &IndexRepository{
		db:     db,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ retrieval.IndexStore = (*IndexRepository)(nil)

// Open はビルド済みのインデックスを開く
func (r *IndexRepository) Open(ctx context.Context, name string) (retrieval.Index, bool, error) {
	var dimension, count int32
	err := r.db.QueryRow(ctx,
		`SELECT dimension, document_count FROM metadata_indexes WHERE name = $1`,
		name,
	).Scan(&dimension, &count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get index: %w", err)
	}

	return &pgIndex{db: r.db, name: name, dimension: int(dimension)}, true, nil
}

// Build は既存のインデックスを破棄し、ドキュメントとベクトルから作り直す
func (r *IndexRepository) Build(ctx context.Context, name string, docs []retrieval.Document, vectors [][]float32) (retrieval.Index, error) {
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

	_, err := transact(ctx, r.db, func(tx pgx.Tx) (struct{}, error) {
		if err := acquireLock(ctx, tx, GenerateLockID("metadata_index", name)); err != nil {
			return struct{}{}, err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM metadata_indexes WHERE name = $1`, name); err != nil {
			return struct{}{}, fmt.Errorf("failed to delete index: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO metadata_indexes (name, dimension, document_count, built_at) VALUES ($1, $2, $3, $4)`,
			name, int32(dimension), int32(len(docs)), TimeToPgtimestamptz(r.now()),
		); err != nil {
			return struct{}{}, fmt.Errorf("failed to create index: %w", err)
		}

		batch := &pgx.Batch{}
		for i, doc := range docs {
			batch.Queue(
				`INSERT INTO metadata_documents (id, index_name, content, doc_type, column_name, table_name, embedding)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				UUIDToPgtype(doc.ID),
				name,
				doc.Content,
				string(doc.Metadata.Type),
				StringToNullableText(doc.Metadata.ColumnName),
				doc.Metadata.TableName,
				pgvector.NewVector(vectors[i]),
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return struct{}{}, fmt.Errorf("failed to insert documents: %w", err)
		}

		return struct{}{}, nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug("metadata index stored",
		"index", name,
		"documents", len(docs),
		"dimension", dimension,
	)

	return &pgIndex{db: r.db, name: name, dimension: dimension}, nil
}

// pgIndex は1つのインデックスへのハンドル
type pgIndex struct {
	db        DBTX
	name      string
	dimension int
}

func (i *pgIndex) Name() string {
	return i.name
}

// Search は pgvector のコサイン距離演算子 (<=>) で近い順に最大 k 件を返す
func (i *pgIndex) Search(ctx context.Context, queryVector []float32, k int) ([]retrieval.Match, error) {
	if len(queryVector) != i.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, index %q has %d", ErrDimensionMismatch, len(queryVector), i.name, i.dimension)
	}
	if k <= 0 {
		k = retrieval.DefaultQueryLimit
	}

	rows, err := i.db.Query(ctx,
		`SELECT content, doc_type, column_name, table_name, embedding <=> $2 AS distance
		 FROM metadata_documents
		 WHERE index_name = $1
		 ORDER BY distance
		 LIMIT $3`,
		i.name, pgvector.NewVector(queryVector), int32(k),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}
	defer rows.Close()

	matches := make([]retrieval.Match, 0, k)
	for rows.Next() {
		var (
			content, docType, tableName string
			columnName                  pgtype.Text
			distance                    float64
		)
		if err := rows.Scan(&content, &docType, &columnName, &tableName, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		matches = append(matches, retrieval.Match{
			Content: content,
			Metadata: retrieval.Metadata{
				Type:       retrieval.DocType(docType),
				ColumnName: PgtextToString(columnName),
				TableName:  tableName,
			},
			CosineDistance: max(distance, 0),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}

	return matches, nil
}
