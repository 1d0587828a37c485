package calibration

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/mo"

	"github.com/jinford/conformal-rag/internal/core/retrieval"
)

const (
	// DefaultCollectTopK は収集時に各質問で取得する候補数
	DefaultCollectTopK = 20

	// DefaultCollectConcurrency は収集時の同時検索数
	DefaultCollectConcurrency = 1
)

// Collector は保存済み質問を検索にかけ、真陽性マッチの距離を記録する
type Collector struct {
	questions   QuestionStore
	records     RecordStore
	searcher    retrieval.Searcher
	topK        int
	concurrency int
	now         func() time.Time
	logger      *slog.Logger
}

// CollectorOption は Collector のオプション
type CollectorOption func(*Collector)

// WithCollectorLogger はロガーを設定する
func WithCollectorLogger(logger *slog.Logger) CollectorOption {
	return func(c *Collector) {
		c.logger = logger
	}
}

// WithCollectTopK は質問ごとの検索件数を設定する
func WithCollectTopK(k int) CollectorOption {
	return func(c *Collector) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithCollectConcurrency は同時検索数を設定する
func WithCollectConcurrency(n int) CollectorOption {
	return func(c *Collector) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithCollectorClock はタイムスタンプの取得関数を差し替える
func WithCollectorClock(now func() time.Time) CollectorOption {
	return func(c *Collector) {
		c.now = now
	}
}

// NewCollector は新しい Collector を作成する
func NewCollector(questions QuestionStore, records RecordStore, searcher retrieval.Searcher, opts ...CollectorOption) *Collector {
	c := &Collector{
		questions:   questions,
		records:     records,
		searcher:    searcher,
		topK:        DefaultCollectTopK,
		concurrency: DefaultCollectConcurrency,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// questionResult は1質問分の収集結果
type questionResult struct {
	records []Record
	missed  int
	err     error
}

// Collect は全質問を検索し、レコード集合を作り直して保存する。
// 検索エラーが1件でもあれば何も保存せずに中断する
func (c *Collector) Collect(ctx context.Context) ([]Record, CollectionStats, error) {
	var stats CollectionStats

	questions, err := c.questions.List(ctx, mo.None[Category](), mo.None[int]())
	if err != nil {
		return nil, stats, fmt.Errorf("failed to load questions: %w", err)
	}

	c.logger.Info("collecting calibration records",
		"questions", len(questions),
		"topK", c.topK,
		"concurrency", c.concurrency,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]questionResult, len(questions))
	semaphore := make(chan struct{}, c.concurrency)
	var wg sync.WaitGroup
	var once sync.Once
	var firstErr error

	for i, q := range questions {
		wg.Add(1)
		go func(index int, question Question) {
			defer wg.Done()

			select {
			case semaphore <- struct{}{}:
				defer func() { <-semaphore }()
			case <-ctx.Done():
				results[index] = questionResult{err: ctx.Err()}
				return
			}

			res := c.collectOne(ctx, question)
			if res.err != nil {
				once.Do(func() {
					firstErr = fmt.Errorf("failed to search calibration question %q: %w", question.Question, res.err)
					cancel()
				})
			}
			results[index] = res
		}(i, q)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, stats, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, stats, fmt.Errorf("calibration collection cancelled: %w", err)
	}

	all := make([]Record, 0, len(questions))
	for _, res := range results {
		stats.QuestionsProcessed++
		if len(res.records) == 0 {
			stats.QuestionsNoMatches++
		}
		stats.MissedColumns += res.missed
		all = append(all, res.records...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CosineDistance < all[j].CosineDistance
	})

	if err := c.records.Replace(ctx, all); err != nil {
		return nil, stats, fmt.Errorf("failed to save calibration records: %w", err)
	}
	stats.RecordsWritten = len(all)

	if stats.MissedColumns > 0 {
		c.logger.Warn("source columns missing from top-k results",
			"missed", stats.MissedColumns,
			"topK", c.topK,
		)
	}
	c.logger.Info("calibration records collected",
		"questionsProcessed", stats.QuestionsProcessed,
		"questionsNoMatches", stats.QuestionsNoMatches,
		"recordsWritten", stats.RecordsWritten,
	)

	return all, stats, nil
}

// collectOne は1質問分の真陽性マッチを抽出する
func (c *Collector) collectOne(ctx context.Context, question Question) questionResult {
	matches, err := c.searcher.Search(ctx, question.Question, c.topK)
	if err != nil {
		return questionResult{err: err}
	}

	timestamp := c.now()
	found := make(map[string]struct{}, len(question.SourceColumns))
	records := make([]Record, 0, len(question.SourceColumns))
	for _, m := range matches {
		if !m.Metadata.IsColumn() || !question.DependsOn(m.Metadata.ColumnName) {
			continue
		}
		found[m.Metadata.ColumnName] = struct{}{}
		records = append(records, Record{
			Question:       question.Question,
			Chunk:          m.Content,
			CosineDistance: m.CosineDistance,
			Metadata:       m.Metadata,
			SourceColumns:  append([]string(nil), question.SourceColumns...),
			Timestamp:      timestamp,
		})
	}

	missed := 0
	for _, col := range question.SourceColumns {
		if _, ok := found[col]; !ok {
			missed++
		}
	}
	if len(records) == 0 {
		c.logger.Debug("no true positive within top-k",
			"question", question.Question,
			"sourceColumns", question.SourceColumns,
		)
	}

	return questionResult{records: records, missed: missed}
}

// Records は保存済みのキャリブレーションレコードを返す
func (c *Collector) Records(ctx context.Context) ([]Record, error) {
	records, err := c.records.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load calibration records: %w", err)
	}
	return records, nil
}

// Clear は保存済みのキャリブレーションレコードを削除する
func (c *Collector) Clear(ctx context.Context) error {
	if err := c.records.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear calibration records: %w", err)
	}
	return nil
}
