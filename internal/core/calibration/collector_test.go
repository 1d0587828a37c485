package calibration

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/conformal-rag/internal/core/retrieval"
)

func TestCollector_Collect_RecordsOnlyTruePositives(t *testing.T) {
	questions := &memQuestionStore{questions: []Question{
		{Question: "How old are customers?", Category: CategorySingleColumn, SourceColumns: []string{"age"}},
		{Question: "Income by region?", Category: CategoryMultiColumn, SourceColumns: []string{"income", "region"}},
		{Question: "Favourite colour?", Category: CategorySingleColumn, SourceColumns: []string{"colour"}},
	}}
	searcher := &stubSearcher{results: map[string][]retrieval.Match{
		"How old are customers?": {
			tableMatch("customers table", 0.05),
			columnMatch("age", "age: customer age in years", 0.12),
			columnMatch("income", "income: yearly income", 0.30),
		},
		"Income by region?": {
			columnMatch("income", "income: yearly income", 0.20),
			columnMatch("age", "age: customer age in years", 0.40),
		},
		"Favourite colour?": {
			columnMatch("age", "age: customer age in years", 0.50),
		},
	}}
	records := &memRecordStore{}
	fixed := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	collector := NewCollector(questions, records, searcher,
		WithCollectorLogger(discardLogger()),
		WithCollectorClock(func() time.Time { return fixed }),
	)

	got, stats, err := collector.Collect(context.Background())
	require.NoError(t, err)

	require.Len(t, got, 2)
	for _, r := range got {
		assert.Equal(t, retrieval.DocTypeColumn, r.Metadata.Type)
		assert.Contains(t, r.SourceColumns, r.Metadata.ColumnName)
		assert.Equal(t, fixed, r.Timestamp)
	}

	// 距離の昇順で保存される
	assert.Equal(t, "age", got[0].Metadata.ColumnName)
	assert.InDelta(t, 0.12, got[0].CosineDistance, 1e-12)
	assert.Equal(t, "income", got[1].Metadata.ColumnName)
	assert.InDelta(t, 0.20, got[1].CosineDistance, 1e-12)

	assert.Equal(t, 1, records.replaceCalls)
	assert.Equal(t, got, records.records)

	assert.Equal(t, CollectionStats{
		QuestionsProcessed: 3,
		QuestionsNoMatches: 1,
		RecordsWritten:     2,
		MissedColumns:      2, // region と colour
	}, stats)
	assert.Equal(t, DefaultCollectTopK, searcher.lastK)
}

func TestCollector_Collect_ReplacesPreviousRecords(t *testing.T) {
	questions := &memQuestionStore{questions: []Question{
		{Question: "How old are customers?", Category: CategorySingleColumn, SourceColumns: []string{"age"}},
	}}
	searcher := &stubSearcher{results: map[string][]retrieval.Match{
		"How old are customers?": {columnMatch("age", "age", 0.1)},
	}}
	records := &memRecordStore{records: []Record{{Question: "stale", CosineDistance: 0.9}}}

	collector := NewCollector(questions, records, searcher, WithCollectorLogger(discardLogger()))
	_, _, err := collector.Collect(context.Background())
	require.NoError(t, err)

	require.Len(t, records.records, 1)
	assert.Equal(t, "How old are customers?", records.records[0].Question)
}

func TestCollector_Collect_SearchErrorAborts(t *testing.T) {
	questions := &memQuestionStore{questions: []Question{
		{Question: "ok", Category: CategorySingleColumn, SourceColumns: []string{"age"}},
		{Question: "boom", Category: CategorySingleColumn, SourceColumns: []string{"age"}},
	}}
	searchErr := errors.New("index unavailable")
	searcher := &stubSearcher{
		results: map[string][]retrieval.Match{"ok": {columnMatch("age", "age", 0.1)}},
		errFor:  map[string]error{"boom": searchErr},
	}
	records := &memRecordStore{records: []Record{{Question: "previous"}}}

	collector := NewCollector(questions, records, searcher,
		WithCollectorLogger(discardLogger()),
		WithCollectConcurrency(2),
	)
	_, _, err := collector.Collect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, searchErr)
	assert.Equal(t, 0, records.replaceCalls)
	assert.Equal(t, "previous", records.records[0].Question)
}

func TestCollector_Collect_ConcurrentMatchesSequential(t *testing.T) {
	qs := make([]Question, 0, 30)
	results := make(map[string][]retrieval.Match, 30)
	for i := 0; i < 30; i++ {
		text := fmt.Sprintf("question %d", i)
		qs = append(qs, Question{Question: text, Category: CategorySingleColumn, SourceColumns: []string{"age"}})
		results[text] = []retrieval.Match{columnMatch("age", text, float64(30-i)/100)}
	}

	run := func(concurrency int) []Record {
		records := &memRecordStore{}
		collector := NewCollector(
			&memQuestionStore{questions: qs},
			records,
			&stubSearcher{results: results},
			WithCollectorLogger(discardLogger()),
			WithCollectConcurrency(concurrency),
			WithCollectTopK(5),
		)
		got, stats, err := collector.Collect(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 30, stats.RecordsWritten)
		return got
	}

	sequential := run(1)
	concurrent := run(8)
	assert.Equal(t, Distances(sequential), Distances(concurrent))
	assert.IsIncreasing(t, Distances(sequential))
}

func TestCollector_Collect_NoQuestions(t *testing.T) {
	records := &memRecordStore{records: []Record{{Question: "old"}}}
	collector := NewCollector(&memQuestionStore{}, records, &stubSearcher{}, WithCollectorLogger(discardLogger()))

	got, stats, err := collector.Collect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, records.records)
	assert.Equal(t, 0, stats.QuestionsProcessed)
}

func TestCollector_Clear(t *testing.T) {
	records := &memRecordStore{records: []Record{{Question: "q"}}}
	collector := NewCollector(&memQuestionStore{}, records, &stubSearcher{}, WithCollectorLogger(discardLogger()))

	require.NoError(t, collector.Clear(context.Background()))
	require.NoError(t, collector.Clear(context.Background()))

	got, err := collector.Records(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}
