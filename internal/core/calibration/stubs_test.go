package calibration

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/mo"

	"github.com/jinford/conformal-rag/internal/core/llm"
	"github.com/jinford/conformal-rag/internal/core/retrieval"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memQuestionStore struct {
	mu         sync.Mutex
	questions  []Question
	storeCalls int
	storeErr   error
}

func (s *memQuestionStore) Store(ctx context.Context, questions []Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeCalls++
	if s.storeErr != nil {
		return s.storeErr
	}
	s.questions = append(s.questions, questions...)
	return nil
}

func (s *memQuestionStore) List(ctx context.Context, category mo.Option[Category], limit mo.Option[int]) ([]Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return FilterQuestions(s.questions, category, limit), nil
}

func (s *memQuestionStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions = nil
	return nil
}

func (s *memQuestionStore) EnsureInitialized(ctx context.Context) error { return nil }

type memRecordStore struct {
	records      []Record
	replaceCalls int
}

func (s *memRecordStore) Replace(ctx context.Context, records []Record) error {
	s.replaceCalls++
	s.records = append([]Record(nil), records...)
	return nil
}

func (s *memRecordStore) List(ctx context.Context) ([]Record, error) {
	return s.records, nil
}

func (s *memRecordStore) Snapshot(ctx context.Context) (RecordSnapshot, error) {
	collected := mo.None[time.Time]()
	if s.replaceCalls > 0 {
		collected = mo.Some(time.Time{})
	}
	return RecordSnapshot{Records: s.records, CollectedAt: collected}, nil
}

func (s *memRecordStore) Clear(ctx context.Context) error {
	s.records = nil
	return nil
}

func (s *memRecordStore) EnsureInitialized(ctx context.Context) error { return nil }

// stubSearcher は質問文ごとに決め打ちのマッチを返す
type stubSearcher struct {
	mu      sync.Mutex
	results map[string][]retrieval.Match
	errFor  map[string]error
	lastK   int
}

func (s *stubSearcher) Search(ctx context.Context, query string, k int) ([]retrieval.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastK = k
	if err, ok := s.errFor[query]; ok {
		return nil, err
	}
	return s.results[query], nil
}

// scriptedLLM は呼び出し順に応答を返す
type scriptedLLM struct {
	responses []scriptedResponse
	requests  []llm.CompletionRequest
}

type scriptedResponse struct {
	content string
	err     error
}

func (c *scriptedLLM) GenerateCompletion(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	c.requests = append(c.requests, req)
	if len(c.responses) == 0 {
		return llm.CompletionResponse{}, errors.New("no scripted response")
	}
	next := c.responses[0]
	c.responses = c.responses[1:]
	if next.err != nil {
		return llm.CompletionResponse{}, next.err
	}
	return llm.CompletionResponse{Content: next.content}, nil
}

type recordedFailure struct {
	section string
	err     error
}

type stubRecorder struct {
	failures []recordedFailure
}

func (r *stubRecorder) RecordFailure(section, prompt, response string, err error) {
	r.failures = append(r.failures, recordedFailure{section: section, err: err})
}

// wordCounter は空白区切りの単語数をトークン数とみなす
type wordCounter struct{}

func (wordCounter) CountTokens(text string) int {
	n := 0
	inWord := false
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' {
			inWord = false
			continue
		}
		if !inWord {
			n++
			inWord = true
		}
	}
	return n
}

func columnMatch(column, content string, distance float64) retrieval.Match {
	return retrieval.Match{
		Content:        content,
		Metadata:       retrieval.Metadata{Type: retrieval.DocTypeColumn, ColumnName: column, TableName: "customers"},
		CosineDistance: distance,
	}
}

func tableMatch(content string, distance float64) retrieval.Match {
	return retrieval.Match{
		Content:        content,
		Metadata:       retrieval.Metadata{Type: retrieval.DocTypeTable, TableName: "customers"},
		CosineDistance: distance,
	}
}
