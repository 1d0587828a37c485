package answer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/conformal-rag/internal/core/conformal"
	"github.com/jinford/conformal-rag/internal/core/llm"
	"github.com/jinford/conformal-rag/internal/core/retrieval"
)

type scriptedLLM struct {
	content  string
	err      error
	requests []llm.CompletionRequest
}

func (c *scriptedLLM) GenerateCompletion(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	c.requests = append(c.requests, req)
	if c.err != nil {
		return llm.CompletionResponse{}, c.err
	}
	return llm.CompletionResponse{Content: c.content, TokensUsed: 42}, nil
}

type failureLog struct {
	sections []string
}

func (f *failureLog) RecordFailure(section, prompt, response string, err error) {
	f.sections = append(f.sections, section)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func columnMatch(column, content string) conformal.ScoredMatch {
	return conformal.ScoredMatch{
		Match: retrieval.Match{
			Content:  content,
			Metadata: retrieval.Metadata{Type: retrieval.DocTypeColumn, ColumnName: column, TableName: "people"},
		},
		Confidence: 0.9,
	}
}

func TestBuildAnswerPrompt(t *testing.T) {
	prompt := BuildAnswerPrompt("How old are respondents?", []conformal.ScoredMatch{
		columnMatch("age", "Column: age\nDescription: Age in years"),
		{Match: retrieval.Match{Content: "Table: people", Metadata: retrieval.Metadata{Type: retrieval.DocTypeTable}}},
		columnMatch("income", "Column: income\nDescription: Annual income"),
	})

	assert.Contains(t, prompt, "You are a careful, reasoning-first assistant.")
	assert.Contains(t, prompt, "Context:\nColumn: age\nDescription: Age in years\n\nColumn: income\nDescription: Annual income\n\n")
	assert.Contains(t, prompt, "Question: How old are respondents?\n")
	assert.NotContains(t, prompt, "Table: people")
}

func TestService_Answer(t *testing.T) {
	client := &scriptedLLM{content: "  Respondents are between 18 and 90 years old.  "}
	svc := NewService(client, WithAnswerLogger(testLogger()))

	got, err := svc.Answer(context.Background(), "How old are respondents?", []conformal.ScoredMatch{
		columnMatch("age", "Column: age"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Respondents are between 18 and 90 years old.", got)

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Equal(t, answerSystemPrompt, req.System)
	assert.Equal(t, llm.ResponseFormatText, req.ResponseFormat)
	assert.Equal(t, AnswerTemperature, req.Temperature)
	assert.Contains(t, req.Prompt, "Column: age")
}

func TestService_AnswerFailsClosedWithoutContext(t *testing.T) {
	tests := []struct {
		name    string
		matches []conformal.ScoredMatch
	}{
		{name: "no matches", matches: nil},
		{name: "only table match", matches: []conformal.ScoredMatch{{
			Match: retrieval.Match{Content: "Table: people", Metadata: retrieval.Metadata{Type: retrieval.DocTypeTable}},
		}}},
		{name: "blank content", matches: []conformal.ScoredMatch{columnMatch("age", "  ")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &scriptedLLM{content: "should not be used"}
			svc := NewService(client, WithAnswerLogger(testLogger()))

			_, err := svc.Answer(context.Background(), "How old?", tt.matches)
			assert.ErrorIs(t, err, ErrNoAdmittedContext)
			assert.Empty(t, client.requests)
		})
	}
}

func TestService_AnswerErrors(t *testing.T) {
	ctx := context.Background()
	matches := []conformal.ScoredMatch{columnMatch("age", "Column: age")}

	svc := NewService(&scriptedLLM{}, WithAnswerLogger(testLogger()))
	_, err := svc.Answer(ctx, "   ", matches)
	assert.ErrorIs(t, err, ErrEmptyQuestion)

	apiErr := errors.New("rate limited")
	failures := &failureLog{}
	svc = NewService(&scriptedLLM{err: apiErr}, WithAnswerLogger(testLogger()), WithAnswerFailureRecorder(failures))
	_, err = svc.Answer(ctx, "How old?", matches)
	assert.ErrorIs(t, err, apiErr)
	assert.Equal(t, []string{"answer"}, failures.sections)

	failures = &failureLog{}
	svc = NewService(&scriptedLLM{content: "\n"}, WithAnswerLogger(testLogger()), WithAnswerFailureRecorder(failures))
	_, err = svc.Answer(ctx, "How old?", matches)
	assert.Error(t, err)
	assert.Equal(t, []string{"answer"}, failures.sections)
}
