// Package answer はコンフォーマルフィルタで採用されたカラム説明を根拠にLLMで回答を生成する
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jinford/conformal-rag/internal/core/conformal"
	"github.com/jinford/conformal-rag/internal/core/llm"
)

const failureSection = "answer"

var (
	// ErrEmptyQuestion は質問が空の場合のエラー
	ErrEmptyQuestion = errors.New("question is required")

	// ErrNoAdmittedContext は採用されたカラム説明が1件も無い場合のエラー。この場合LLMは呼ばない
	ErrNoAdmittedContext = errors.New("no admitted column descriptions to answer from")
)

// Service は採用済みのカラム説明から回答を生成する
type Service struct {
	client   llm.Client
	recorder llm.FailureRecorder
	logger   *slog.Logger
}

// ServiceOption は Service のオプション
type ServiceOption func(*Service)

// WithAnswerLogger はロガーを設定する
func WithAnswerLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithAnswerFailureRecorder は失敗したLLM呼び出しの記録先を設定する
func WithAnswerFailureRecorder(recorder llm.FailureRecorder) ServiceOption {
	return func(s *Service) {
		s.recorder = recorder
	}
}

// NewService は新しい Service を作成する
func NewService(client llm.Client, opts ...ServiceOption) *Service {
	s := &Service{
		client: client,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Answer は質問に対する回答を生成する。
// 採用されたカラム説明が無い場合は LLM を呼ばずに ErrNoAdmittedContext を返す
func (s *Service) Answer(ctx context.Context, question string, matches []conformal.ScoredMatch) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}
	blocks := contextBlocks(matches)
	if len(blocks) == 0 {
		return "", ErrNoAdmittedContext
	}

	prompt := BuildAnswerPrompt(question, matches)

	s.logger.Info("generating answer with LLM", "contextColumns", len(blocks))
	resp, err := s.client.GenerateCompletion(ctx, llm.CompletionRequest{
		System:         answerSystemPrompt,
		Prompt:         prompt,
		Temperature:    AnswerTemperature,
		MaxTokens:      AnswerMaxTokens,
		ResponseFormat: llm.ResponseFormatText,
	})
	if err != nil {
		s.recordFailure(prompt, "", err)
		return "", fmt.Errorf("failed to generate answer: %w", err)
	}

	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		err := errors.New("empty answer")
		s.recordFailure(prompt, resp.Content, err)
		return "", fmt.Errorf("failed to generate answer: %w", err)
	}

	s.logger.Info("answer generated",
		"answerLength", len(answer),
		"tokensUsed", resp.TokensUsed,
	)
	return answer, nil
}

func (s *Service) recordFailure(prompt, response string, err error) {
	if s.recorder == nil {
		return
	}
	s.recorder.RecordFailure(failureSection, prompt, response, err)
}
