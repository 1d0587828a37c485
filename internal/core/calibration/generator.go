package calibration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jinford/conformal-rag/internal/core/llm"
)

const (
	// DefaultGenerationTimeout は質問1件あたりの生成タイムアウト
	DefaultGenerationTimeout = 60 * time.Second

	// failureSection はLLM失敗ログ上のセクション名
	failureSection = "calibration_question"
)

// ErrUnknownColumn は source_columns がテーブルに存在しないカラムだけで構成されている場合のエラー
var ErrUnknownColumn = errors.New("source_columns reference no known column")

// QuestionRequest は質問1件の生成パラメータ
type QuestionRequest struct {
	TableName         string
	TableDescription  string
	Columns           []ColumnInfo
	PreviousQuestions []string
	Category          Category
}

// QuestionSetRequest は質問セット生成のパラメータ
type QuestionSetRequest struct {
	TableName        string
	TableDescription string
	Columns          []ColumnInfo
	Allocation       Allocation
}

// Generator はLLMを使ってキャリブレーション質問を生成する
type Generator struct {
	client   llm.Client
	counter  llm.TokenCounter
	recorder llm.FailureRecorder
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// GeneratorOption は Generator のオプション
type GeneratorOption func(*Generator)

// WithGeneratorLogger はロガーを設定する
func WithGeneratorLogger(logger *slog.Logger) GeneratorOption {
	return func(g *Generator) {
		g.logger = logger
	}
}

// WithTokenCounter は過去質問リストのトークン予算計算に使うカウンタを設定する
func WithTokenCounter(counter llm.TokenCounter) GeneratorOption {
	return func(g *Generator) {
		g.counter = counter
	}
}

// WithFailureRecorder は失敗したLLM呼び出しの記録先を設定する
func WithFailureRecorder(recorder llm.FailureRecorder) GeneratorOption {
	return func(g *Generator) {
		g.recorder = recorder
	}
}

// WithGenerationTimeout は質問1件あたりのタイムアウトを設定する
func WithGenerationTimeout(timeout time.Duration) GeneratorOption {
	return func(g *Generator) {
		g.timeout = timeout
	}
}

// WithGeneratorClock は作成日時の取得関数を差し替える
func WithGeneratorClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) {
		g.now = now
	}
}

// NewGenerator は新しい Generator を作成する
func NewGenerator(client llm.Client, opts ...GeneratorOption) *Generator {
	g := &Generator{
		client:  client,
		timeout: DefaultGenerationTimeout,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// GenerateQuestion は指定カテゴリの質問を1件生成する。
// 失敗はすべて *QuestionGenerationError として返す
func (g *Generator) GenerateQuestion(ctx context.Context, req QuestionRequest) (Question, error) {
	if _, err := ParseCategory(string(req.Category)); err != nil {
		return Question{}, &QuestionGenerationError{Category: req.Category, Err: err}
	}

	prompt := buildQuestionPrompt(questionPromptInput{
		TableName:         req.TableName,
		TableDescription:  req.TableDescription,
		Columns:           req.Columns,
		PreviousQuestions: g.fitPreviousQuestions(req.PreviousQuestions),
		Category:          req.Category,
	})

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	resp, err := g.client.GenerateCompletion(callCtx, llm.CompletionRequest{
		System:         questionSystemPrompt,
		Prompt:         prompt,
		Temperature:    QuestionTemperature,
		MaxTokens:      QuestionMaxTokens,
		ResponseFormat: llm.ResponseFormatJSON,
	})
	if err != nil {
		g.recordFailure(prompt, "", err)
		return Question{}, &QuestionGenerationError{
			Category: req.Category,
			Err:      fmt.Errorf("failed to generate completion: %w", err),
		}
	}

	question, err := parseGeneratedQuestion(resp.Content)
	if err != nil {
		g.recordFailure(prompt, resp.Content, err)
		return Question{}, &QuestionGenerationError{Category: req.Category, Err: err}
	}

	if len(req.Columns) > 0 {
		question.SourceColumns = knownColumns(question.SourceColumns, req.Columns)
		if len(question.SourceColumns) == 0 {
			g.recordFailure(prompt, resp.Content, ErrUnknownColumn)
			return Question{}, &QuestionGenerationError{Category: req.Category, Err: ErrUnknownColumn}
		}
	}

	question.CreatedAt = g.now()
	return question, nil
}

// GenerateQuestionSet は配分に従ってカテゴリごとに質問を順に生成し、受理した質問をまとめて1回だけ保存する。
// 個々の生成失敗はスキップして継続し、親コンテキストのキャンセル時のみ中断する
func (g *Generator) GenerateQuestionSet(ctx context.Context, req QuestionSetRequest, store QuestionStore) ([]Question, error) {
	accepted := make([]Question, 0, req.Allocation.Total())
	previous := make([]string, 0, req.Allocation.Total())
	skipped := 0

	g.logger.Info("generating calibration questions",
		"table", req.TableName,
		"requested", req.Allocation.Total(),
	)

	for _, category := range Categories() {
		for i := 0; i < req.Allocation[category]; i++ {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("question generation cancelled: %w", err)
			}

			question, err := g.GenerateQuestion(ctx, QuestionRequest{
				TableName:         req.TableName,
				TableDescription:  req.TableDescription,
				Columns:           req.Columns,
				PreviousQuestions: previous,
				Category:          category,
			})
			if err != nil {
				var genErr *QuestionGenerationError
				if !errors.As(err, &genErr) {
					return nil, err
				}
				skipped++
				g.logger.Warn("skipping calibration question",
					"category", category,
					"error", err,
				)
				continue
			}

			accepted = append(accepted, question)
			previous = append(previous, question.Question)
			g.logger.Debug("calibration question generated",
				"number", len(accepted),
				"category", question.Category,
				"sourceColumns", question.SourceColumns,
			)
		}
	}

	g.logger.Info("calibration question generation completed",
		"accepted", len(accepted),
		"skipped", skipped,
	)

	if store != nil && len(accepted) > 0 {
		if err := store.Store(ctx, accepted); err != nil {
			return accepted, fmt.Errorf("failed to store questions: %w", err)
		}
	}

	return accepted, nil
}

// fitPreviousQuestions は過去質問リストをトークン予算に収まるよう古いものから削る
func (g *Generator) fitPreviousQuestions(previous []string) []string {
	if g.counter == nil || len(previous) == 0 {
		return previous
	}

	used := 0
	start := len(previous)
	for i := len(previous) - 1; i >= 0; i-- {
		tokens := g.counter.CountTokens(previous[i])
		if used+tokens > PreviousQuestionsTokenBudget {
			break
		}
		used += tokens
		start = i
	}

	if start > 0 {
		g.logger.Debug("previous questions trimmed to token budget",
			"dropped", start,
			"kept", len(previous)-start,
		)
	}
	return previous[start:]
}

func (g *Generator) recordFailure(prompt, response string, err error) {
	if g.recorder == nil {
		return
	}
	g.recorder.RecordFailure(failureSection, prompt, response, err)
}

// knownColumns は columns のうちテーブルに存在するものだけを返す
func knownColumns(columns []string, table []ColumnInfo) []string {
	names := make(map[string]struct{}, len(table))
	for _, c := range table {
		names[c.Name] = struct{}{}
	}
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		if _, ok := names[c]; ok {
			out = append(out, c)
		}
	}
	return out
}
