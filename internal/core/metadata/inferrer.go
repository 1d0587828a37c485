package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jinford/conformal-rag/internal/core/llm"
)

const failureSection = "table_metadata"

// ErrEmptySchema はカラムが1つも無いスキーマを渡された場合のエラー
var ErrEmptySchema = errors.New("schema has no columns")

// Inferrer はLLMでテーブルとカラムの説明を推定する
type Inferrer struct {
	client     llm.Client
	recorder   llm.FailureRecorder
	maxSamples int
	logger     *slog.Logger
}

// InferrerOption は Inferrer のオプション
type InferrerOption func(*Inferrer)

// WithInferrerLogger はロガーを設定する
func WithInferrerLogger(logger *slog.Logger) InferrerOption {
	return func(i *Inferrer) {
		i.logger = logger
	}
}

// WithInferrerFailureRecorder は失敗したLLM呼び出しの記録先を設定する
func WithInferrerFailureRecorder(recorder llm.FailureRecorder) InferrerOption {
	return func(i *Inferrer) {
		i.recorder = recorder
	}
}

// WithMaxSampleValues はプロンプトに含めるサンプル値の上限を設定する
func WithMaxSampleValues(n int) InferrerOption {
	return func(i *Inferrer) {
		i.maxSamples = n
	}
}

// NewInferrer は新しい Inferrer を作成する
func NewInferrer(client llm.Client, opts ...InferrerOption) *Inferrer {
	i := &Inferrer{
		client:     client,
		maxSamples: DefaultMaxSampleValues,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.logger == nil {
		i.logger = slog.Default()
	}
	return i
}

// Infer はスキーマからテーブル説明とカラム説明を推定する。
// 失敗はすべて *MetadataInferenceError として返す
func (i *Inferrer) Infer(ctx context.Context, schema TableSchema) (TableMetadata, error) {
	if len(schema.Columns) == 0 {
		return TableMetadata{}, &MetadataInferenceError{Table: schema.TableName, Err: ErrEmptySchema}
	}

	prompt := buildMetadataPrompt(schema, i.maxSamples)
	resp, err := i.client.GenerateCompletion(ctx, llm.CompletionRequest{
		System:         metadataSystemPrompt,
		Prompt:         prompt,
		Temperature:    MetadataTemperature,
		MaxTokens:      MetadataMaxTokens,
		ResponseFormat: llm.ResponseFormatJSON,
	})
	if err != nil {
		i.recordFailure(prompt, "", err)
		return TableMetadata{}, &MetadataInferenceError{
			Table: schema.TableName,
			Err:   fmt.Errorf("failed to generate completion: %w", err),
		}
	}

	md, err := parseTableMetadata(resp.Content, schema)
	if err != nil {
		i.recordFailure(prompt, resp.Content, err)
		i.logger.Error("failed to parse table metadata",
			"table", schema.TableName,
			"error", err,
		)
		return TableMetadata{}, &MetadataInferenceError{Table: schema.TableName, Err: err}
	}

	i.logger.Info("table metadata inferred",
		"table", schema.TableName,
		"columns", len(md.Columns),
		"tokensUsed", resp.TokensUsed,
	)
	return md, nil
}

func (i *Inferrer) recordFailure(prompt, response string, err error) {
	if i.recorder == nil {
		return
	}
	i.recorder.RecordFailure(failureSection, prompt, response, err)
}
