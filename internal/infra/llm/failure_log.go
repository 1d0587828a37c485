package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jinford/conformal-rag/internal/core/calibration"
	corellm "github.com/jinford/conformal-rag/internal/core/llm"
	"github.com/jinford/conformal-rag/internal/core/metadata"
	"github.com/jinford/conformal-rag/internal/infra/openai"
)

// ErrorType はエラーの種類を表す
type ErrorType string

const (
	ErrorTypeParseFailed       ErrorType = "parse_failed"
	ErrorTypeRateLimitExceeded ErrorType = "rate_limit_exceeded"
	ErrorTypeTimeout           ErrorType = "timeout"
	ErrorTypeUnknown           ErrorType = "unknown"
)

// maxLoggedLength はログに残すプロンプトとレスポンスの最大バイト数
const maxLoggedLength = 4000

// FailureRecord は失敗したLLM呼び出しのログレコード
type FailureRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	ErrorType    ErrorType `json:"error_type"`
	Section      string    `json:"section"`
	Prompt       string    `json:"prompt"`
	Response     string    `json:"response"`
	ErrorMessage string    `json:"error_message"`
}

// FailureLog は失敗したLLM呼び出しを日付ごとのJSONLファイルに追記する
type FailureLog struct {
	mu     sync.Mutex
	file   *os.File
	now    func() time.Time
	logger *slog.Logger
}

// FailureLogOption は FailureLog のオプション
type FailureLogOption func(*FailureLog)

// WithFailureLogLogger はロガーを設定する
func WithFailureLogLogger(logger *slog.Logger) FailureLogOption {
	return func(f *FailureLog) {
		f.logger = logger
	}
}

// WithFailureLogClock は現在時刻の取得関数を差し替える
func WithFailureLogClock(now func() time.Time) FailureLogOption {
	return func(f *FailureLog) {
		f.now = now
	}
}

// NewFailureLog は logDir に llm_errors_YYYY-MM-DD.jsonl を開く。logDir が空なら記録しない
func NewFailureLog(logDir string, opts ...FailureLogOption) (*FailureLog, error) {
	f := &FailureLog{
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if logDir == "" {
		return f, nil
	}

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(logDir, fmt.Sprintf("llm_errors_%s.jsonl", f.now().Format("2006-01-02")))
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	f.file = file

	return f, nil
}

// Path は書き込み先のファイルパスを返す。無効な場合は空文字
func (f *FailureLog) Path() string {
	if f.file == nil {
		return ""
	}
	return f.file.Name()
}

// Close はログファイルを閉じる
func (f *FailureLog) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

// RecordFailure は失敗を記録する。書き込みに失敗しても呼び出し元には伝えずログに残す
func (f *FailureLog) RecordFailure(section, prompt, response string, err error) {
	record := FailureRecord{
		Timestamp:    f.now(),
		ErrorType:    Classify(err),
		Section:      section,
		Prompt:       truncate(prompt, maxLoggedLength),
		Response:     truncate(response, maxLoggedLength),
		ErrorMessage: errorMessage(err),
	}

	f.logger.Warn("llm call failed",
		"section", section,
		"errorType", record.ErrorType,
		"error", record.ErrorMessage,
	)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return
	}

	line, mErr := json.Marshal(record)
	if mErr != nil {
		f.logger.Error("failed to marshal llm failure record", "error", mErr)
		return
	}
	if _, wErr := f.file.Write(append(line, '\n')); wErr != nil {
		f.logger.Error("failed to write llm failure record", "error", wErr)
	}
}

// Classify はエラーを種類に分類する
func Classify(err error) ErrorType {
	switch {
	case err == nil:
		return ErrorTypeUnknown
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	case errors.Is(err, openai.ErrMaxRetriesExceeded):
		return ErrorTypeRateLimitExceeded
	case errors.Is(err, calibration.ErrMalformedOutput),
		errors.Is(err, calibration.ErrMissingField),
		errors.Is(err, calibration.ErrInvalidCategory),
		errors.Is(err, metadata.ErrMalformedMetadata),
		errors.Is(err, metadata.ErrIncompleteMetadata),
		errors.Is(err, openai.ErrInvalidResponseFormat):
		return ErrorTypeParseFailed
	default:
		return ErrorTypeUnknown
	}
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "... (truncated)"
}

var _ corellm.FailureRecorder = (*FailureLog)(nil)
