package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/conformal-rag/internal/core/calibration"
	"github.com/jinford/conformal-rag/internal/core/metadata"
	"github.com/jinford/conformal-rag/internal/infra/openai"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedNow() time.Time {
	return time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
}

func readRecords(t *testing.T, path string) []FailureRecord {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var records []FailureRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r FailureRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		records = append(records, r)
	}
	require.NoError(t, scanner.Err())
	return records
}

func TestNewFailureLog(t *testing.T) {
	dir := t.TempDir()
	log, err := NewFailureLog(dir, WithFailureLogClock(fixedNow), WithFailureLogLogger(discardLogger()))
	require.NoError(t, err)
	defer log.Close()

	assert.Equal(t, filepath.Join(dir, "llm_errors_2024-03-09.jsonl"), log.Path())
}

func TestNewFailureLog_Disabled(t *testing.T) {
	log, err := NewFailureLog("", WithFailureLogLogger(discardLogger()))
	require.NoError(t, err)

	assert.Empty(t, log.Path())
	// 無効時も記録呼び出しは安全
	log.RecordFailure("calibration_question", "p", "r", errors.New("boom"))
	assert.NoError(t, log.Close())
}

func TestFailureLog_RecordFailure(t *testing.T) {
	dir := t.TempDir()
	log, err := NewFailureLog(dir, WithFailureLogClock(fixedNow), WithFailureLogLogger(discardLogger()))
	require.NoError(t, err)

	log.RecordFailure("calibration_question", "prompt text", "not json",
		fmt.Errorf("parse: %w", calibration.ErrMalformedOutput))
	log.RecordFailure("table_metadata", strings.Repeat("x", maxLoggedLength+10), "",
		fmt.Errorf("call: %w", context.DeadlineExceeded))
	path := log.Path()
	require.NoError(t, log.Close())
	require.NoError(t, log.Close())

	records := readRecords(t, path)
	require.Len(t, records, 2)

	assert.Equal(t, ErrorTypeParseFailed, records[0].ErrorType)
	assert.Equal(t, "calibration_question", records[0].Section)
	assert.Equal(t, "prompt text", records[0].Prompt)
	assert.Equal(t, "not json", records[0].Response)
	assert.Contains(t, records[0].ErrorMessage, "malformed JSON output")
	assert.True(t, records[0].Timestamp.Equal(fixedNow()))

	assert.Equal(t, ErrorTypeTimeout, records[1].ErrorType)
	assert.True(t, strings.HasSuffix(records[1].Prompt, "... (truncated)"))
	assert.Len(t, records[1].Prompt, maxLoggedLength+len("... (truncated)"))
}

func TestFailureLog_AppendsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	for range 2 {
		log, err := NewFailureLog(dir, WithFailureLogClock(fixedNow), WithFailureLogLogger(discardLogger()))
		require.NoError(t, err)
		log.RecordFailure("s", "p", "r", errors.New("boom"))
		require.NoError(t, log.Close())
	}

	records := readRecords(t, filepath.Join(dir, "llm_errors_2024-03-09.jsonl"))
	assert.Len(t, records, 2)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{name: "nil", err: nil, want: ErrorTypeUnknown},
		{name: "deadline", err: fmt.Errorf("x: %w", context.DeadlineExceeded), want: ErrorTypeTimeout},
		{name: "rate limit", err: fmt.Errorf("x: %w", openai.ErrMaxRetriesExceeded), want: ErrorTypeRateLimitExceeded},
		{name: "missing field", err: calibration.ErrMissingField, want: ErrorTypeParseFailed},
		{name: "invalid category", err: calibration.ErrInvalidCategory, want: ErrorTypeParseFailed},
		{name: "malformed metadata", err: &metadata.MetadataInferenceError{Table: "t", Err: metadata.ErrMalformedMetadata}, want: ErrorTypeParseFailed},
		{name: "incomplete metadata", err: metadata.ErrIncompleteMetadata, want: ErrorTypeParseFailed},
		{name: "invalid response format", err: openai.ErrInvalidResponseFormat, want: ErrorTypeParseFailed},
		{name: "other", err: errors.New("connection reset"), want: ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 2, EstimateCounter{}.CountTokens("年齢と収入"))

	// エンコーディング未設定の TokenCounter は概算にフォールバックする
	assert.Equal(t, 2, (&TokenCounter{}).CountTokens("abcdefgh"))
}
