package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/conformal-rag/internal/core/calibration"
	"github.com/jinford/conformal-rag/internal/core/conformal"
	"github.com/jinford/conformal-rag/internal/core/metadata"
	"github.com/jinford/conformal-rag/internal/core/pipeline"
	"github.com/jinford/conformal-rag/internal/core/retrieval"
	"github.com/jinford/conformal-rag/internal/platform/config"
)

func sampleAskResult() *pipeline.AskResult {
	threshold := 0.232
	return &pipeline.AskResult{
		Result: conformal.Result{
			Question: "How old are respondents?",
			Matches: []conformal.ScoredMatch{{
				Match: retrieval.Match{
					Content:        "Column: age\nType: INTEGER",
					Metadata:       retrieval.Metadata{Type: retrieval.DocTypeColumn, ColumnName: "age", TableName: "people"},
					CosineDistance: 0.1234,
				},
				Confidence: 0.877,
			}},
			ConfidenceSummary: conformal.Summary{
				AverageConfidence:    0.877,
				MaxConfidence:        0.877,
				MinConfidence:        0.877,
				SufficientConfidence: true,
				NumChunks:            1,
			},
			ErrorRate:       0.1,
			ConfidenceLevel: 90,
			Threshold:       &threshold,
		},
		Status: pipeline.StatusSuccess,
		State:  pipeline.StateDone,
	}
}

func TestPrinter_AskResult(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, true).AskResult(sampleAskResult())

	out := buf.String()
	assert.Contains(t, out, "=== RAG Response Details ===")
	assert.Contains(t, out, "Status: Success")
	assert.Contains(t, out, "Confidence Level: 90%")
	assert.Contains(t, out, "Threshold: 0.232")
	assert.Contains(t, out, "Column: age")
	assert.Contains(t, out, "Table: people")
	assert.Contains(t, out, "Distance: 0.123")
	assert.Contains(t, out, "Matches Found: 1")
	assert.Contains(t, out, "Sufficient Confidence: true")
	assert.NotContains(t, out, "=== Answer ===")
	assert.NotContains(t, out, "\x1b[")
}

func TestPrinter_AskResultWithAnswer(t *testing.T) {
	result := sampleAskResult()
	result.Answer = "Respondents are mostly in their thirties."

	var buf bytes.Buffer
	NewPrinter(&buf, true).AskResult(result)
	assert.Contains(t, buf.String(), "=== Answer ===\nRespondents are mostly in their thirties.\n")

	buf.Reset()
	require.NoError(t, NewPrinter(&buf, true).JSON(result))
	var body map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &body))
	assert.Equal(t, "Respondents are mostly in their thirties.", body["answer"])
}

func TestPrinter_AskResultWithoutMatches(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf, true).AskResult(&pipeline.AskResult{
		Result: conformal.Result{ErrorRate: 0.1, ConfidenceLevel: 90},
		Status: pipeline.StatusNoRelevantMetadata,
	})

	out := buf.String()
	assert.Contains(t, out, "No relevant metadata found")
	assert.NotContains(t, out, "Confidence Summary")
	assert.NotContains(t, out, "Threshold:")
}

func TestPrinter_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, true).JSON(sampleAskResult()))

	var body map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &body))
	assert.Equal(t, "Success", body["status"])
	assert.Equal(t, "Done", body["state"])
	assert.NotContains(t, body, "answer")
}

func TestPrinter_Listings(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, true)

	p.Questions(nil)
	assert.Contains(t, buf.String(), "No calibration questions stored")

	buf.Reset()
	p.Questions([]calibration.Question{{
		Question:      "Average income by age?",
		Category:      calibration.CategoryMultiColumn,
		SourceColumns: []string{"age", "income"},
	}})
	assert.Contains(t, buf.String(), "multi_column")
	assert.Contains(t, buf.String(), "columns: age, income")

	buf.Reset()
	p.Records([]calibration.Record{{
		Question:       "Average income by age?",
		CosineDistance: 0.25,
		Metadata:       retrieval.Metadata{ColumnName: "income"},
	}})
	assert.Contains(t, buf.String(), "income (distance 0.250)")

	buf.Reset()
	p.Threshold(0.2, 0.4567, 12)
	assert.Contains(t, buf.String(), "Confidence Level: 80%")
	assert.Contains(t, buf.String(), "Threshold: 0.457")
	assert.Contains(t, buf.String(), "Calibration Size: 12")

	buf.Reset()
	p.Schema(metadata.TableSchema{
		TableName: "people",
		Columns:   []metadata.Column{{Name: "age", Type: "INTEGER", SampleValues: []string{"34", "41"}}},
	})
	assert.Contains(t, buf.String(), "Table: people")
	assert.Contains(t, buf.String(), "34, 41")
}

func TestPrinter_Bootstrap(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, true)

	p.Bootstrap(&pipeline.BootstrapResult{Rebuilt: false})
	assert.Contains(t, buf.String(), "nothing to do")

	buf.Reset()
	p.Bootstrap(&pipeline.BootstrapResult{
		Resumed:   true,
		Questions: 3,
		Stats:     calibration.CollectionStats{QuestionsProcessed: 3},
	})
	assert.Contains(t, buf.String(), "Calibration resumed on existing index")
	assert.Contains(t, buf.String(), "Records written: 0")

	buf.Reset()
	p.Bootstrap(&pipeline.BootstrapResult{
		Rebuilt:   true,
		Schema:    metadata.TableSchema{TableName: "people", Columns: []metadata.Column{{Name: "age"}}},
		Questions: 3,
		Stats:     calibration.CollectionStats{QuestionsProcessed: 3, RecordsWritten: 4, MissedColumns: 1},
	})
	out := buf.String()
	assert.Contains(t, out, "Table: people (1 columns)")
	assert.Contains(t, out, "Questions generated: 3")
	assert.Contains(t, out, "Records written: 4")
	assert.Contains(t, out, "Columns missing from top-k: 1")
}

func TestResolveAllocation(t *testing.T) {
	cfg := &config.Config{Calibration: config.CalibrationConfig{TotalQuestions: 50}}

	alloc, err := resolveAllocation(cfg, 10, "")
	require.NoError(t, err)
	assert.Equal(t, 10, alloc.Total())

	alloc, err = resolveAllocation(cfg, 0, "")
	require.NoError(t, err)
	assert.Equal(t, 50, alloc.Total())

	_, err = resolveAllocation(cfg, -1, "")
	assert.Error(t, err)
}
