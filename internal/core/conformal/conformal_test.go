package conformal

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/conformal-rag/internal/core/calibration"
	"github.com/jinford/conformal-rag/internal/core/retrieval"
)

func records(column string, distances ...float64) []calibration.Record {
	out := make([]calibration.Record, 0, len(distances))
	for _, d := range distances {
		out = append(out, calibration.Record{
			Question:       "q",
			CosineDistance: d,
			Metadata:       retrieval.Metadata{Type: retrieval.DocTypeColumn, ColumnName: column, TableName: "customers"},
			SourceColumns:  []string{column},
		})
	}
	return out
}

func column(name string, distance float64) retrieval.Match {
	return retrieval.Match{
		Content:        name + " description",
		Metadata:       retrieval.Metadata{Type: retrieval.DocTypeColumn, ColumnName: name, TableName: "customers"},
		CosineDistance: distance,
	}
}

func table(distance float64) retrieval.Match {
	return retrieval.Match{
		Content:        "customers table",
		Metadata:       retrieval.Metadata{Type: retrieval.DocTypeTable, TableName: "customers"},
		CosineDistance: distance,
	}
}

func TestPercentile(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
		q      float64
		want   float64
	}{
		{name: "80th of five", scores: []float64{0.1, 0.2, 0.3, 0.4, 0.5}, q: 80, want: 0.42},
		{name: "unsorted input", scores: []float64{0.5, 0.1, 0.4, 0.2, 0.3}, q: 80, want: 0.42},
		{name: "median even", scores: []float64{1, 2, 3, 4}, q: 50, want: 2.5},
		{name: "minimum", scores: []float64{3, 1, 2}, q: 0, want: 1},
		{name: "maximum", scores: []float64{3, 1, 2}, q: 100, want: 3},
		{name: "single value", scores: []float64{0.7}, q: 90, want: 0.7},
		{name: "clamped above", scores: []float64{1, 2}, q: 150, want: 2},
		{name: "clamped below", scores: []float64{1, 2}, q: -10, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Percentile(tt.scores, tt.q), 1e-9)
		})
	}

	assert.True(t, math.IsNaN(Percentile(nil, 50)))
}

func TestPercentile_DoesNotMutateInput(t *testing.T) {
	scores := []float64{0.5, 0.1, 0.3}
	Percentile(scores, 50)
	assert.Equal(t, []float64{0.5, 0.1, 0.3}, scores)
}

func TestThreshold(t *testing.T) {
	recs := records("age", 0.1, 0.2, 0.3, 0.4, 0.5)

	threshold, err := Threshold(recs, 0.2)
	require.NoError(t, err)
	assert.InDelta(t, 0.42, threshold, 1e-9)

	_, err = Threshold(nil, 0.2)
	assert.ErrorIs(t, err, ErrNoCalibrationData)

	for _, rate := range []float64{0, 1, -0.1, 1.5, math.NaN()} {
		_, err = Threshold(recs, rate)
		assert.ErrorIs(t, err, ErrInvalidErrorRate, "rate=%v", rate)
	}
}

func TestThreshold_Monotonic(t *testing.T) {
	recs := records("age", 0.31, 0.05, 0.22, 0.18, 0.47, 0.12, 0.29, 0.4)

	prev := math.Inf(1)
	for rate := 0.01; rate < 1; rate += 0.01 {
		threshold, err := Threshold(recs, rate)
		require.NoError(t, err)
		assert.LessOrEqual(t, threshold, prev, "rate=%v", rate)
		prev = threshold
	}
}

func TestFilter_PercentileBoundary(t *testing.T) {
	recs := records("age", 0.1, 0.2, 0.3, 0.4, 0.5)

	admitted := Filter([]retrieval.Match{column("age", 0.4), column("income", 0.45)}, recs, 0.2)
	require.Len(t, admitted, 1)
	assert.Equal(t, "age", admitted[0].Metadata.ColumnName)
}

func TestFilter_FailsClosed(t *testing.T) {
	matches := []retrieval.Match{column("age", 0.0001), column("income", 0.2)}

	assert.Empty(t, Filter(matches, nil, 0.1))
	assert.Empty(t, Filter(matches, []calibration.Record{}, 0.5))
	assert.Empty(t, Filter(nil, records("age", 0.1, 0.2), 0.1))
	assert.Empty(t, Filter(matches, records("age", 0.1, 0.2), 0))
}

func TestFilter_NeverAdmitsTables(t *testing.T) {
	recs := records("age", 0.5, 0.6, 0.9)
	matches := []retrieval.Match{table(0), table(0.01), column("age", 0.3)}

	admitted := Filter(matches, recs, 0.05)
	require.Len(t, admitted, 1)
	for _, m := range admitted {
		assert.Equal(t, retrieval.DocTypeColumn, m.Metadata.Type)
	}
}

func TestFilter_LowerErrorRateAdmitsAtLeastAsMany(t *testing.T) {
	recs := records("age", 0.1, 0.15, 0.2, 0.25, 0.3, 0.35)
	matches := []retrieval.Match{column("a", 0.12), column("b", 0.22), column("c", 0.28), column("d", 0.34)}

	higherRate := Filter(matches, recs, 0.5)
	lowerRate := Filter(matches, recs, 0.05)
	assert.GreaterOrEqual(t, len(lowerRate), len(higherRate))
}

func TestDo_Scenario(t *testing.T) {
	recs := []calibration.Record{}
	recs = append(recs, records("age", 0.1, 0.3)...)
	recs = append(recs, records("income", 0.2)...)

	// 66パーセンタイルは 0.2 と 0.3 の間を 0.32 で補間した 0.232
	threshold, err := Threshold(recs, 0.34)
	require.NoError(t, err)
	assert.InDelta(t, 0.232, threshold, 1e-9)

	t.Run("columns below threshold are admitted, tables never", func(t *testing.T) {
		matches := []retrieval.Match{column("age", 0.15), column("zipcode", 0.05), table(0.01)}

		result := Do("How old are our customers?", matches, recs, 0.34)
		assert.ElementsMatch(t, []string{"age", "zipcode"}, result.Columns())
		assert.Equal(t, 3, result.Candidates)
	})

	t.Run("column above threshold is rejected", func(t *testing.T) {
		matches := []retrieval.Match{column("age", 0.15), column("zipcode", 0.5), table(0.01)}

		result := Do("How old are our customers?", matches, recs, 0.34)
		require.Len(t, result.Matches, 1)
		assert.Equal(t, "age", result.Matches[0].Metadata.ColumnName)
		assert.InDelta(t, 0.85, result.Matches[0].Confidence, 1e-9)

		assert.Equal(t, Summary{
			AverageConfidence:    0.85,
			MaxConfidence:        0.85,
			MinConfidence:        0.85,
			SufficientConfidence: true,
			NumChunks:            1,
		}, result.ConfidenceSummary)
		assert.InDelta(t, 66, result.ConfidenceLevel, 1e-9)
		require.NotNil(t, result.Threshold)
		assert.InDelta(t, 0.232, *result.Threshold, 1e-9)
	})
}

func TestDo_Summary(t *testing.T) {
	recs := records("age", 0.2, 0.4, 0.6)
	matches := []retrieval.Match{column("age", 0.1234), column("income", 0.3), column("region", 0.45)}

	result := Do("q", matches, recs, 0.1)
	require.Len(t, result.Matches, 3)
	assert.Equal(t, 0.877, result.ConfidenceSummary.MaxConfidence)
	assert.Equal(t, 0.55, result.ConfidenceSummary.MinConfidence)
	assert.Equal(t, 0.709, result.ConfidenceSummary.AverageConfidence)
	assert.Equal(t, 3, result.ConfidenceSummary.NumChunks)
}

func TestDo_NothingAdmitted(t *testing.T) {
	result := Do("q", []retrieval.Match{column("age", 0.2)}, nil, 0.1)

	assert.Empty(t, result.Matches)
	assert.NotNil(t, result.Matches)
	assert.Equal(t, Summary{}, result.ConfidenceSummary)
	assert.Nil(t, result.Threshold)
	assert.InDelta(t, 90, result.ConfidenceLevel, 1e-9)
}

func TestResult_JSON(t *testing.T) {
	result := Do("q", []retrieval.Match{column("age", 0.1)}, records("age", 0.2), 0.1)

	data, err := json.Marshal(result)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "confidence_summary")
	assert.Contains(t, decoded, "confidence_level")
	assert.Contains(t, decoded, "error_rate")

	matches := decoded["matches"].([]any)
	require.Len(t, matches, 1)
	first := matches[0].(map[string]any)
	assert.Equal(t, "age description", first["content"])
	assert.Contains(t, first, "cosine_distance")
	assert.Contains(t, first, "confidence")
}
