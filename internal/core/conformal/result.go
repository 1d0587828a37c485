package conformal

import (
	"math"

	"github.com/jinford/conformal-rag/internal/core/calibration"
	"github.com/jinford/conformal-rag/internal/core/retrieval"
)

// ScoredMatch は採用されたマッチとその信頼度 (1 - cosine_distance)
type ScoredMatch struct {
	retrieval.Match
	Confidence float64 `json:"confidence"`
}

// Summary は採用マッチの信頼度の集計。値は小数第3位に丸める
type Summary struct {
	AverageConfidence    float64 `json:"average_confidence"`
	MaxConfidence        float64 `json:"max_confidence"`
	MinConfidence        float64 `json:"min_confidence"`
	SufficientConfidence bool    `json:"sufficient_confidence"`
	NumChunks            int     `json:"num_chunks"`
}

// Result は1回のクエリに対するフィルタ結果
type Result struct {
	Question          string        `json:"question"`
	Matches           []ScoredMatch `json:"matches"`
	ConfidenceSummary Summary       `json:"confidence_summary"`
	ErrorRate         float64       `json:"error_rate"`
	ConfidenceLevel   float64       `json:"confidence_level"`
	// Threshold は算出した距離閾値。キャリブレーションが無く算出できなかった場合は nil
	Threshold *float64 `json:"threshold,omitempty"`
	// Candidates はフィルタ前の候補数
	Candidates int `json:"candidates"`
}

// Columns は採用されたカラム名を返す
func (r Result) Columns() []string {
	cols := make([]string, 0, len(r.Matches))
	for _, m := range r.Matches {
		if m.Metadata.ColumnName != "" {
			cols = append(cols, m.Metadata.ColumnName)
		}
	}
	return cols
}

// Do はマッチをフィルタし、信頼度と集計を付けた Result を返す
func Do(question string, matches []retrieval.Match, records []calibration.Record, errorRate float64) Result {
	admitted, threshold := filter(matches, records, errorRate)

	scored := make([]ScoredMatch, 0, len(admitted))
	for _, m := range admitted {
		scored = append(scored, ScoredMatch{
			Match:      m,
			Confidence: retrieval.ConfidenceFromDistance(m.CosineDistance),
		})
	}

	return Result{
		Question:          question,
		Matches:           scored,
		ConfidenceSummary: summarize(scored),
		ErrorRate:         errorRate,
		ConfidenceLevel:   (1 - errorRate) * 100,
		Threshold:         threshold,
		Candidates:        len(matches),
	}
}

func summarize(matches []ScoredMatch) Summary {
	if len(matches) == 0 {
		return Summary{}
	}

	sum := 0.0
	maxConf := math.Inf(-1)
	minConf := math.Inf(1)
	for _, m := range matches {
		sum += m.Confidence
		maxConf = math.Max(maxConf, m.Confidence)
		minConf = math.Min(minConf, m.Confidence)
	}

	return Summary{
		AverageConfidence:    round3(sum / float64(len(matches))),
		MaxConfidence:        round3(maxConf),
		MinConfidence:        round3(minConf),
		SufficientConfidence: true,
		NumChunks:            len(matches),
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
