// Package conformal はキャリブレーション距離分布に基づく分割コンフォーマル予測フィルタを提供する。
//
// キャリブレーション質問の真陽性マッチの距離を非適合度スコアとみなし、
// その (1 - errorRate) パーセンタイルを閾値として、閾値以下のカラムマッチだけを採用する。
package conformal

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/jinford/conformal-rag/internal/core/calibration"
	"github.com/jinford/conformal-rag/internal/core/retrieval"
)

// DefaultErrorRate は指定が無い場合の誤り率 (信頼水準 90%)
const DefaultErrorRate = 0.1

var (
	// ErrInvalidErrorRate は誤り率が (0, 1) の範囲外の場合のエラー
	ErrInvalidErrorRate = errors.New("error rate must be between 0 and 1 (exclusive)")

	// ErrNoCalibrationData はキャリブレーションレコードが無い場合のエラー
	ErrNoCalibrationData = errors.New("no calibration data")
)

// ValidateErrorRate は誤り率が (0, 1) に収まっているか検証する
func ValidateErrorRate(errorRate float64) error {
	if math.IsNaN(errorRate) || errorRate <= 0 || errorRate >= 1 {
		return fmt.Errorf("%w: %v", ErrInvalidErrorRate, errorRate)
	}
	return nil
}

// Percentile は順序統計量の線形補間でパーセンタイルを求める。
// 位置は q/100*(n-1) とし、q は [0, 100] に丸める。空の入力には NaN を返す
func Percentile(scores []float64, q float64) float64 {
	n := len(scores)
	if n == 0 {
		return math.NaN()
	}

	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)

	q = math.Max(0, math.Min(100, q))
	rank := q / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// Threshold はキャリブレーション距離の (1 - errorRate) パーセンタイルを採用閾値として返す
func Threshold(records []calibration.Record, errorRate float64) (float64, error) {
	if err := ValidateErrorRate(errorRate); err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, ErrNoCalibrationData
	}
	return Percentile(calibration.Distances(records), (1-errorRate)*100), nil
}

// Filter は閾値以下の距離を持つカラムマッチだけを入力順のまま返す。
// レコードかマッチが空、または誤り率が不正な場合は何も採用しない
func Filter(matches []retrieval.Match, records []calibration.Record, errorRate float64) []retrieval.Match {
	admitted, _ := filter(matches, records, errorRate)
	return admitted
}

func filter(matches []retrieval.Match, records []calibration.Record, errorRate float64) ([]retrieval.Match, *float64) {
	admitted := make([]retrieval.Match, 0, len(matches))
	if len(matches) == 0 {
		return admitted, nil
	}

	threshold, err := Threshold(records, errorRate)
	if err != nil {
		return admitted, nil
	}

	for _, m := range matches {
		if !m.Metadata.IsColumn() {
			continue
		}
		if m.CosineDistance <= threshold {
			admitted = append(admitted, m)
		}
	}
	return admitted, &threshold
}
