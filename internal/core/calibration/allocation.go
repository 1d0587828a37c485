package calibration

// DefaultTotalQuestions は設定が無い場合の質問総数
const DefaultTotalQuestions = 50

// categoryShare は各カテゴリに割り当てる質問数の割合 (百分率)
var categoryShare = map[Category]int{
	CategorySingleColumn:  21,
	CategoryMultiColumn:   21,
	CategoryTablePurpose:  14,
	CategoryBusinessLogic: 44,
}

// Allocation はカテゴリごとの生成数
type Allocation map[Category]int

// Allocate は質問総数をカテゴリに配分する。
// 各カテゴリは切り捨てで計算し、端数はすべて business_logic に加算するため合計は常に total に一致する
func Allocate(total int) Allocation {
	if total < 0 {
		total = 0
	}

	alloc := make(Allocation, len(categoryShare))
	assigned := 0
	for _, c := range Categories() {
		n := total * categoryShare[c] / 100
		alloc[c] = n
		assigned += n
	}
	alloc[CategoryBusinessLogic] += total - assigned

	return alloc
}

// Total は配分の合計を返す
func (a Allocation) Total() int {
	sum := 0
	for _, n := range a {
		sum += n
	}
	return sum
}
