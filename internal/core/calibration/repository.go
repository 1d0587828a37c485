package calibration

import (
	"context"
	"time"

	"github.com/samber/mo"
)

// QuestionStore はキャリブレーション質問の永続化を担う。
// 質問は追記か全削除のみで、保存済みの質問が書き換えられることはない
type QuestionStore interface {
	// Store は質問を追記する
	Store(ctx context.Context, questions []Question) error

	// List は保存順のまま質問を返す。category は完全一致で絞り込み、limit は先頭 N 件に切り詰める
	List(ctx context.Context, category mo.Option[Category], limit mo.Option[int]) ([]Question, error)

	// Clear は全質問を削除する (冪等)
	Clear(ctx context.Context) error

	// EnsureInitialized は空の保存先が無ければ作成する (冪等)
	EnsureInitialized(ctx context.Context) error
}

// RecordStore はキャリブレーションレコードの永続化を担う。収集のたびに全体を置き換える
type RecordStore interface {
	// Replace は既存レコードを破棄して records を保存する
	Replace(ctx context.Context, records []Record) error

	// List は最後に保存されたレコードを返す
	List(ctx context.Context) ([]Record, error)

	// Snapshot はレコードと最後に収集が完了した時刻を1回の読み込みで返す
	Snapshot(ctx context.Context) (RecordSnapshot, error)

	// Clear は全レコードを削除する (冪等)
	Clear(ctx context.Context) error

	// EnsureInitialized は空の保存先が無ければ作成する (冪等)
	EnsureInitialized(ctx context.Context) error
}

// RecordSnapshot は保存済みレコードの状態。
// CollectedAt は Replace が最後に成功した時刻で、Clear 後や初期化直後は None
type RecordSnapshot struct {
	Records     []Record
	CollectedAt mo.Option[time.Time]
}

// Calibrated は収集が一度完了しているかを返す。収集の結果が0件でも true になる。
// collected_at を持たない古いドキュメントはレコードがあれば完了とみなす
func (s RecordSnapshot) Calibrated() bool {
	return s.CollectedAt.IsPresent() || len(s.Records) > 0
}

// FilterQuestions は List の絞り込みを適用する。category で完全一致の絞り込みを行い、
// 保存順を保ったまま先頭 limit 件に切り詰める。負の limit は 0 件として扱う
func FilterQuestions(questions []Question, category mo.Option[Category], limit mo.Option[int]) []Question {
	out := make([]Question, 0, len(questions))
	for _, q := range questions {
		if c, ok := category.Get(); ok && q.Category != c {
			continue
		}
		out = append(out, q)
	}
	if n, ok := limit.Get(); ok && n < len(out) {
		out = out[:max(n, 0)]
	}
	return out
}
