package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/mo"

	"github.com/jinford/conformal-rag/internal/core/calibration"
)

const (
	// QuestionsSnapshot は質問スナップショットの行名
	QuestionsSnapshot = "calibration_questions"
	// RecordsSnapshot はレコードスナップショットの行名
	RecordsSnapshot = "calibration_records"

	snapshotVersion = 1
)

// SnapshotOption は スナップショットストアのオプション
type SnapshotOption func(*snapshotStore)

// WithSnapshotLogger はロガーを設定する
func WithSnapshotLogger(logger *slog.Logger) SnapshotOption {
	return func(s *snapshotStore) {
		s.logger = logger
	}
}

// WithSnapshotClock は last_updated に使う時刻の取得関数を差し替える
func WithSnapshotClock(now func() time.Time) SnapshotOption {
	return func(s *snapshotStore) {
		s.now = now
	}
}

// snapshotStore は calibration_snapshots の1行をJSONドキュメントとして読み書きする。
// 書き込みは行名をキーにしたアドバイザリロックで直列化する
type snapshotStore struct {
	db     Conn
	name   string
	now    func() time.Time
	logger *slog.Logger
}

func newSnapshotStore(db Conn, name string, opts []SnapshotOption) snapshotStore {
	s := snapshotStore{
		db:     db,
		name:   name,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func (s *snapshotStore) storageError(op string, err error) error {
	return &calibration.StorageError{Op: op, Path: "postgres:" + s.name, Err: err}
}

// load はドキュメントを取得する。行が無ければ nil を返す
func (s *snapshotStore) load(ctx context.Context, db DBTX) ([]byte, error) {
	var document []byte
	err := db.QueryRow(ctx,
		`SELECT document FROM calibration_snapshots WHERE name = $1`,
		s.name,
	).Scan(&document)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return document, nil
}

func (s *snapshotStore) save(ctx context.Context, db DBTX, document any) error {
	data, err := json.Marshal(document)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if _, err := db.Exec(ctx,
		`INSERT INTO calibration_snapshots (name, document, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`,
		s.name, data, TimeToPgtimestamptz(s.now()),
	); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// update はロックを取得したトランザクション内で読み込み・変更・書き込みを行う
func (s *snapshotStore) update(ctx context.Context, fn func(current []byte) (any, error)) error {
	_, err := transact(ctx, s.db, func(tx pgx.Tx) (struct{}, error) {
		if err := acquireLock(ctx, tx, GenerateLockID("calibration_snapshot", s.name)); err != nil {
			return struct{}{}, err
		}
		current, err := s.load(ctx, tx)
		if err != nil {
			return struct{}{}, err
		}
		next, err := fn(current)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, s.save(ctx, tx, next)
	})
	return err
}

func (s *snapshotStore) ensureInitialized(ctx context.Context, empty any) error {
	data, err := json.Marshal(empty)
	if err != nil {
		return s.storageError("init", err)
	}
	if _, err := s.db.Exec(ctx,
		`INSERT INTO calibration_snapshots (name, document, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO NOTHING`,
		s.name, data, TimeToPgtimestamptz(s.now()),
	); err != nil {
		return s.storageError("init", err)
	}
	return nil
}

// decode はドキュメントを v に読み込む。壊れている場合は警告を出して false を返す
func (s *snapshotStore) decode(data []byte, v any, version func() int) bool {
	if data == nil {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn("calibration snapshot is corrupt, treating as empty",
			"snapshot", s.name,
			"error", err,
		)
		return false
	}
	if got := version(); got > snapshotVersion {
		s.logger.Warn("calibration snapshot has unsupported version, treating as empty",
			"snapshot", s.name,
			"version", got,
		)
		return false
	}
	return true
}

type questionSnapshot struct {
	Version     int                    `json:"version"`
	LastUpdated time.Time              `json:"last_updated"`
	Questions   []calibration.Question `json:"questions"`
}

// QuestionStore は calibration.QuestionStore の PostgreSQL 実装
type QuestionStore struct {
	snapshot snapshotStore
}

// NewQuestionStore は新しい QuestionStore を返す
func NewQuestionStore(db Conn, opts ...SnapshotOption) *QuestionStore {
	return &QuestionStore{snapshot: newSnapshotStore(db, QuestionsSnapshot, opts)}
}

var _ calibration.QuestionStore = (*QuestionStore)(nil)

func (s *QuestionStore) decode(data []byte) questionSnapshot {
	var doc questionSnapshot
	if !s.snapshot.decode(data, &doc, func() int { return doc.Version }) {
		return questionSnapshot{}
	}
	return doc
}

func (s *QuestionStore) document(questions []calibration.Question) questionSnapshot {
	if questions == nil {
		questions = []calibration.Question{}
	}
	return questionSnapshot{
		Version:     snapshotVersion,
		LastUpdated: s.snapshot.now(),
		Questions:   questions,
	}
}

// Store は質問を追記する
func (s *QuestionStore) Store(ctx context.Context, questions []calibration.Question) error {
	if len(questions) == 0 {
		return nil
	}
	err := s.snapshot.update(ctx, func(current []byte) (any, error) {
		doc := s.decode(current)
		return s.document(append(doc.Questions, questions...)), nil
	})
	if err != nil {
		return s.snapshot.storageError("write", err)
	}
	return nil
}

// List は保存順のまま質問を返す
func (s *QuestionStore) List(ctx context.Context, category mo.Option[calibration.Category], limit mo.Option[int]) ([]calibration.Question, error) {
	data, err := s.snapshot.load(ctx, s.snapshot.db)
	if err != nil {
		return nil, s.snapshot.storageError("read", err)
	}
	return calibration.FilterQuestions(s.decode(data).Questions, category, limit), nil
}

// Clear は全質問を削除する
func (s *QuestionStore) Clear(ctx context.Context) error {
	err := s.snapshot.update(ctx, func([]byte) (any, error) {
		return s.document(nil), nil
	})
	if err != nil {
		return s.snapshot.storageError("clear", err)
	}
	return nil
}

// EnsureInitialized は行が無ければ空のドキュメントを作成する
func (s *QuestionStore) EnsureInitialized(ctx context.Context) error {
	return s.snapshot.ensureInitialized(ctx, s.document(nil))
}

type recordSnapshot struct {
	Version     int                  `json:"version"`
	LastUpdated time.Time            `json:"last_updated"`
	CollectedAt *time.Time           `json:"collected_at,omitempty"`
	Records     []calibration.Record `json:"records"`
}

// RecordStore は calibration.RecordStore の PostgreSQL 実装
type RecordStore struct {
	snapshot snapshotStore
}

// NewRecordStore は新しい RecordStore を返す
func NewRecordStore(db Conn, opts ...SnapshotOption) *RecordStore {
	return &RecordStore{snapshot: newSnapshotStore(db, RecordsSnapshot, opts)}
}

var _ calibration.RecordStore = (*RecordStore)(nil)

// document は保存するドキュメントを作る。collected が true なら収集完了時刻を記録する
func (s *RecordStore) document(records []calibration.Record, collected bool) recordSnapshot {
	if records == nil {
		records = []calibration.Record{}
	}
	now := s.snapshot.now()
	doc := recordSnapshot{
		Version:     snapshotVersion,
		LastUpdated: now,
		Records:     records,
	}
	if collected {
		doc.CollectedAt = &now
	}
	return doc
}

// Replace は既存レコードを records で置き換える
func (s *RecordStore) Replace(ctx context.Context, records []calibration.Record) error {
	err := s.snapshot.update(ctx, func([]byte) (any, error) {
		return s.document(records, true), nil
	})
	if err != nil {
		return s.snapshot.storageError("write", err)
	}
	return nil
}

// List は保存済みのレコードを返す
func (s *RecordStore) List(ctx context.Context) ([]calibration.Record, error) {
	snapshot, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snapshot.Records, nil
}

// Snapshot は保存済みのレコードと収集完了時刻を返す
func (s *RecordStore) Snapshot(ctx context.Context) (calibration.RecordSnapshot, error) {
	snapshot := calibration.RecordSnapshot{Records: []calibration.Record{}, CollectedAt: mo.None[time.Time]()}

	data, err := s.snapshot.load(ctx, s.snapshot.db)
	if err != nil {
		return snapshot, s.snapshot.storageError("read", err)
	}

	var doc recordSnapshot
	if !s.snapshot.decode(data, &doc, func() int { return doc.Version }) {
		return snapshot, nil
	}
	if doc.Records != nil {
		snapshot.Records = doc.Records
	}
	if doc.CollectedAt != nil {
		snapshot.CollectedAt = mo.Some(*doc.CollectedAt)
	}
	return snapshot, nil
}

// Clear は全レコードを削除する
func (s *RecordStore) Clear(ctx context.Context) error {
	err := s.snapshot.update(ctx, func([]byte) (any, error) {
		return s.document(nil, false), nil
	})
	if err != nil {
		return s.snapshot.storageError("clear", err)
	}
	return nil
}

// EnsureInitialized は行が無ければ空のドキュメントを作成する
func (s *RecordStore) EnsureInitialized(ctx context.Context) error {
	return s.snapshot.ensureInitialized(ctx, s.document(nil, false))
}
