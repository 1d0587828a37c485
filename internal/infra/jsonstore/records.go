package jsonstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/samber/mo"

	"github.com/jinford/conformal-rag/internal/core/calibration"
)

type recordDocument struct {
	Version     int                  `json:"version"`
	LastUpdated time.Time            `json:"last_updated"`
	CollectedAt *time.Time           `json:"collected_at,omitempty"`
	Records     []calibration.Record `json:"records"`
}

// RecordStore はキャリブレーションレコードを1つのJSONファイルに保存する
type RecordStore struct {
	mu   sync.Mutex
	path string
	opts options
}

// NewRecordStore は path に保存する RecordStore を作成する
func NewRecordStore(path string, opts ...Option) *RecordStore {
	return &RecordStore{
		path: path,
		opts: buildOptions(opts),
	}
}

// Path は保存先のファイルパスを返す
func (s *RecordStore) Path() string {
	return s.path
}

// Replace は既存レコードを records で置き換える
func (s *RecordStore) Replace(ctx context.Context, records []calibration.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.save(records, true)
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
	empty := calibration.RecordSnapshot{Records: []calibration.Record{}, CollectedAt: mo.None[time.Time]()}
	if err := ctx.Err(); err != nil {
		return empty, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var doc recordDocument
	_, err := readDocument(s.path, &doc, func() int { return doc.Version })
	if errors.Is(err, errCorrupt) {
		s.opts.logger.Warn("calibration record file is corrupt, treating as empty",
			"path", s.path,
			"error", err,
		)
		return empty, nil
	}
	if err != nil {
		return empty, err
	}

	snapshot := empty
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
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.save(nil, false)
}

// EnsureInitialized はファイルが無ければ空のドキュメントを作成する
func (s *RecordStore) EnsureInitialized(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var doc recordDocument
	found, err := readDocument(s.path, &doc, func() int { return doc.Version })
	if err != nil && !errors.Is(err, errCorrupt) {
		return err
	}
	if found {
		return nil
	}
	return s.save(nil, false)
}

// save はドキュメントを書き出す。collected が true なら収集完了時刻を記録する
func (s *RecordStore) save(records []calibration.Record, collected bool) error {
	if records == nil {
		records = []calibration.Record{}
	}
	now := s.opts.now()
	doc := recordDocument{
		Version:     DocumentVersion,
		LastUpdated: now,
		Records:     records,
	}
	if collected {
		doc.CollectedAt = &now
	}
	return writeDocument(s.path, doc)
}

var _ calibration.RecordStore = (*RecordStore)(nil)
