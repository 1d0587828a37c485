package jsonstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/samber/mo"

	"github.com/jinford/conformal-rag/internal/core/calibration"
)

type questionDocument struct {
	Version     int                    `json:"version"`
	LastUpdated time.Time              `json:"last_updated"`
	Questions   []calibration.Question `json:"questions"`
}

// QuestionStore はキャリブレーション質問を1つのJSONファイルに保存する
type QuestionStore struct {
	mu   sync.Mutex
	path string
	opts options
}

// NewQuestionStore は path に保存する QuestionStore を作成する
func NewQuestionStore(path string, opts ...Option) *QuestionStore {
	return &QuestionStore{
		path: path,
		opts: buildOptions(opts),
	}
}

// Path は保存先のファイルパスを返す
func (s *QuestionStore) Path() string {
	return s.path
}

// Store は質問を追記する
func (s *QuestionStore) Store(ctx context.Context, questions []calibration.Question) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(questions) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, corrupt, err := s.load()
	if err != nil {
		return err
	}
	if corrupt {
		dest, err := quarantine(s.path, s.opts.now())
		if err != nil {
			return err
		}
		s.opts.logger.Warn("corrupt calibration question file moved aside",
			"path", s.path,
			"moved_to", dest,
		)
	}
	doc.Questions = append(doc.Questions, questions...)

	if err := s.save(doc.Questions); err != nil {
		return err
	}

	s.opts.logger.Debug("calibration questions stored",
		"path", s.path,
		"added", len(questions),
		"total", len(doc.Questions),
	)
	return nil
}

// List は保存順のまま質問を返す
func (s *QuestionStore) List(ctx context.Context, category mo.Option[calibration.Category], limit mo.Option[int]) ([]calibration.Question, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, _, err := s.load()
	if err != nil {
		return nil, err
	}
	return calibration.FilterQuestions(doc.Questions, category, limit), nil
}

// Clear は全質問を削除する
func (s *QuestionStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.save(nil)
}

// EnsureInitialized はファイルが無ければ空のドキュメントを作成する
func (s *QuestionStore) EnsureInitialized(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var doc questionDocument
	found, err := readDocument(s.path, &doc, func() int { return doc.Version })
	if err != nil && !errors.Is(err, errCorrupt) {
		return err
	}
	if found {
		return nil
	}
	return s.save(nil)
}

// load はドキュメントを読み込む。壊れている場合は警告を出して空として扱い、corrupt=true を返す
func (s *QuestionStore) load() (questionDocument, bool, error) {
	var doc questionDocument
	_, err := readDocument(s.path, &doc, func() int { return doc.Version })
	if errors.Is(err, errCorrupt) {
		s.opts.logger.Warn("calibration question file is corrupt, treating as empty",
			"path", s.path,
			"error", err,
		)
		return questionDocument{}, true, nil
	}
	if err != nil {
		return questionDocument{}, false, err
	}
	return doc, false, nil
}

func (s *QuestionStore) save(questions []calibration.Question) error {
	if questions == nil {
		questions = []calibration.Question{}
	}
	return writeDocument(s.path, questionDocument{
		Version:     DocumentVersion,
		LastUpdated: s.opts.now(),
		Questions:   questions,
	})
}

var _ calibration.QuestionStore = (*QuestionStore)(nil)
