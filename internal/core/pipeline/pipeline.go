package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/samber/mo"

	"github.com/jinford/conformal-rag/internal/core/calibration"
	"github.com/jinford/conformal-rag/internal/core/conformal"
	"github.com/jinford/conformal-rag/internal/core/metadata"
	"github.com/jinford/conformal-rag/internal/core/retrieval"
)

const (
	// DefaultIndexName はメタデータインデックスの既定名
	DefaultIndexName = "metadata_index"

	// StatusSuccess は1件以上のマッチが採用された場合のステータス
	StatusSuccess = "Success"

	// StatusNoRelevantMetadata は何も採用されなかった場合のステータス
	StatusNoRelevantMetadata = "No relevant metadata found"

	noRelevantMessage = "No column descriptions met the calibrated confidence threshold. Try rephrasing the question or raising the error rate."
)

var (
	// ErrEmptyQuestion は質問が空の場合のエラー
	ErrEmptyQuestion = errors.New("question is required")

	// ErrNoQuestionsGenerated は質問を1件も生成できなかった場合のエラー
	ErrNoQuestionsGenerated = errors.New("no calibration questions were generated")

	// ErrIndexNotBuilt はインデックスが未構築の場合のエラー
	ErrIndexNotBuilt = errors.New("metadata index has not been built")

	// ErrAnswerUnavailable は回答生成器が設定されていない場合のエラー
	ErrAnswerUnavailable = errors.New("answer generation is not configured")
)

// MetadataInferrer はスキーマからテーブル説明を推定する
type MetadataInferrer interface {
	Infer(ctx context.Context, schema metadata.TableSchema) (metadata.TableMetadata, error)
}

// QuestionGenerator はキャリブレーション質問セットを生成して保存する
type QuestionGenerator interface {
	GenerateQuestionSet(ctx context.Context, req calibration.QuestionSetRequest, store calibration.QuestionStore) ([]calibration.Question, error)
}

// Answerer は採用されたカラム説明から回答文を生成する
type Answerer interface {
	Answer(ctx context.Context, question string, matches []conformal.ScoredMatch) (string, error)
}

// Config はパイプラインの動作設定
type Config struct {
	IndexName          string
	Allocation         calibration.Allocation
	QueryTopK          int
	CollectTopK        int
	CollectConcurrency int
}

// DefaultConfig は既定の設定を返す
func DefaultConfig() Config {
	return Config{
		IndexName:          DefaultIndexName,
		Allocation:         calibration.Allocate(calibration.DefaultTotalQuestions),
		QueryTopK:          retrieval.DefaultQueryLimit,
		CollectTopK:        calibration.DefaultCollectTopK,
		CollectConcurrency: calibration.DefaultCollectConcurrency,
	}
}

// Pipeline はブートストラップとクエリの一連の処理を束ねる。
// インデックスハンドルは呼び出しごとに開き、プロセス全体では保持しない
type Pipeline struct {
	schema    metadata.SchemaSource
	inferrer  MetadataInferrer
	index     *retrieval.Service
	generator QuestionGenerator
	questions calibration.QuestionStore
	records   calibration.RecordStore
	answerer  Answerer
	cfg       Config
	logger    *slog.Logger

	// bootstrapMu は同一プロセス内でブートストラップが重複実行されないようにする
	bootstrapMu sync.Mutex
}

// Option は Pipeline のオプション
type Option func(*Pipeline)

// WithLogger はロガーを設定する
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithConfig は動作設定を差し替える
func WithConfig(cfg Config) Option {
	return func(p *Pipeline) {
		p.cfg = cfg
	}
}

// WithAnswerer は回答生成器を設定する。未設定の場合、回答付きの Ask はエラーになる
func WithAnswerer(answerer Answerer) Option {
	return func(p *Pipeline) {
		p.answerer = answerer
	}
}

// New は新しい Pipeline を作成する
func New(
	schema metadata.SchemaSource,
	inferrer MetadataInferrer,
	index *retrieval.Service,
	generator QuestionGenerator,
	questions calibration.QuestionStore,
	records calibration.RecordStore,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		schema:    schema,
		inferrer:  inferrer,
		index:     index,
		generator: generator,
		questions: questions,
		records:   records,
		cfg:       DefaultConfig(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.cfg.IndexName == "" {
		p.cfg.IndexName = DefaultIndexName
	}
	if p.cfg.Allocation == nil {
		p.cfg.Allocation = calibration.Allocate(calibration.DefaultTotalQuestions)
	}
	return p
}

// BootstrapResult はブートストラップの結果
type BootstrapResult struct {
	Handle *retrieval.Handle
	// Records は校正に使うキャリブレーションレコード
	Records []calibration.Record
	// Rebuilt はインデックスを構築し直した場合に true
	Rebuilt bool
	// Resumed は既存インデックスのまま未完了のキャリブレーションをやり直した場合に true
	Resumed   bool
	Schema    metadata.TableSchema
	Metadata  metadata.TableMetadata
	Questions int
	Stats     calibration.CollectionStats
	State     State
}

// Bootstrap はインデックスとキャリブレーションを用意し、インデックスハンドルを返す。
// force でない場合はインデックスの有無で判断する。インデックスがあり収集が完了済みなら
// 何もしない（レコードが0件でも完了とみなす）。収集が完了していなければインデックスは
// 作り直さずにキャリブレーションだけをやり直す
func (p *Pipeline) Bootstrap(ctx context.Context, force bool) (*BootstrapResult, error) {
	p.bootstrapMu.Lock()
	defer p.bootstrapMu.Unlock()

	if force {
		return p.bootstrap(ctx)
	}

	handle, found, err := p.index.Open(ctx, p.cfg.IndexName)
	if err != nil {
		return nil, stepError(StepOpenIndex, err)
	}
	if !found {
		return p.bootstrap(ctx)
	}

	snapshot, err := p.records.Snapshot(ctx)
	if err != nil {
		return nil, stepError(StepLoadCalibration, err)
	}
	if snapshot.Calibrated() {
		return &BootstrapResult{Handle: handle, Records: snapshot.Records, State: StateCalibrated}, nil
	}

	p.logger.Warn("metadata index exists without completed calibration, resuming calibration",
		"index", p.cfg.IndexName,
	)
	return p.resume(ctx, handle)
}

func (p *Pipeline) bootstrap(ctx context.Context) (*BootstrapResult, error) {
	result := &BootstrapResult{Rebuilt: true}

	if err := p.describe(ctx, result); err != nil {
		return nil, err
	}

	handle, err := p.index.Build(ctx, p.cfg.IndexName, metadata.BuildDocuments(result.Schema.TableName, result.Metadata))
	if err != nil {
		return nil, stepError(StepBuildIndex, err)
	}
	result.Handle = handle
	result.State = StateMetadataIndexed
	p.transition(StateMetadataIndexed, "index", handle.Name())

	if err := p.generate(ctx, result); err != nil {
		return nil, err
	}
	if err := p.calibrate(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

// resume は既存インデックスに対してキャリブレーションを完了させる。
// 保存済みの質問があれば再利用し、無ければ生成からやり直す
func (p *Pipeline) resume(ctx context.Context, handle *retrieval.Handle) (*BootstrapResult, error) {
	result := &BootstrapResult{Handle: handle, Resumed: true, State: StateMetadataIndexed}

	stored, err := p.questions.List(ctx, mo.None[calibration.Category](), mo.None[int]())
	if err != nil {
		return nil, stepError(StepLoadQuestions, err)
	}

	if len(stored) > 0 {
		result.Questions = len(stored)
		result.State = StateQuestionsGenerated
		p.transition(StateQuestionsGenerated, "questions", len(stored), "reused", true)
	} else {
		if err := p.describe(ctx, result); err != nil {
			return nil, err
		}
		if err := p.generate(ctx, result); err != nil {
			return nil, err
		}
	}

	if err := p.calibrate(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

// describe はスキーマを取得してメタデータを推定する
func (p *Pipeline) describe(ctx context.Context, result *BootstrapResult) error {
	schema, err := p.schema.Schema(ctx)
	if err != nil {
		return stepError(StepDiscoverSchema, err)
	}
	result.Schema = schema
	result.State = StateSchemaReady
	p.transition(StateSchemaReady, "table", schema.TableName, "columns", len(schema.Columns))

	result.State = StateBootstrap
	p.transition(StateBootstrap)

	md, err := p.inferrer.Infer(ctx, schema)
	if err != nil {
		return stepError(StepInferMetadata, err)
	}
	result.Metadata = md
	return nil
}

// generate は既存の質問とレコードを消してから質問セットを生成する
func (p *Pipeline) generate(ctx context.Context, result *BootstrapResult) error {
	if err := p.resetCalibration(ctx); err != nil {
		return stepError(StepResetCalibration, err)
	}

	questions, err := p.generateQuestions(ctx, result.Schema, result.Metadata, p.cfg.Allocation)
	if err != nil {
		return stepError(StepGenerateQuestions, err)
	}
	if len(questions) == 0 {
		return stepError(StepGenerateQuestions, ErrNoQuestionsGenerated)
	}
	result.Questions = len(questions)
	result.State = StateQuestionsGenerated
	p.transition(StateQuestionsGenerated, "questions", len(questions))
	return nil
}

func (p *Pipeline) calibrate(ctx context.Context, result *BootstrapResult) error {
	records, stats, err := p.collector(result.Handle).Collect(ctx)
	if err != nil {
		return stepError(StepCollect, err)
	}
	result.Records = records
	result.Stats = stats
	result.State = StateCalibrated
	p.transition(StateCalibrated, "records", stats.RecordsWritten)
	return nil
}

// AskRequest は Ask の入力
type AskRequest struct {
	Question string
	// ErrorRate は誤り率。未指定なら conformal.DefaultErrorRate
	ErrorRate mo.Option[float64]
	// Answer が true の場合、採用されたカラム説明から回答文も生成する
	Answer bool
}

// AskResult は Ask の結果
type AskResult struct {
	conformal.Result
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Answer  string `json:"answer,omitempty"`
	State   State  `json:"state"`
}

// Ask は質問に関連するカラムを検索し、コンフォーマルフィルタを通した結果を返す。
// 回答生成を求められても、採用されたカラムが無ければLLMは呼ばない
func (p *Pipeline) Ask(ctx context.Context, req AskRequest) (*AskResult, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	errorRate := req.ErrorRate.OrElse(conformal.DefaultErrorRate)
	if err := conformal.ValidateErrorRate(errorRate); err != nil {
		return nil, err
	}
	if req.Answer && p.answerer == nil {
		return nil, stepError(StepGenerateAnswer, ErrAnswerUnavailable)
	}

	boot, err := p.Bootstrap(ctx, false)
	if err != nil {
		return nil, err
	}

	matches, err := boot.Handle.Search(ctx, question, p.cfg.QueryTopK)
	if err != nil {
		return nil, stepError(StepRetrieve, err)
	}
	p.transition(StateRetrieved, "candidates", len(matches))

	result := conformal.Do(question, matches, boot.Records, errorRate)
	p.logFilter(result, len(boot.Records))
	p.transition(StateFiltered, "admitted", len(result.Matches))

	ask := &AskResult{Result: result, Status: StatusSuccess, State: StateDone}
	if len(result.Matches) == 0 {
		ask.Status = StatusNoRelevantMetadata
		ask.Message = noRelevantMessage
	} else if req.Answer {
		answer, err := p.answerer.Answer(ctx, question, result.Matches)
		if err != nil {
			return nil, stepError(StepGenerateAnswer, err)
		}
		ask.Answer = answer
	}
	p.transition(StateDone, "status", ask.Status)

	return ask, nil
}

// GenerateQuestions はスキーマとメタデータを推定し直し、配分に従って質問を追加生成する
func (p *Pipeline) GenerateQuestions(ctx context.Context, alloc calibration.Allocation) ([]calibration.Question, error) {
	schema, err := p.schema.Schema(ctx)
	if err != nil {
		return nil, stepError(StepDiscoverSchema, err)
	}
	md, err := p.inferrer.Infer(ctx, schema)
	if err != nil {
		return nil, stepError(StepInferMetadata, err)
	}
	questions, err := p.generateQuestions(ctx, schema, md, alloc)
	if err != nil {
		return nil, stepError(StepGenerateQuestions, err)
	}
	return questions, nil
}

// Collect は構築済みインデックスに対してキャリブレーションレコードを収集し直す
func (p *Pipeline) Collect(ctx context.Context) ([]calibration.Record, calibration.CollectionStats, error) {
	handle, found, err := p.index.Open(ctx, p.cfg.IndexName)
	if err != nil {
		return nil, calibration.CollectionStats{}, stepError(StepOpenIndex, err)
	}
	if !found {
		return nil, calibration.CollectionStats{}, stepError(StepOpenIndex, ErrIndexNotBuilt)
	}

	records, stats, err := p.collector(handle).Collect(ctx)
	if err != nil {
		return nil, stats, stepError(StepCollect, err)
	}
	return records, stats, nil
}

// Threshold は保存済みキャリブレーションレコードから距離閾値を求める
func (p *Pipeline) Threshold(ctx context.Context, errorRate float64) (float64, int, error) {
	records, err := p.records.List(ctx)
	if err != nil {
		return 0, 0, stepError(StepLoadCalibration, err)
	}
	threshold, err := conformal.Threshold(records, errorRate)
	if err != nil {
		return 0, len(records), err
	}
	return threshold, len(records), nil
}

// Schema はデータソースのスキーマを返す
func (p *Pipeline) Schema(ctx context.Context) (metadata.TableSchema, error) {
	schema, err := p.schema.Schema(ctx)
	if err != nil {
		return metadata.TableSchema{}, stepError(StepDiscoverSchema, err)
	}
	return schema, nil
}

func (p *Pipeline) generateQuestions(ctx context.Context, schema metadata.TableSchema, md metadata.TableMetadata, alloc calibration.Allocation) ([]calibration.Question, error) {
	columns := make([]calibration.ColumnInfo, 0, len(schema.Columns))
	for _, c := range schema.Columns {
		columns = append(columns, calibration.ColumnInfo{Name: c.Name, Type: c.Type})
	}

	return p.generator.GenerateQuestionSet(ctx, calibration.QuestionSetRequest{
		TableName:        schema.TableName,
		TableDescription: md.TableDescription,
		Columns:          columns,
		Allocation:       alloc,
	}, p.questions)
}

func (p *Pipeline) resetCalibration(ctx context.Context) error {
	if err := p.questions.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear questions: %w", err)
	}
	if err := p.records.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear calibration records: %w", err)
	}
	return nil
}

func (p *Pipeline) collector(searcher retrieval.Searcher) *calibration.Collector {
	return calibration.NewCollector(p.questions, p.records, searcher,
		calibration.WithCollectorLogger(p.logger),
		calibration.WithCollectTopK(p.cfg.CollectTopK),
		calibration.WithCollectConcurrency(p.cfg.CollectConcurrency),
	)
}

func (p *Pipeline) transition(state State, attrs ...any) {
	args := append([]any{"state", state.String()}, attrs...)
	p.logger.Debug("pipeline state changed", args...)
}

func (p *Pipeline) logFilter(result conformal.Result, calibrationSize int) {
	args := []any{
		"errorRate", result.ErrorRate,
		"confidenceLevel", result.ConfidenceLevel,
		"calibrationRecords", calibrationSize,
		"candidates", result.Candidates,
		"admitted", len(result.Matches),
		"columns", result.Columns(),
	}
	if result.Threshold != nil {
		args = append(args, "threshold", *result.Threshold)
	}
	p.logger.Info("conformal filter applied", args...)
}
