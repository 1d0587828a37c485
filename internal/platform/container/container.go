package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jinford/conformal-rag/internal/core/answer"
	"github.com/jinford/conformal-rag/internal/core/calibration"
	corellm "github.com/jinford/conformal-rag/internal/core/llm"
	"github.com/jinford/conformal-rag/internal/core/metadata"
	"github.com/jinford/conformal-rag/internal/core/pipeline"
	"github.com/jinford/conformal-rag/internal/core/retrieval"
	"github.com/jinford/conformal-rag/internal/infra/jsonstore"
	infrallm "github.com/jinford/conformal-rag/internal/infra/llm"
	"github.com/jinford/conformal-rag/internal/infra/openai"
	"github.com/jinford/conformal-rag/internal/infra/postgres"
	"github.com/jinford/conformal-rag/internal/infra/tabular"
	"github.com/jinford/conformal-rag/internal/platform/config"
	"github.com/jinford/conformal-rag/internal/platform/database"
)

// ServiceContainer はパイプラインと、その周辺で直接使うストアを保持する
type ServiceContainer struct {
	Pipeline  *pipeline.Pipeline
	Questions calibration.QuestionStore
	Records   calibration.RecordStore
	Limiter   *infrallm.RateLimiter

	config     *config.Config
	logger     *slog.Logger
	database   *database.Database
	failureLog *infrallm.FailureLog
}

type containerOptions struct {
	logger       *slog.Logger
	llmClient    corellm.Client
	embedder     retrieval.Embedder
	schemaSource metadata.SchemaSource
	tokenCounter corellm.TokenCounter
	planFile     string
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerLLMClient は LLM クライアントを差し替える。レート制限は差し替え後のクライアントにも適用される
func WithContainerLLMClient(client corellm.Client) ContainerOption {
	return func(opts *containerOptions) {
		opts.llmClient = client
	}
}

// WithContainerEmbedder はカスタム Embedder を注入する
func WithContainerEmbedder(embedder retrieval.Embedder) ContainerOption {
	return func(opts *containerOptions) {
		opts.embedder = embedder
	}
}

// WithContainerSchemaSource はスキーマの取得元を差し替える
func WithContainerSchemaSource(source metadata.SchemaSource) ContainerOption {
	return func(opts *containerOptions) {
		opts.schemaSource = source
	}
}

// WithContainerTokenCounter は TokenCounter を差し替える
func WithContainerTokenCounter(counter corellm.TokenCounter) ContainerOption {
	return func(opts *containerOptions) {
		opts.tokenCounter = counter
	}
}

// WithContainerPlanFile は質問生成計画ファイルを指定する (CALIBRATION_PLAN_FILE より優先)
func WithContainerPlanFile(path string) ContainerOption {
	return func(opts *containerOptions) {
		opts.planFile = path
	}
}

// NewContainer は設定からコンテナを生成する。Postgres バックエンドの場合はデータベースに接続する
func NewContainer(ctx context.Context, cfg *config.Config, opts ...ContainerOption) (*ServiceContainer, error) {
	if cfg.Storage.Backend != config.StorageBackendPostgres {
		return NewContainerWithDB(cfg, nil, opts...)
	}

	db, err := database.New(ctx, database.ConnectionParams{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	c, err := NewContainerWithDB(cfg, db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// NewContainerWithDB は既存の Database を受け取りコンテナを生成する。
// db が nil の場合はJSONファイルバックエンドを使う
func NewContainerWithDB(cfg *config.Config, db *database.Database, opts ...ContainerOption) (*ServiceContainer, error) {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	logger := options.logger

	alloc, err := cfg.ResolveAllocation(options.planFile)
	if err != nil {
		return nil, err
	}

	// LLMクライアント (OpenAI) + レート制限
	llmClient := options.llmClient
	if llmClient == nil {
		openaiClient, err := openai.NewClient(
			cfg.OpenAI.APIKey,
			openai.WithModel(cfg.OpenAI.LLMModel),
			openai.WithBaseURL(cfg.OpenAI.BaseURL),
			openai.WithClientLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenAI client: %w", err)
		}
		llmClient = openaiClient
	}
	limiter := infrallm.NewRateLimiter(cfg.OpenAI.RequestsPerMinute)
	throttled := infrallm.NewThrottledClient(llmClient, limiter)

	// Embedder (OpenAI)
	embedder := options.embedder
	if embedder == nil {
		embedder = openai.NewEmbedder(
			cfg.OpenAI.APIKey,
			openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
			openai.WithEmbeddingDimension(cfg.OpenAI.EmbeddingDimension),
			openai.WithEmbeddingBaseURL(cfg.OpenAI.BaseURL),
		)
	}

	// TokenCounter (tiktoken、取得できなければ概算)
	tokenCounter := options.tokenCounter
	if tokenCounter == nil {
		tc, err := infrallm.NewTokenCounter()
		if err != nil {
			logger.Warn("tiktoken unavailable, falling back to estimated token counts", "error", err)
			tokenCounter = infrallm.EstimateCounter{}
		} else {
			tokenCounter = tc
		}
	}

	failureLog, err := infrallm.NewFailureLog(cfg.Calibration.FailureLogDir, infrallm.WithFailureLogLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open LLM failure log: %w", err)
	}

	// SchemaSource (CSV / XLSX / SQLite)
	schemaSource := options.schemaSource
	if schemaSource == nil {
		schemaSource = tabular.NewLoader(
			cfg.Data.Path,
			tabular.WithTableName(cfg.Data.TableName),
			tabular.WithSheet(cfg.Data.Sheet),
			tabular.WithMaxSamples(cfg.Data.MaxSampleValues),
			tabular.WithLoaderLogger(logger),
		)
	}

	// ストア
	var (
		indexStore retrieval.IndexStore
		questions  calibration.QuestionStore
		records    calibration.RecordStore
	)
	if db != nil {
		indexStore = postgres.NewIndexRepository(db.Pool, postgres.WithIndexLogger(logger))
		questions = postgres.NewQuestionStore(db.Pool, postgres.WithSnapshotLogger(logger))
		records = postgres.NewRecordStore(db.Pool, postgres.WithSnapshotLogger(logger))
	} else {
		indexStore = jsonstore.NewIndexStore(cfg.Storage.Dir, jsonstore.WithLogger(logger))
		questions = jsonstore.NewQuestionStore(cfg.Storage.QuestionsPath(), jsonstore.WithLogger(logger))
		records = jsonstore.NewRecordStore(cfg.Storage.RecordsPath(), jsonstore.WithLogger(logger))
	}

	inferrer := metadata.NewInferrer(
		throttled,
		metadata.WithInferrerLogger(logger),
		metadata.WithInferrerFailureRecorder(failureLog),
		metadata.WithMaxSampleValues(cfg.Data.MaxSampleValues),
	)

	generator := calibration.NewGenerator(
		throttled,
		calibration.WithGeneratorLogger(logger),
		calibration.WithTokenCounter(tokenCounter),
		calibration.WithFailureRecorder(failureLog),
		calibration.WithGenerationTimeout(cfg.Calibration.QuestionTimeout),
	)

	answerer := answer.NewService(
		throttled,
		answer.WithAnswerLogger(logger),
		answer.WithAnswerFailureRecorder(failureLog),
	)

	index := retrieval.NewService(indexStore, embedder, retrieval.WithRetrievalLogger(logger))

	p := pipeline.New(
		schemaSource,
		inferrer,
		index,
		generator,
		questions,
		records,
		pipeline.WithLogger(logger),
		pipeline.WithAnswerer(answerer),
		pipeline.WithConfig(pipeline.Config{
			IndexName:          cfg.Calibration.IndexName,
			Allocation:         alloc,
			QueryTopK:          cfg.Calibration.QueryTopK,
			CollectTopK:        cfg.Calibration.CollectTopK,
			CollectConcurrency: cfg.Calibration.Concurrency,
		}),
	)

	return &ServiceContainer{
		Pipeline:   p,
		Questions:  questions,
		Records:    records,
		Limiter:    limiter,
		config:     cfg,
		logger:     logger,
		database:   db,
		failureLog: failureLog,
	}, nil
}

// EnsureInitialized は質問・レコードの保存先を初期化する
func (c *ServiceContainer) EnsureInitialized(ctx context.Context) error {
	if err := c.Questions.EnsureInitialized(ctx); err != nil {
		return err
	}
	return c.Records.EnsureInitialized(ctx)
}

// Close は内部リソースを解放する。
func (c *ServiceContainer) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.failureLog != nil {
		errs = append(errs, c.failureLog.Close())
	}
	if c.database != nil {
		c.database.Close()
	}
	return errors.Join(errs...)
}

// Config は設定を返す。
func (c *ServiceContainer) Config() *config.Config {
	return c.config
}

// Logger はロガーを返す。
func (c *ServiceContainer) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// Database はデータベースを返す。JSONバックエンドでは nil
func (c *ServiceContainer) Database() *database.Database {
	if c == nil {
		return nil
	}
	return c.database
}
