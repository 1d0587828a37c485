package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/jinford/conformal-rag/internal/core/calibration"
	"github.com/jinford/conformal-rag/internal/core/conformal"
	"github.com/jinford/conformal-rag/internal/core/retrieval"
)

// ストレージバックエンド
const (
	StorageBackendJSON     = "json"
	StorageBackendPostgres = "postgres"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// Database設定 (STORAGE_BACKEND=postgres の場合に使用)
	Database DatabaseConfig

	// OpenAI設定（Embeddings + 質問生成 + メタデータ推定）
	OpenAI OpenAIConfig

	// キャリブレーション設定
	Calibration CalibrationConfig

	// 取り込み対象データ
	Data DataConfig

	// キャリブレーションデータとインデックスの保存先
	Storage StorageConfig

	// HTTPサーバー設定
	Server ServerConfig

	// ログ設定
	Log LogConfig
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// OpenAIConfig はOpenAI API設定
type OpenAIConfig struct {
	APIKey             string
	BaseURL            string
	EmbeddingModel     string
	EmbeddingDimension int
	LLMModel           string
	RequestsPerMinute  int
}

// CalibrationConfig はキャリブレーションとクエリの設定
type CalibrationConfig struct {
	TotalQuestions  int
	ErrorRate       float64
	CollectTopK     int
	QueryTopK       int
	Concurrency     int
	QuestionTimeout time.Duration
	IndexName       string
	PlanFile        string
	FailureLogDir   string
}

// DataConfig は取り込み対象データの設定
type DataConfig struct {
	Path            string
	TableName       string
	Sheet           string
	MaxSampleValues int
}

// StorageConfig は保存先の設定
type StorageConfig struct {
	Backend string
	Dir     string
}

// ServerConfig はHTTPサーバー設定
type ServerConfig struct {
	Port     int
	APIToken string
}

// LogConfig はログ設定
type LogConfig struct {
	Level  string
	Format string
}

// QuestionsPath はJSONバックエンドの質問ファイルのパスを返す
func (s StorageConfig) QuestionsPath() string {
	return filepath.Join(s.Dir, "calibration_questions.json")
}

// RecordsPath はJSONバックエンドのレコードファイルのパスを返す
func (s StorageConfig) RecordsPath() string {
	return filepath.Join(s.Dir, "calibration_data.json")
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "conformal"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "conformal"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			BaseURL:            getEnv("OPENAI_BASE_URL", ""),
			EmbeddingModel:     getEnv("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimension: getEnvAsInt("OPENAI_EMBEDDING_DIMENSION", 1536),
			LLMModel:           getEnv("OPENAI_LLM_MODEL", "gpt-4o-mini"),
			RequestsPerMinute:  getEnvAsInt("LLM_REQUESTS_PER_MINUTE", 60),
		},
		Calibration: CalibrationConfig{
			TotalQuestions:  getEnvAsInt("CALIBRATION_TOTAL_QUESTIONS", calibration.DefaultTotalQuestions),
			ErrorRate:       getEnvAsFloat("CONFORMAL_ERROR_RATE", conformal.DefaultErrorRate),
			CollectTopK:     getEnvAsInt("CALIBRATION_TOP_K", calibration.DefaultCollectTopK),
			QueryTopK:       getEnvAsInt("QUERY_TOP_K", retrieval.DefaultQueryLimit),
			Concurrency:     getEnvAsInt("CALIBRATION_CONCURRENCY", 4),
			QuestionTimeout: getEnvAsDuration("QUESTION_TIMEOUT", calibration.DefaultGenerationTimeout),
			IndexName:       getEnv("METADATA_INDEX_NAME", "metadata_index"),
			PlanFile:        getEnv("CALIBRATION_PLAN_FILE", ""),
			FailureLogDir:   getEnv("LLM_FAILURE_LOG_DIR", ""),
		},
		Data: DataConfig{
			Path:            getEnv("DATA_PATH", "data/data.csv"),
			TableName:       getEnv("DATA_TABLE_NAME", "data_table"),
			Sheet:           getEnv("DATA_SHEET", ""),
			MaxSampleValues: getEnvAsInt("DATA_MAX_SAMPLE_VALUES", 3),
		},
		Storage: StorageConfig{
			Backend: strings.ToLower(getEnv("STORAGE_BACKEND", StorageBackendJSON)),
			Dir:     getEnv("STORAGE_DIR", "data/calibration"),
		},
		Server: ServerConfig{
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			APIToken: getEnv("CONFORMAL_API_TOKEN", ""),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

// ConfigurationError は起動時に致命的な設定不備を表す
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// Validate は設定を検証し、不備があれば最初の ConfigurationError を返す
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return &ConfigurationError{Field: "OPENAI_API_KEY", Reason: "must be set"}
	}
	if c.Data.Path == "" {
		return &ConfigurationError{Field: "DATA_PATH", Reason: "must be set"}
	}
	if err := conformal.ValidateErrorRate(c.Calibration.ErrorRate); err != nil {
		return &ConfigurationError{Field: "CONFORMAL_ERROR_RATE", Reason: err.Error()}
	}
	if c.Calibration.TotalQuestions <= 0 {
		return &ConfigurationError{Field: "CALIBRATION_TOTAL_QUESTIONS", Reason: "must be positive"}
	}
	if c.OpenAI.RequestsPerMinute <= 0 {
		return &ConfigurationError{Field: "LLM_REQUESTS_PER_MINUTE", Reason: "must be positive"}
	}

	switch c.Storage.Backend {
	case StorageBackendJSON:
		if c.Storage.Dir == "" {
			return &ConfigurationError{Field: "STORAGE_DIR", Reason: "must be set for the json backend"}
		}
	case StorageBackendPostgres:
		if c.Database.Host == "" {
			return &ConfigurationError{Field: "DB_HOST", Reason: "must be set for the postgres backend"}
		}
		if c.Database.DBName == "" {
			return &ConfigurationError{Field: "DB_NAME", Reason: "must be set for the postgres backend"}
		}
	default:
		return &ConfigurationError{Field: "STORAGE_BACKEND", Reason: fmt.Sprintf("unknown backend %q", c.Storage.Backend)}
	}

	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は環境変数を time.Duration として取得します (例: "45s")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
