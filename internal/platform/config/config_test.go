package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/conformal-rag/internal/core/calibration"
)

var configKeys = []string{
	"OPENAI_API_KEY", "OPENAI_EMBEDDING_DIMENSION", "LLM_REQUESTS_PER_MINUTE",
	"CALIBRATION_TOTAL_QUESTIONS", "CONFORMAL_ERROR_RATE", "CALIBRATION_TOP_K", "QUERY_TOP_K",
	"CALIBRATION_CONCURRENCY", "QUESTION_TIMEOUT", "METADATA_INDEX_NAME", "CALIBRATION_PLAN_FILE",
	"DATA_PATH", "STORAGE_BACKEND", "STORAGE_DIR", "SERVER_PORT", "LOG_LEVEL", "LOG_FORMAT",
}

// clearEnv はテスト中だけ設定関連の環境変数を未設定にする
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func validConfig() *Config {
	return &Config{
		OpenAI: OpenAIConfig{APIKey: "sk-test", RequestsPerMinute: 60},
		Calibration: CalibrationConfig{
			TotalQuestions: 50,
			ErrorRate:      0.1,
		},
		Data:     DataConfig{Path: "data/data.csv"},
		Storage:  StorageConfig{Backend: StorageBackendJSON, Dir: "data/calibration"},
		Database: DatabaseConfig{Host: "localhost", DBName: "conformal"},
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "", cfg.OpenAI.APIKey)
	assert.Equal(t, 1536, cfg.OpenAI.EmbeddingDimension)
	assert.Equal(t, 60, cfg.OpenAI.RequestsPerMinute)
	assert.Equal(t, calibration.DefaultTotalQuestions, cfg.Calibration.TotalQuestions)
	assert.InDelta(t, 0.1, cfg.Calibration.ErrorRate, 1e-12)
	assert.Equal(t, 20, cfg.Calibration.CollectTopK)
	assert.Equal(t, 4, cfg.Calibration.QueryTopK)
	assert.Equal(t, 60*time.Second, cfg.Calibration.QuestionTimeout)
	assert.Equal(t, "metadata_index", cfg.Calibration.IndexName)
	assert.Equal(t, "data/data.csv", cfg.Data.Path)
	assert.Equal(t, StorageBackendJSON, cfg.Storage.Backend)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.Equal(t, filepath.Join("data/calibration", "calibration_questions.json"), cfg.Storage.QuestionsPath())
	assert.Equal(t, filepath.Join("data/calibration", "calibration_data.json"), cfg.Storage.RecordsPath())
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("CONFORMAL_ERROR_RATE", "0.2")
	t.Setenv("CALIBRATION_TOTAL_QUESTIONS", "14")
	t.Setenv("QUESTION_TIMEOUT", "45s")
	t.Setenv("STORAGE_BACKEND", "Postgres")
	t.Setenv("SERVER_PORT", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sk-env", cfg.OpenAI.APIKey)
	assert.InDelta(t, 0.2, cfg.Calibration.ErrorRate, 1e-12)
	assert.Equal(t, 14, cfg.Calibration.TotalQuestions)
	assert.Equal(t, 45*time.Second, cfg.Calibration.QuestionTimeout)
	assert.Equal(t, StorageBackendPostgres, cfg.Storage.Backend)
	// 解釈できない値はデフォルトに戻る
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("OPENAI_API_KEY=sk-file\nMETADATA_INDEX_NAME=people_index\n"), 0o644))

	cfg, err := Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, "sk-file", cfg.OpenAI.APIKey)
	assert.Equal(t, "people_index", cfg.Calibration.IndexName)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing api key", mutate: func(c *Config) { c.OpenAI.APIKey = "" }, wantField: "OPENAI_API_KEY"},
		{name: "missing data path", mutate: func(c *Config) { c.Data.Path = "" }, wantField: "DATA_PATH"},
		{name: "error rate zero", mutate: func(c *Config) { c.Calibration.ErrorRate = 0 }, wantField: "CONFORMAL_ERROR_RATE"},
		{name: "error rate one", mutate: func(c *Config) { c.Calibration.ErrorRate = 1 }, wantField: "CONFORMAL_ERROR_RATE"},
		{name: "no questions", mutate: func(c *Config) { c.Calibration.TotalQuestions = 0 }, wantField: "CALIBRATION_TOTAL_QUESTIONS"},
		{name: "no rate limit", mutate: func(c *Config) { c.OpenAI.RequestsPerMinute = 0 }, wantField: "LLM_REQUESTS_PER_MINUTE"},
		{name: "json without dir", mutate: func(c *Config) { c.Storage.Dir = "" }, wantField: "STORAGE_DIR"},
		{
			name: "postgres without db name",
			mutate: func(c *Config) {
				c.Storage.Backend = StorageBackendPostgres
				c.Database.DBName = ""
			},
			wantField: "DB_NAME",
		},
		{
			name: "postgres valid",
			mutate: func(c *Config) {
				c.Storage.Backend = StorageBackendPostgres
				c.Storage.Dir = ""
			},
		},
		{name: "unknown backend", mutate: func(c *Config) { c.Storage.Backend = "s3" }, wantField: "STORAGE_BACKEND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}

			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, tt.wantField, cfgErr.Field)
		})
	}
}

func writePlan(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadPlan(t *testing.T) {
	t.Run("total only", func(t *testing.T) {
		plan, err := LoadPlan(writePlan(t, "total_questions: 14\n"))
		require.NoError(t, err)
		assert.Equal(t, calibration.Allocation{
			calibration.CategorySingleColumn:  2,
			calibration.CategoryMultiColumn:   2,
			calibration.CategoryTablePurpose:  1,
			calibration.CategoryBusinessLogic: 9,
		}, plan.Allocation())
	})

	t.Run("explicit allocation", func(t *testing.T) {
		plan, err := LoadPlan(writePlan(t, "total_questions: 100\nquestions_per_category:\n  single_column: 3\n  business_logic: 5\n"))
		require.NoError(t, err)
		alloc := plan.Allocation()
		assert.Equal(t, 3, alloc[calibration.CategorySingleColumn])
		assert.Equal(t, 0, alloc[calibration.CategoryMultiColumn])
		assert.Equal(t, 5, alloc[calibration.CategoryBusinessLogic])
		assert.Equal(t, 8, alloc.Total())
	})

	t.Run("unknown category", func(t *testing.T) {
		_, err := LoadPlan(writePlan(t, "questions_per_category:\n  trivia: 3\n"))
		assert.ErrorIs(t, err, calibration.ErrInvalidCategory)
	})

	t.Run("negative count", func(t *testing.T) {
		_, err := LoadPlan(writePlan(t, "questions_per_category:\n  single_column: -1\n"))
		assert.Error(t, err)
	})

	t.Run("empty plan", func(t *testing.T) {
		_, err := LoadPlan(writePlan(t, "{}\n"))
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		_, err := LoadPlan(writePlan(t, "total_questions: [\n"))
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadPlan(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestConfig_ResolveAllocation(t *testing.T) {
	cfg := validConfig()
	cfg.Calibration.TotalQuestions = 10

	alloc, err := cfg.ResolveAllocation("")
	require.NoError(t, err)
	assert.Equal(t, 10, alloc.Total())

	cfg.Calibration.PlanFile = writePlan(t, "total_questions: 20\n")
	alloc, err = cfg.ResolveAllocation("")
	require.NoError(t, err)
	assert.Equal(t, 20, alloc.Total())

	// 引数の計画ファイルが設定より優先される
	alloc, err = cfg.ResolveAllocation(writePlan(t, "total_questions: 7\n"))
	require.NoError(t, err)
	assert.Equal(t, 7, alloc.Total())
}
