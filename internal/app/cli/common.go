package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jinford/conformal-rag/internal/platform/config"
	"github.com/jinford/conformal-rag/internal/platform/container"
	"github.com/jinford/conformal-rag/internal/platform/logger"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Container *container.ServiceContainer
}

// NewAppContext は設定ファイルを読み込み、コンテナを作成する。
// ログは標準エラーに出し、標準出力はコマンドの結果に使う
func NewAppContext(ctx context.Context, envFile string, opts ...container.ContainerOption) (*AppContext, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定が不正です: %w", err)
	}

	logCfg, err := logger.ParseConfig(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("ログ設定が不正です: %w", err)
	}
	logCfg.Output = os.Stderr
	appLogger := logger.New(logCfg)

	opts = append([]container.ContainerOption{container.WithContainerLogger(appLogger)}, opts...)
	cont, err := container.NewContainer(ctx, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("コンテナの初期化に失敗: %w", err)
	}

	if err := cont.EnsureInitialized(ctx); err != nil {
		_ = cont.Close()
		return nil, fmt.Errorf("保存先の初期化に失敗: %w", err)
	}

	return &AppContext{
		Container: cont,
	}, nil
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac.Container != nil {
		if err := ac.Container.Close(); err != nil {
			ac.Logger().Warn("failed to close container", "error", err)
		}
	}
}

// Logger はAppContextのロガーを返す
func (ac *AppContext) Logger() *slog.Logger {
	if ac.Container != nil {
		return ac.Container.Logger()
	}
	return slog.Default()
}

// Config は読み込んだ設定を返す
func (ac *AppContext) Config() *config.Config {
	return ac.Container.Config()
}

func newPrinter(noColor bool) *Printer {
	return NewPrinter(os.Stdout, noColor)
}
