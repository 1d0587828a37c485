package cli

import (
	"context"
	"fmt"

	"github.com/samber/mo"
	"github.com/urfave/cli/v3"

	"github.com/jinford/conformal-rag/internal/core/pipeline"
)

// AskAction は質問に関連するカラムを検索するコマンドのアクション
func AskAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	asJSON := cmd.Bool("json")

	question := cmd.Args().First()
	if question == "" {
		return fmt.Errorf("質問文を指定してください")
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	// 省略時は設定値 (CONFORMAL_ERROR_RATE) を使う
	errorRate := appCtx.Config().Calibration.ErrorRate
	if cmd.IsSet("error-rate") {
		errorRate = cmd.Float("error-rate")
	}

	appCtx.Logger().Info("ask started", "question", question, "errorRate", errorRate)

	result, err := appCtx.Container.Pipeline.Ask(ctx, pipeline.AskRequest{
		Question:  question,
		ErrorRate: mo.Some(errorRate),
		Answer:    cmd.Bool("answer"),
	})
	if err != nil {
		return fmt.Errorf("質問の処理に失敗: %w", err)
	}

	printer := newPrinter(cmd.Bool("no-color"))
	if asJSON {
		return printer.JSON(result)
	}
	printer.AskResult(result)
	return nil
}
