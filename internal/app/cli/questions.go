package cli

import (
	"context"
	"fmt"

	"github.com/samber/mo"
	"github.com/urfave/cli/v3"

	"github.com/jinford/conformal-rag/internal/core/calibration"
	"github.com/jinford/conformal-rag/internal/platform/config"
)

// QuestionsListAction は保存済みのキャリブレーション質問を表示する
func QuestionsListAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	category := mo.None[calibration.Category]()
	if raw := cmd.String("category"); raw != "" {
		c, err := calibration.ParseCategory(raw)
		if err != nil {
			return err
		}
		category = mo.Some(c)
	}

	limit := mo.None[int]()
	if cmd.IsSet("limit") {
		limit = mo.Some(int(cmd.Int("limit")))
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	questions, err := appCtx.Container.Questions.List(ctx, category, limit)
	if err != nil {
		return fmt.Errorf("質問一覧の取得に失敗: %w", err)
	}

	printer := newPrinter(cmd.Bool("no-color"))
	if cmd.Bool("json") {
		return printer.JSON(questions)
	}
	printer.Questions(questions)
	return nil
}

// QuestionsGenerateAction はスキーマとメタデータから質問を生成して保存する
func QuestionsGenerateAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	total := int(cmd.Int("total"))
	planFile := cmd.String("plan")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	alloc, err := resolveAllocation(appCtx.Config(), total, planFile)
	if err != nil {
		return err
	}

	appCtx.Logger().Info("question generation started", "total", alloc.Total())

	questions, err := appCtx.Container.Pipeline.GenerateQuestions(ctx, alloc)
	if err != nil {
		return fmt.Errorf("質問生成に失敗: %w", err)
	}

	newPrinter(cmd.Bool("no-color")).Questions(questions)
	return nil
}

// QuestionsClearAction は保存済みの質問をすべて削除する
func QuestionsClearAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := appCtx.Container.Questions.Clear(ctx); err != nil {
		return fmt.Errorf("質問の削除に失敗: %w", err)
	}
	appCtx.Logger().Info("calibration questions cleared")
	return nil
}

// resolveAllocation は --total、--plan、設定の順に質問配分を決める
func resolveAllocation(cfg *config.Config, total int, planFile string) (calibration.Allocation, error) {
	if total > 0 {
		return calibration.Allocate(total), nil
	}
	if total < 0 {
		return calibration.Allocation{}, fmt.Errorf("--total は0以上を指定してください: %d", total)
	}
	return cfg.ResolveAllocation(planFile)
}
