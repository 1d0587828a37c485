package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/jinford/conformal-rag/internal/platform/container"
)

// BootstrapAction はインデックス構築とキャリブレーションを行うコマンドのアクション
func BootstrapAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	force := cmd.Bool("force")

	var opts []container.ContainerOption
	if plan := cmd.String("plan"); plan != "" {
		opts = append(opts, container.WithContainerPlanFile(plan))
	}

	appCtx, err := NewAppContext(ctx, envFile, opts...)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	result, err := appCtx.Container.Pipeline.Bootstrap(ctx, force)
	if err != nil {
		return fmt.Errorf("ブートストラップに失敗: %w", err)
	}

	newPrinter(cmd.Bool("no-color")).Bootstrap(result)
	return nil
}
