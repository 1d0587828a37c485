package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// SchemaShowAction は取り込み対象データのスキーマを表示する
func SchemaShowAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	schema, err := appCtx.Container.Pipeline.Schema(ctx)
	if err != nil {
		return fmt.Errorf("スキーマの取得に失敗: %w", err)
	}

	printer := newPrinter(cmd.Bool("no-color"))
	if cmd.Bool("json") {
		return printer.JSON(schema)
	}
	printer.Schema(schema)
	return nil
}
