package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// CalibrationCollectAction は保存済みの質問からキャリブレーションレコードを収集し直す
func CalibrationCollectAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	_, stats, err := appCtx.Container.Pipeline.Collect(ctx)
	if err != nil {
		return fmt.Errorf("キャリブレーションデータの収集に失敗: %w", err)
	}

	newPrinter(cmd.Bool("no-color")).Stats(stats)
	return nil
}

// CalibrationShowAction は保存済みのキャリブレーションレコードを表示する
func CalibrationShowAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	records, err := appCtx.Container.Records.List(ctx)
	if err != nil {
		return fmt.Errorf("キャリブレーションデータの取得に失敗: %w", err)
	}
	if limit := int(cmd.Int("limit")); limit > 0 && limit < len(records) {
		records = records[:limit]
	}

	printer := newPrinter(cmd.Bool("no-color"))
	if cmd.Bool("json") {
		return printer.JSON(records)
	}
	printer.Records(records)
	return nil
}

// CalibrationThresholdAction は誤り率に対応する距離閾値を表示する
func CalibrationThresholdAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	errorRate := appCtx.Config().Calibration.ErrorRate
	if cmd.IsSet("error-rate") {
		errorRate = cmd.Float("error-rate")
	}

	threshold, size, err := appCtx.Container.Pipeline.Threshold(ctx, errorRate)
	if err != nil {
		return fmt.Errorf("閾値の計算に失敗: %w", err)
	}

	newPrinter(cmd.Bool("no-color")).Threshold(errorRate, threshold, size)
	return nil
}

// CalibrationClearAction はキャリブレーションレコードをすべて削除する
func CalibrationClearAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := appCtx.Container.Records.Clear(ctx); err != nil {
		return fmt.Errorf("キャリブレーションデータの削除に失敗: %w", err)
	}
	appCtx.Logger().Info("calibration records cleared")
	return nil
}
