package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	appcli "github.com/jinford/conformal-rag/internal/app/cli"
)

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}
}

func noColorFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "no-color",
		Usage: "出力を色付けしない",
	}
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "json",
		Usage: "結果をJSONで出力",
	}
}

func errorRateFlag() cli.Flag {
	return &cli.FloatFlag{
		Name:  "error-rate",
		Usage: "許容する誤り率 (0 < rate < 1、省略時は CONFORMAL_ERROR_RATE)",
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "conformal-rag",
		Usage: "コンフォーマル予測で誤り率を保証するカラムメタデータ検索",
		Commands: []*cli.Command{
			{
				Name:      "ask",
				Usage:     "質問に関連するカラムを検索",
				ArgsUsage: "<question>",
				Flags: []cli.Flag{
					envFlag(),
					errorRateFlag(),
					&cli.BoolFlag{
						Name:  "answer",
						Usage: "採用されたカラム説明を根拠にLLMで回答文も生成する",
					},
					jsonFlag(),
					noColorFlag(),
				},
				Action: appcli.AskAction,
			},
			{
				Name:  "bootstrap",
				Usage: "メタデータ推定・インデックス構築・キャリブレーションを実行",
				Flags: []cli.Flag{
					envFlag(),
					&cli.BoolFlag{
						Name:  "force",
						Usage: "既存のインデックスとキャリブレーションデータがあっても作り直す",
					},
					&cli.StringFlag{
						Name:  "plan",
						Usage: "カテゴリ別の質問数を定義したYAMLファイル",
					},
					noColorFlag(),
				},
				Action: appcli.BootstrapAction,
			},
			{
				Name:  "questions",
				Usage: "キャリブレーション質問の管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "list",
						Usage: "保存済みの質問を表示",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:  "category",
								Usage: "カテゴリで絞り込み (single_column, multi_column, table_purpose, business_logic)",
							},
							&cli.IntFlag{
								Name:  "limit",
								Usage: "表示件数の上限",
							},
							jsonFlag(),
							noColorFlag(),
						},
						Action: appcli.QuestionsListAction,
					},
					{
						Name:  "generate",
						Usage: "質問を生成して追記",
						Flags: []cli.Flag{
							envFlag(),
							&cli.IntFlag{
								Name:  "total",
								Usage: "生成する質問数（省略時は計画ファイルまたは CALIBRATION_TOTAL_QUESTIONS）",
							},
							&cli.StringFlag{
								Name:  "plan",
								Usage: "カテゴリ別の質問数を定義したYAMLファイル",
							},
							noColorFlag(),
						},
						Action: appcli.QuestionsGenerateAction,
					},
					{
						Name:   "clear",
						Usage:  "保存済みの質問をすべて削除",
						Flags:  []cli.Flag{envFlag()},
						Action: appcli.QuestionsClearAction,
					},
				},
			},
			{
				Name:  "calibration",
				Usage: "キャリブレーションデータの管理コマンド",
				Commands: []*cli.Command{
					{
						Name:   "collect",
						Usage:  "保存済みの質問からキャリブレーションデータを収集し直す",
						Flags:  []cli.Flag{envFlag(), noColorFlag()},
						Action: appcli.CalibrationCollectAction,
					},
					{
						Name:  "show",
						Usage: "キャリブレーションデータを表示",
						Flags: []cli.Flag{
							envFlag(),
							&cli.IntFlag{
								Name:  "limit",
								Usage: "表示件数の上限",
							},
							jsonFlag(),
							noColorFlag(),
						},
						Action: appcli.CalibrationShowAction,
					},
					{
						Name:  "threshold",
						Usage: "誤り率に対応する距離閾値を表示",
						Flags: []cli.Flag{
							envFlag(),
							errorRateFlag(),
							noColorFlag(),
						},
						Action: appcli.CalibrationThresholdAction,
					},
					{
						Name:   "clear",
						Usage:  "キャリブレーションデータをすべて削除",
						Flags:  []cli.Flag{envFlag()},
						Action: appcli.CalibrationClearAction,
					},
				},
			},
			{
				Name:  "schema",
				Usage: "データスキーマ関連コマンド",
				Commands: []*cli.Command{
					{
						Name:  "show",
						Usage: "取り込み対象データのスキーマを表示",
						Flags: []cli.Flag{
							envFlag(),
							jsonFlag(),
							noColorFlag(),
						},
						Action: appcli.SchemaShowAction,
					},
				},
			},
			{
				Name:  "server",
				Usage: "サーバ関連コマンド",
				Commands: []*cli.Command{
					{
						Name:  "start",
						Usage: "HTTPサーバを起動",
						Flags: []cli.Flag{
							envFlag(),
							&cli.IntFlag{
								Name:  "port",
								Usage: "HTTPポート（省略時は環境変数またはデフォルトの8080）",
								Value: 8080,
							},
						},
						Action: appcli.ServerStartAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
