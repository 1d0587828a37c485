package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/jinford/conformal-rag/internal/interface/api"
)

// ServerStartAction はHTTPサーバを起動する
func ServerStartAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	cfg := appCtx.Config()
	port := cfg.Server.Port
	if cmd.IsSet("port") {
		port = int(cmd.Int("port"))
	}

	server := api.NewServer(
		appCtx.Container.Pipeline,
		api.WithServerLogger(appCtx.Logger()),
		api.WithAPIToken(cfg.Server.APIToken),
	)

	if err := server.Run(ctx, fmt.Sprintf(":%d", port)); err != nil {
		return fmt.Errorf("HTTPサーバの実行に失敗: %w", err)
	}
	return nil
}
