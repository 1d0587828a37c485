// Package api はコンフォーマルフィルタ付きカラム検索を HTTP (gin) で公開する
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/jinford/conformal-rag/internal/core/pipeline"
)

const (
	// APIKeyHeader は認証トークンを渡すヘッダー
	APIKeyHeader = "X-API-KEY"

	shutdownTimeout = 10 * time.Second
)

// Service は HTTP 層が利用するパイプライン操作
type Service interface {
	Ask(ctx context.Context, req pipeline.AskRequest) (*pipeline.AskResult, error)
	Threshold(ctx context.Context, errorRate float64) (float64, int, error)
}

var _ Service = (*pipeline.Pipeline)(nil)

// Server は gin ルーターと http.Server を束ねる
type Server struct {
	service  Service
	apiToken string
	logger   *slog.Logger
	router   *gin.Engine
}

// ServerOption は Server のオプション
type ServerOption func(*Server)

// WithServerLogger はロガーを設定する
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithAPIToken は X-API-KEY による認証を有効にする。空文字なら認証しない
func WithAPIToken(token string) ServerOption {
	return func(s *Server) {
		s.apiToken = token
	}
}

// NewServer はルーティングを登録した Server を作成する
func NewServer(service Service, opts ...ServerOption) *Server {
	s := &Server{
		service: service,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.router = s.routes()
	return s
}

// Handler はルーターを http.Handler として返す
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())
	r.Use(cors.Default())

	r.GET("/health", s.health)

	v1 := r.Group("/api/v1")
	v1.Use(s.authMiddleware())
	{
		v1.POST("/ask", s.ask)
		v1.GET("/calibration/threshold", s.threshold)
	}

	return r
}

// Run は addr で待ち受け、ctx がキャンセルされたらグレースフルに停止する
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down http server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return <-errCh
}

// authMiddleware は APIトークンが設定されている場合のみ X-API-KEY を検証する
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.apiToken == "" {
			c.Next()
			return
		}
		if c.GetHeader(APIKeyHeader) != s.apiToken {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
