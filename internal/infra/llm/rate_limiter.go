package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	corellm "github.com/jinford/conformal-rag/internal/core/llm"
)

// DefaultPollInterval はトークン待ちの再確認間隔
const DefaultPollInterval = 200 * time.Millisecond

// RateLimiter は1分あたりのリクエスト数を制限するトークンバケット。
// トークンは経過時間に比例して連続的に補充され、上限は maxRequestsPerMinute
type RateLimiter struct {
	mu sync.Mutex

	maxRequestsPerMinute int
	tokens               float64
	lastRefill           time.Time
	waiting              int

	// semaphore は同時実行数を制御する
	semaphore chan struct{}

	pollInterval time.Duration
	now          func() time.Time
}

// RateLimiterOption は RateLimiter のオプション
type RateLimiterOption func(*RateLimiter)

// WithPollInterval はトークン待ちの再確認間隔を設定する
func WithPollInterval(d time.Duration) RateLimiterOption {
	return func(rl *RateLimiter) {
		if d > 0 {
			rl.pollInterval = d
		}
	}
}

// WithMaxConcurrency は同時実行数の上限を設定する
func WithMaxConcurrency(n int) RateLimiterOption {
	return func(rl *RateLimiter) {
		if n > 0 {
			rl.semaphore = make(chan struct{}, n)
		}
	}
}

// WithRateLimiterClock は現在時刻の取得関数を差し替える
func WithRateLimiterClock(now func() time.Time) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.now = now
	}
}

// NewRateLimiter は新しいRateLimiterを作成する
func NewRateLimiter(maxRequestsPerMinute int, opts ...RateLimiterOption) *RateLimiter {
	if maxRequestsPerMinute <= 0 {
		maxRequestsPerMinute = 1
	}
	rl := &RateLimiter{
		maxRequestsPerMinute: maxRequestsPerMinute,
		tokens:               float64(maxRequestsPerMinute),
		pollInterval:         DefaultPollInterval,
		now:                  time.Now,
		semaphore:            make(chan struct{}, maxRequestsPerMinute),
	}
	for _, opt := range opts {
		opt(rl)
	}
	rl.lastRefill = rl.now()
	return rl
}

// Wait はレート制限に従って待機し、実行権限を取得する。
// 成功した場合は必ず Release を呼ぶこと
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case rl.semaphore <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	rl.mu.Lock()
	rl.waiting++
	for {
		rl.refillTokens()
		if rl.tokens >= 1 {
			rl.tokens--
			rl.waiting--
			rl.mu.Unlock()
			return nil
		}
		rl.mu.Unlock()

		select {
		case <-time.After(rl.pollInterval):
		case <-ctx.Done():
			rl.mu.Lock()
			rl.waiting--
			rl.mu.Unlock()
			<-rl.semaphore
			return ctx.Err()
		}

		rl.mu.Lock()
	}
}

// Release は実行権限を解放する
func (rl *RateLimiter) Release() {
	<-rl.semaphore
}

// refillTokens は経過時間に応じてトークンを補充する。呼び出し側でロックを取得していること
func (rl *RateLimiter) refillTokens() {
	now := rl.now()
	elapsed := now.Sub(rl.lastRefill)
	if elapsed <= 0 {
		return
	}

	refill := elapsed.Seconds() * float64(rl.maxRequestsPerMinute) / 60
	rl.tokens = min(rl.tokens+refill, float64(rl.maxRequestsPerMinute))
	rl.lastRefill = now
}

// Status は現在の状態を返す
func (rl *RateLimiter) Status() RateLimiterStatus {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillTokens()

	return RateLimiterStatus{
		MaxRequestsPerMinute: rl.maxRequestsPerMinute,
		AvailableTokens:      int(rl.tokens),
		WaitingRequests:      rl.waiting,
		ActiveRequests:       len(rl.semaphore),
	}
}

// RateLimiterStatus はレート制限の状態
type RateLimiterStatus struct {
	MaxRequestsPerMinute int
	AvailableTokens      int
	WaitingRequests      int
	ActiveRequests       int
}

// String はステータスを文字列表現で返す
func (s RateLimiterStatus) String() string {
	return fmt.Sprintf(
		"RateLimiter: max=%d/min, available=%d, waiting=%d, active=%d",
		s.MaxRequestsPerMinute,
		s.AvailableTokens,
		s.WaitingRequests,
		s.ActiveRequests,
	)
}

// ThrottledClient はレート制限付きのLLMクライアント
type ThrottledClient struct {
	client      corellm.Client
	rateLimiter *RateLimiter
}

// NewThrottledClient はレート制限付きのLLMクライアントを作成する
func NewThrottledClient(client corellm.Client, limiter *RateLimiter) *ThrottledClient {
	return &ThrottledClient{
		client:      client,
		rateLimiter: limiter,
	}
}

// GenerateCompletion はレート制限に従ってLLM APIを呼び出す
func (tc *ThrottledClient) GenerateCompletion(ctx context.Context, req corellm.CompletionRequest) (corellm.CompletionResponse, error) {
	if err := tc.rateLimiter.Wait(ctx); err != nil {
		return corellm.CompletionResponse{}, fmt.Errorf("rate limiter wait failed: %w", err)
	}
	defer tc.rateLimiter.Release()

	return tc.client.GenerateCompletion(ctx, req)
}

// Status はレート制限の状態を返す
func (tc *ThrottledClient) Status() RateLimiterStatus {
	return tc.rateLimiter.Status()
}

var _ corellm.Client = (*ThrottledClient)(nil)
