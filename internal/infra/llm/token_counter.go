package llm

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	corellm "github.com/jinford/conformal-rag/internal/core/llm"
)

// DefaultEncoding はトークン数計算に使うエンコーディング
const DefaultEncoding = "cl100k_base"

// TokenCounter は tiktoken でトークン数を数える
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTokenCounter は cl100k_base エンコーディングの TokenCounter を作成する。
// 初回はエンコーディング定義の取得が必要になる
func NewTokenCounter() (*TokenCounter, error) {
	encoding, err := tiktoken.GetEncoding(DefaultEncoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding: %w", err)
	}

	return &TokenCounter{encoding: encoding}, nil
}

// CountTokens はテキストのトークン数をカウントする
func (tc *TokenCounter) CountTokens(text string) int {
	if tc.encoding == nil {
		return EstimateTokens(text)
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

// EstimateCounter は文字数からトークン数を概算する。tiktoken が使えない環境向け
type EstimateCounter struct{}

// CountTokens は概算トークン数を返す
func (EstimateCounter) CountTokens(text string) int {
	return EstimateTokens(text)
}

// EstimateTokens はテキストの推定トークン数を返す。英文でおよそ4文字を1トークンとみなす
func EstimateTokens(text string) int {
	n := len([]rune(text))
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

var (
	_ corellm.TokenCounter = (*TokenCounter)(nil)
	_ corellm.TokenCounter = EstimateCounter{}
)
