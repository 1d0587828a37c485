package llm

import "context"

// Client はテキスト生成サービスとのやり取りを抽象化する共通インターフェース
type Client interface {
	// GenerateCompletion はプロンプトに基づいてLLMから応答を生成する
	GenerateCompletion(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
}

// ResponseFormat はレスポンスの形式
type ResponseFormat string

const (
	// ResponseFormatText はプレーンテキスト
	ResponseFormatText ResponseFormat = "text"
	// ResponseFormatJSON はJSONオブジェクト
	ResponseFormatJSON ResponseFormat = "json"
)

// CompletionRequest はLLMへのリクエストパラメータ
type CompletionRequest struct {
	// System はシステムメッセージ (省略可)
	System string

	// Prompt はLLMに送信するユーザープロンプト
	Prompt string

	// Temperature は生成の多様性を制御する (0.0-2.0)
	Temperature float64

	// MaxTokens は生成する最大トークン数 (0 は無指定)
	MaxTokens int

	// ResponseFormat はレスポンスの形式
	ResponseFormat ResponseFormat

	// Model はLLMモデル名 (省略時はデフォルトモデルを使用)
	Model string
}

// CompletionResponse はLLMからのレスポンス
type CompletionResponse struct {
	// Content は生成されたテキスト
	Content string

	// TokensUsed は使用されたトークン数
	TokensUsed int

	// PromptVersion はプロンプトのバージョン (トレーサビリティ用)
	PromptVersion string

	// Model は実際に使用されたモデル名
	Model string
}

// TokenCounter はプロンプトのトークン数を数える
type TokenCounter interface {
	CountTokens(text string) int
}

// FailureRecorder は失敗したLLM呼び出しを記録する。記録の失敗は呼び出し元の処理を止めない
type FailureRecorder interface {
	RecordFailure(section, prompt, response string, err error)
}
