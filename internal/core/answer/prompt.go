package answer

import (
	"strings"

	"github.com/jinford/conformal-rag/internal/core/conformal"
)

const (
	// AnswerPromptVersion は回答生成プロンプトのバージョン
	AnswerPromptVersion = "1.0"

	// AnswerTemperature は回答生成の温度設定
	AnswerTemperature = 0.0

	// AnswerMaxTokens は生成する最大トークン数
	AnswerMaxTokens = 1000
)

const answerSystemPrompt = "You answer questions about a dataset using only the column descriptions you are given."

// BuildAnswerPrompt は採用されたカラム説明だけをコンテキストにした推論プロンプトを構築する。
// カラム以外のマッチは含めない
func BuildAnswerPrompt(question string, matches []conformal.ScoredMatch) string {
	var sb strings.Builder

	sb.WriteString("You are a careful, reasoning-first assistant.\n")
	sb.WriteString("Before answering, think step-by-step.\n\n")

	sb.WriteString("Context:\n")
	sb.WriteString(strings.Join(contextBlocks(matches), "\n\n"))
	sb.WriteString("\n\n")

	sb.WriteString("Question: ")
	sb.WriteString(question)
	sb.WriteString("\n")
	sb.WriteString("Think through the answer carefully, then respond:")

	return sb.String()
}

func contextBlocks(matches []conformal.ScoredMatch) []string {
	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		if !m.Metadata.IsColumn() {
			continue
		}
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		blocks = append(blocks, content)
	}
	return blocks
}
