package llm

import (
	"regexp"
	"strings"
)

var (
	fencedJSONPattern    = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// ExtractJSON はLLM出力からJSON本体を取り出す。
// ```json のコードブロックがあればその中身を使い、末尾カンマを取り除く
func ExtractJSON(content string) string {
	body := strings.TrimSpace(content)
	if m := fencedJSONPattern.FindStringSubmatch(body); m != nil {
		body = strings.TrimSpace(m[1])
	}
	return trailingCommaPattern.ReplaceAllString(body, "$1")
}
