package calibration

import (
	"fmt"
	"strings"
)

const (
	// QuestionPromptVersion は質問生成プロンプトのバージョン
	QuestionPromptVersion = "1.0"

	// QuestionTemperature は質問生成の温度設定。重複を避けるため高めにする
	QuestionTemperature = 0.8

	// QuestionMaxTokens は生成する最大トークン数
	QuestionMaxTokens = 300

	// PreviousQuestionsTokenBudget は過去質問リストに割り当てるトークン数の上限
	PreviousQuestionsTokenBudget = 2000
)

const questionSystemPrompt = "You are a analyst generating calibration questions."

// categoryInstructions はカテゴリごとの追加指示
var categoryInstructions = map[Category]string{
	CategorySingleColumn: `Write a question that can be answered from exactly ONE column of the table.
The question should paraphrase the column's meaning instead of repeating its name verbatim.
source_columns must contain exactly one column name.`,
	CategoryMultiColumn: `Write a question that requires combining TWO OR MORE columns of the table
(for example comparing, filtering by one column and aggregating another).
source_columns must list every column the answer depends on.`,
	CategoryTablePurpose: `Write a question about what the table as a whole describes or how it would be used,
phrased so that the columns that best characterize the table are needed to answer it.
source_columns must list those characterizing columns.`,
	CategoryBusinessLogic: `Write a realistic business question an analyst would ask of this data
(a KPI, a trend, a segmentation, a ranking). Use business vocabulary rather than column names.
source_columns must list every column required to compute the answer.`,
}

// questionPromptInput はプロンプト構築の入力
type questionPromptInput struct {
	TableName         string
	TableDescription  string
	Columns           []ColumnInfo
	PreviousQuestions []string
	Category          Category
}

// buildQuestionPrompt は質問生成プロンプトを構築する
func buildQuestionPrompt(in questionPromptInput) string {
	var sb strings.Builder

	sb.WriteString("Generate one calibration question for a retrieval system that maps questions to table columns.\n\n")

	sb.WriteString(fmt.Sprintf("Table name: %s\n", in.TableName))
	sb.WriteString(fmt.Sprintf("Table description: %s\n\n", in.TableDescription))

	sb.WriteString("Columns:\n")
	sb.WriteString(formatColumns(in.Columns))
	sb.WriteString("\n\n")

	sb.WriteString("Previously generated questions (do not repeat them or ask semantically equivalent ones):\n")
	sb.WriteString(formatPreviousQuestions(in.PreviousQuestions))
	sb.WriteString("\n\n")

	sb.WriteString(fmt.Sprintf("Target category: %s\n", in.Category))
	sb.WriteString(categoryInstructions[in.Category])
	sb.WriteString("\n\n")

	sb.WriteString(`Only use column names from the list above in source_columns.
Return only a JSON object with the following structure:
{
  "question": "the question text",
  "category": "`)
	sb.WriteString(string(in.Category))
	sb.WriteString(`",
  "source_columns": ["column_a", "column_b"]
}`)

	return sb.String()
}

func formatColumns(columns []ColumnInfo) string {
	lines := make([]string, 0, len(columns))
	for _, col := range columns {
		lines = append(lines, fmt.Sprintf("- %s (%s)", col.Name, col.Type))
	}
	return strings.Join(lines, "\n")
}

func formatPreviousQuestions(questions []string) string {
	if len(questions) == 0 {
		return "None"
	}
	lines := make([]string, 0, len(questions))
	for _, q := range questions {
		lines = append(lines, "- "+q)
	}
	return strings.Join(lines, "\n")
}
