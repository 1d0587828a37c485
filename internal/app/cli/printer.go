package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/jinford/conformal-rag/internal/core/calibration"
	"github.com/jinford/conformal-rag/internal/core/metadata"
	"github.com/jinford/conformal-rag/internal/core/pipeline"
)

// Printer はコマンド結果を端末向けに整形して出力する
type Printer struct {
	out io.Writer

	header  *color.Color
	match   *color.Color
	summary *color.Color
	warn    *color.Color
}

// NewPrinter は out に書き出す Printer を作成する。noColor が true なら色付けしない
func NewPrinter(out io.Writer, noColor bool) *Printer {
	p := &Printer{
		out:     out,
		header:  color.New(color.FgBlue, color.Bold),
		match:   color.New(color.FgGreen),
		summary: color.New(color.FgYellow),
		warn:    color.New(color.FgRed),
	}
	if noColor {
		for _, c := range []*color.Color{p.header, p.match, p.summary, p.warn} {
			c.DisableColor()
		}
	}
	return p
}

// JSON は v をインデント付き JSON で出力する
func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// AskResult は Ask の結果を出力する
func (p *Printer) AskResult(result *pipeline.AskResult) {
	p.header.Fprintln(p.out, "=== RAG Response Details ===")
	p.header.Fprintf(p.out, "Status: %s\n", result.Status)
	p.header.Fprintf(p.out, "Error Rate: %.2f\n", result.ErrorRate)
	p.header.Fprintf(p.out, "Confidence Level: %.0f%%\n", result.ConfidenceLevel)
	if result.Threshold != nil {
		p.header.Fprintf(p.out, "Threshold: %.3f\n", *result.Threshold)
	}
	fmt.Fprintln(p.out)

	if len(result.Matches) == 0 {
		msg := result.Message
		if msg == "" {
			msg = result.Status
		}
		p.warn.Fprintln(p.out, msg)
		return
	}

	for i, m := range result.Matches {
		p.match.Fprintf(p.out, "--- Match %d ---\n", i+1)
		p.match.Fprintf(p.out, "Content: %s\n", m.Content)
		p.match.Fprintf(p.out, "Column: %s\n", m.Metadata.ColumnName)
		p.match.Fprintf(p.out, "Table: %s\n", m.Metadata.TableName)
		p.match.Fprintf(p.out, "Distance: %.3f\n", m.CosineDistance)
		fmt.Fprintln(p.out)
	}

	s := result.ConfidenceSummary
	p.summary.Fprintln(p.out, "=== Confidence Summary ===")
	p.summary.Fprintf(p.out, "Average Confidence: %.3f\n", s.AverageConfidence)
	p.summary.Fprintf(p.out, "Max Confidence: %.3f\n", s.MaxConfidence)
	p.summary.Fprintf(p.out, "Min Confidence: %.3f\n", s.MinConfidence)
	p.summary.Fprintf(p.out, "Matches Found: %d\n", s.NumChunks)
	p.summary.Fprintf(p.out, "Sufficient Confidence: %t\n", s.SufficientConfidence)

	if result.Answer != "" {
		fmt.Fprintln(p.out)
		p.header.Fprintln(p.out, "=== Answer ===")
		fmt.Fprintln(p.out, result.Answer)
	}
}

// Questions は質問一覧を出力する
func (p *Printer) Questions(questions []calibration.Question) {
	if len(questions) == 0 {
		p.warn.Fprintln(p.out, "No calibration questions stored")
		return
	}
	for i, q := range questions {
		p.header.Fprintf(p.out, "[%d] %s\n", i+1, q.Category)
		fmt.Fprintf(p.out, "    %s\n", q.Question)
		fmt.Fprintf(p.out, "    columns: %s\n", strings.Join(q.SourceColumns, ", "))
	}
}

// Records はキャリブレーションレコードを出力する
func (p *Printer) Records(records []calibration.Record) {
	if len(records) == 0 {
		p.warn.Fprintln(p.out, "No calibration records stored")
		return
	}
	for i, r := range records {
		p.match.Fprintf(p.out, "[%d] %s (distance %.3f)\n", i+1, r.Metadata.ColumnName, r.CosineDistance)
		fmt.Fprintf(p.out, "    %s\n", r.Question)
	}
}

// Threshold は誤り率に対する距離閾値を出力する
func (p *Printer) Threshold(errorRate, threshold float64, size int) {
	p.summary.Fprintf(p.out, "Error Rate: %.2f\n", errorRate)
	p.summary.Fprintf(p.out, "Confidence Level: %.0f%%\n", (1-errorRate)*100)
	p.summary.Fprintf(p.out, "Threshold: %.3f\n", threshold)
	p.summary.Fprintf(p.out, "Calibration Size: %d\n", size)
}

// Schema はテーブルスキーマを出力する
func (p *Printer) Schema(schema metadata.TableSchema) {
	p.header.Fprintf(p.out, "Table: %s\n", schema.TableName)
	for _, c := range schema.Columns {
		fmt.Fprintf(p.out, "  %-24s %-10s %s\n", c.Name, c.Type, strings.Join(c.SampleValues, ", "))
	}
}

// Bootstrap はブートストラップ結果を出力する
func (p *Printer) Bootstrap(result *pipeline.BootstrapResult) {
	if !result.Rebuilt && !result.Resumed {
		p.summary.Fprintln(p.out, "Index and calibration data already present, nothing to do")
		return
	}
	if result.Resumed {
		p.warn.Fprintln(p.out, "Calibration resumed on existing index")
	}
	if result.Schema.TableName != "" {
		p.header.Fprintf(p.out, "Table: %s (%d columns)\n", result.Schema.TableName, len(result.Schema.Columns))
	}
	p.summary.Fprintf(p.out, "Questions generated: %d\n", result.Questions)
	p.Stats(result.Stats)
}

// Stats は収集統計を出力する
func (p *Printer) Stats(stats calibration.CollectionStats) {
	p.summary.Fprintf(p.out, "Questions processed: %d\n", stats.QuestionsProcessed)
	p.summary.Fprintf(p.out, "Questions without matches: %d\n", stats.QuestionsNoMatches)
	p.summary.Fprintf(p.out, "Records written: %d\n", stats.RecordsWritten)
	if stats.MissedColumns > 0 {
		p.warn.Fprintf(p.out, "Columns missing from top-k: %d\n", stats.MissedColumns)
	}
}
