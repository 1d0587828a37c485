package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jinford/conformal-rag/internal/core/calibration"
)

// CalibrationPlan はキャリブレーション質問の生成計画 (YAML)
//
//	total_questions: 50
//	questions_per_category:
//	  single_column: 10
//	  business_logic: 20
//
// questions_per_category を指定した場合はその配分をそのまま使い、total_questions は無視する
type CalibrationPlan struct {
	TotalQuestions       int            `yaml:"total_questions"`
	QuestionsPerCategory map[string]int `yaml:"questions_per_category"`
}

// LoadPlan はYAMLの生成計画を読み込む
func LoadPlan(path string) (*CalibrationPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration plan: %w", err)
	}

	var plan CalibrationPlan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse calibration plan %s: %w", path, err)
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid calibration plan %s: %w", path, err)
	}

	return &plan, nil
}

// Validate はカテゴリ名と件数を検証する
func (p *CalibrationPlan) Validate() error {
	for name, n := range p.QuestionsPerCategory {
		if _, err := calibration.ParseCategory(name); err != nil {
			return err
		}
		if n < 0 {
			return fmt.Errorf("questions_per_category.%s must not be negative", name)
		}
	}
	if len(p.QuestionsPerCategory) == 0 && p.TotalQuestions <= 0 {
		return errors.New("total_questions must be positive")
	}
	return nil
}

// Allocation は計画からカテゴリ別の生成件数を求める
func (p *CalibrationPlan) Allocation() calibration.Allocation {
	if len(p.QuestionsPerCategory) == 0 {
		return calibration.Allocate(p.TotalQuestions)
	}

	alloc := make(calibration.Allocation, len(calibration.Categories()))
	for _, category := range calibration.Categories() {
		alloc[category] = p.QuestionsPerCategory[string(category)]
	}
	return alloc
}

// ResolveAllocation は planPath が指定されていれば計画ファイルを、無ければ設定の総数を使って配分を決める
func (c *Config) ResolveAllocation(planPath string) (calibration.Allocation, error) {
	if planPath == "" {
		planPath = c.Calibration.PlanFile
	}
	if planPath == "" {
		return calibration.Allocate(c.Calibration.TotalQuestions), nil
	}

	plan, err := LoadPlan(planPath)
	if err != nil {
		return nil, err
	}
	return plan.Allocation(), nil
}
