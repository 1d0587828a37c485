package pipeline

import (
	"fmt"
)

// State はパイプライン1回分の進行状態
type State int

const (
	StateInitial State = iota
	StateSchemaReady
	StateBootstrap
	StateMetadataIndexed
	StateQuestionsGenerated
	StateCalibrated
	StateRetrieved
	StateFiltered
	StateDone
)

var stateNames = map[State]string{
	StateInitial:            "Initial",
	StateSchemaReady:        "SchemaReady",
	StateBootstrap:          "Bootstrap",
	StateMetadataIndexed:    "MetadataIndexed",
	StateQuestionsGenerated: "QuestionsGenerated",
	StateCalibrated:         "Calibrated",
	StateRetrieved:          "Retrieved",
	StateFiltered:           "Filtered",
	StateDone:               "Done",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText は状態名でシリアライズする
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Step はエラーラベルに使う処理ステップ名
type Step string

const (
	StepDiscoverSchema    Step = "discover_schema"
	StepInferMetadata     Step = "infer_metadata"
	StepBuildIndex        Step = "build_index"
	StepOpenIndex         Step = "open_index"
	StepResetCalibration  Step = "reset_calibration"
	StepLoadQuestions     Step = "load_questions"
	StepGenerateQuestions Step = "generate_questions"
	StepCollect           Step = "collect_calibration"
	StepLoadCalibration   Step = "load_calibration"
	StepRetrieve          Step = "retrieve"
	StepGenerateAnswer    Step = "generate_answer"
)

// StepError はどのステップで失敗したかを付加したエラー
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func stepError(step Step, err error) error {
	return &StepError{Step: step, Err: err}
}
