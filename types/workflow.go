package types

import (
	"encoding/json"
	"time"
)

// WorkflowResult is the aggregate outcome of one workflow execution. It is a
// terminal artifact: workflow-level failures are aggregated here, never
// thrown, and the caller inspects Success/ErrorStep/ErrorMessage.
type WorkflowResult struct {
	RunID          string                     `json:"run_id"`
	Success        bool                       `json:"success"`
	StepsCompleted int                        `json:"steps_completed"`
	StepsTotal     int                        `json:"steps_total"`
	StepResults    []ActionResult             `json:"step_results"`
	ErrorStep      int                        `json:"error_step,omitempty"` // 1-based index of the failing step, 0 when none
	ErrorMessage   string                     `json:"error_message,omitempty"`
	Duration       time.Duration              `json:"duration"`
	FinalURL       string                     `json:"final_url,omitempty"`
	Extracted      map[string]json.RawMessage `json:"extracted,omitempty"`
}
