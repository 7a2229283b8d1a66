package types

import (
	"encoding/json"
	"time"
)

// ActionKind enumerates the operations the executor can perform. The set is
// closed: steps are validated against it at construction time.
type ActionKind string

const (
	ActionClick    ActionKind = "click"
	ActionType     ActionKind = "type"
	ActionSelect   ActionKind = "select"
	ActionScroll   ActionKind = "scroll"
	ActionExtract  ActionKind = "extract"
	ActionWait     ActionKind = "wait"
	ActionNavigate ActionKind = "navigate"
	ActionSubmit   ActionKind = "submit"
	ActionHover    ActionKind = "hover"
	ActionFillForm ActionKind = "fill_form"
)

// ValidActionKind reports whether k names a supported action.
func ValidActionKind(k ActionKind) bool {
	switch k {
	case ActionClick, ActionType, ActionSelect, ActionScroll, ActionExtract,
		ActionWait, ActionNavigate, ActionSubmit, ActionHover, ActionFillForm:
		return true
	}
	return false
}

// targetless actions operate on the page, not on an indexed element.
func (k ActionKind) Targetless() bool {
	switch k {
	case ActionNavigate, ActionWait, ActionScroll, ActionFillForm:
		return true
	}
	return false
}

// WaitCondition describes what the engine blocks on after a successful action.
type WaitCondition string

const (
	WaitNone           WaitCondition = ""
	WaitNavigation     WaitCondition = "navigation"
	WaitNetworkIdle    WaitCondition = "network_idle"
	WaitElementVisible WaitCondition = "element_visible"
	WaitElementHidden  WaitCondition = "element_hidden"
	WaitDelay          WaitCondition = "delay"
)

// OnError selects the recovery behavior when a step fails.
type OnError string

const (
	OnErrorRetry OnError = "retry"
	OnErrorSkip  OnError = "skip"
	OnErrorAbort OnError = "abort"
)

// PreconditionKind enumerates the checks evaluated before a step runs.
type PreconditionKind string

const (
	PrecondURLContains   PreconditionKind = "url_contains"
	PrecondElementExists PreconditionKind = "element_exists"
	PrecondTextPresent   PreconditionKind = "text_present"
)

// Precondition is a single check evaluated before a step executes.
type Precondition struct {
	Kind    PreconditionKind `json:"kind"`
	Value   string           `json:"value,omitempty"`
	Element int              `json:"element,omitempty"`
}

// WorkflowStep is one planned operation within a workflow. Steps are
// immutable once constructed for a given execution; the planner that
// produces them lives outside the engine.
type WorkflowStep struct {
	Name          string         `json:"name,omitempty"`
	Action        ActionKind     `json:"action"`
	Target        int            `json:"target,omitempty"` // 1-based element index, 0 for page-level actions
	Value         string         `json:"value,omitempty"`
	Sensitive     bool           `json:"sensitive,omitempty"`
	URL           string         `json:"url,omitempty"` // navigate only
	Selector      string         `json:"selector,omitempty"`
	Wait          WaitCondition  `json:"wait,omitempty"`
	WaitTimeout   time.Duration  `json:"wait_timeout,omitempty"`
	OnError       OnError        `json:"on_error,omitempty"`
	MaxRetries    int            `json:"max_retries,omitempty"`
	Alternatives  []int          `json:"alternatives,omitempty"` // fallback target indices
	Preconditions []Precondition `json:"preconditions,omitempty"`
	// Form holds index->value pairs for fill_form steps; SensitiveFields
	// marks which of those indices carry secrets.
	Form            map[int]string `json:"form,omitempty"`
	SensitiveFields map[int]bool   `json:"sensitive_fields,omitempty"`
	SubmitIndex     int            `json:"submit_index,omitempty"`
}

// Validate checks a step at construction time so malformed plans fail fast
// instead of at call time.
func (s *WorkflowStep) Validate() error {
	if !ValidActionKind(s.Action) {
		return NewError(ErrInvalidStep, "unknown action kind: "+string(s.Action))
	}
	if s.Target <= 0 && !s.Action.Targetless() {
		return NewError(ErrInvalidStep, "action "+string(s.Action)+" requires a target element index")
	}
	if s.Action == ActionNavigate && s.URL == "" {
		return NewError(ErrInvalidStep, "navigate step requires a url")
	}
	if s.Action == ActionFillForm && len(s.Form) == 0 {
		return NewError(ErrInvalidStep, "fill_form step requires at least one field")
	}
	if s.MaxRetries < 0 {
		return NewError(ErrInvalidStep, "max_retries must not be negative")
	}
	switch s.OnError {
	case "", OnErrorRetry, OnErrorSkip, OnErrorAbort:
	default:
		return NewError(ErrInvalidStep, "unknown on_error strategy: "+string(s.OnError))
	}
	return nil
}

// FieldResult records the outcome of one field within a fill_form action.
type FieldResult struct {
	Index   int    `json:"index"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ActionResult is the outcome of a single executed action. Executor methods
// always return one, converting internal errors into Success=false instead
// of propagating them.
type ActionResult struct {
	Success     bool            `json:"success"`
	Action      ActionKind      `json:"action"`
	Element     int             `json:"element,omitempty"`
	Error       string          `json:"error,omitempty"`
	Code        ErrorCode       `json:"code,omitempty"` // set when the failure carried a typed error
	Duration    time.Duration   `json:"duration"`
	Navigated   bool            `json:"navigated,omitempty"`
	URL         string          `json:"url,omitempty"`
	Extracted   json.RawMessage `json:"extracted,omitempty"`
	FieldErrors []FieldResult   `json:"field_errors,omitempty"`
}
