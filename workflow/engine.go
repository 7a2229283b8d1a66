package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/siteflow/action"
	"github.com/BaSui01/siteflow/element"
	"github.com/BaSui01/siteflow/metrics"
	"github.com/BaSui01/siteflow/security"
	"github.com/BaSui01/siteflow/session"
	"github.com/BaSui01/siteflow/types"
)

// Options tune one workflow execution.
type Options struct {
	// StopOnError stops the workflow at the first failed step whose step
	// does not name its own on_error strategy.
	StopOnError bool
}

// Engine executes step lists against a session.
type Engine struct {
	executor  *action.Executor
	indexer   *element.Indexer
	recovery  *Recovery
	guard     *security.URLGuard
	collector *metrics.Collector
	tracer    trace.Tracer
	logger    *zap.Logger
	sleep     sleepFunc
	now       func() time.Time
}

// NewEngine creates a workflow engine.
func NewEngine(executor *action.Executor, indexer *element.Indexer, recovery *Recovery, guard *security.URLGuard, collector *metrics.Collector, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		executor:  executor,
		indexer:   indexer,
		recovery:  recovery,
		guard:     guard,
		collector: collector,
		tracer:    otel.Tracer("siteflow/workflow"),
		logger:    logger.With(zap.String("component", "workflow_engine")),
		sleep:     realSleep,
		now:       time.Now,
	}
}

// WithSleep swaps the sleeper, for tests.
func (e *Engine) WithSleep(sleep sleepFunc) *Engine {
	e.sleep = sleep
	e.recovery.WithSleep(sleep)
	return e
}

// WithNow swaps the clock, for tests.
func (e *Engine) WithNow(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Execute runs the steps in order. Closing the session cancels the run; a
// cancelled run surfaces a terminal result with Success=false. The returned
// result is always non-nil.
func (e *Engine) Execute(ctx context.Context, sess *session.Session, steps []types.WorkflowStep, opts Options) *types.WorkflowResult {
	start := e.now()
	result := &types.WorkflowResult{
		RunID:      uuid.NewString(),
		StepsTotal: len(steps),
		Extracted:  make(map[string]json.RawMessage),
	}

	// Session close aborts in-flight steps.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(sess.Context(), cancel)
	defer stop()

	runCtx, span := e.tracer.Start(runCtx, "workflow.execute",
		trace.WithAttributes(
			attribute.String("workflow.run_id", result.RunID),
			attribute.String("session.id", sess.ID),
			attribute.Int("workflow.steps", len(steps)),
		))
	defer span.End()

	for i, step := range steps {
		if runCtx.Err() != nil || sess.Context().Err() != nil {
			return e.finish(result, i, "workflow cancelled", start, sess, runCtx)
		}
		stepRes, halt := e.runStep(runCtx, sess, i, step, opts)
		result.StepResults = append(result.StepResults, *stepRes)
		if stepRes.Success {
			result.StepsCompleted++
			if len(stepRes.Extracted) > 0 {
				result.Extracted[stepName(i, step)] = stepRes.Extracted
			}
			continue
		}
		if halt {
			return e.finish(result, i, stepRes.Error, start, sess, runCtx)
		}
	}

	result.Success = result.StepsCompleted == len(steps)
	return e.finish(result, -1, "", start, sess, runCtx)
}

func stepName(i int, step types.WorkflowStep) string {
	if step.Name != "" {
		return step.Name
	}
	return fmt.Sprintf("step_%d", i+1)
}

// runStep evaluates preconditions then executes with bounded retry. The
// second return value reports whether the workflow must halt.
func (e *Engine) runStep(ctx context.Context, sess *session.Session, index int, step types.WorkflowStep, opts Options) (*types.ActionResult, bool) {
	ctx, span := e.tracer.Start(ctx, "workflow.step",
		trace.WithAttributes(
			attribute.Int("step.index", index+1),
			attribute.String("step.action", string(step.Action)),
		))
	defer span.End()

	if err := step.Validate(); err != nil {
		return &types.ActionResult{Action: step.Action, Element: step.Target, Error: err.Error()},
			step.OnError == types.OnErrorAbort || (step.OnError != types.OnErrorSkip && opts.StopOnError)
	}
	if failed := e.checkPreconditions(ctx, sess, step); failed != "" {
		res := &types.ActionResult{Action: step.Action, Element: step.Target, Error: "precondition not met: " + failed}
		if step.OnError == types.OnErrorSkip {
			return res, false
		}
		return res, step.OnError == types.OnErrorAbort || opts.StopOnError
	}

	prevURL, _ := sess.Page.URL(ctx)
	res := e.executeWithRetry(ctx, sess, step)
	if res.Success {
		if err := e.postWait(ctx, sess, step); err != nil {
			res.Success = false
			res.Error = "wait after action failed: " + err.Error()
		}
	}
	if res.Success {
		if halt := e.absorbNavigation(ctx, sess, res, prevURL); halt {
			return res, true
		}
	}
	if res.Success {
		return res, false
	}
	switch step.OnError {
	case types.OnErrorSkip:
		return res, false
	case types.OnErrorAbort:
		return res, true
	default:
		return res, opts.StopOnError
	}
}

// executeWithRetry runs one step up to 1+min(step retries, global cap)
// times, backing off between attempts and consulting recovery when the
// step allows retries.
func (e *Engine) executeWithRetry(ctx context.Context, sess *session.Session, step types.WorkflowStep) *types.ActionResult {
	retries := boundedRetries(step.MaxRetries)
	target := step.Target
	var res *types.ActionResult
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, backoffDelay(attempt-1)); err != nil {
				return &types.ActionResult{Action: step.Action, Element: target, Error: "workflow cancelled"}
			}
		}
		res = e.perform(ctx, sess, step, target)
		if res.Success || attempt == retries {
			return res
		}
		if res.Code == types.ErrTimeout {
			if rec := e.recovery.HandleTimeout(ctx, sess); !rec.Success {
				e.logger.Debug("page did not settle after timeout",
					zap.String("reason", rec.Reason))
			}
			continue
		}
		if step.OnError == types.OnErrorRetry && !step.Action.Targetless() {
			rec := e.recovery.RecoverTarget(ctx, sess, target, e.signatureOf(sess, target), step.Alternatives)
			if rec.Success && rec.NewTarget > 0 {
				e.logger.Info("recovery substituted target",
					zap.Int("old_target", target),
					zap.Int("new_target", rec.NewTarget),
					zap.String("strategy", rec.Strategy))
				target = rec.NewTarget
			} else if !rec.Success && !rec.ShouldContinue && rec.Strategy == "exhausted" {
				res.Error = rec.Reason
				return res
			}
		}
	}
	return res
}

// absorbNavigation reconciles the element index with wherever a successful
// step left the page. Steps that navigated on purpose re-index the new page;
// an unexpected URL change routes through recovery, which absorbs same-domain
// moves and stops the workflow on login or error redirects. Returns true when
// the workflow must halt.
func (e *Engine) absorbNavigation(ctx context.Context, sess *session.Session, res *types.ActionResult, prevURL string) bool {
	if res.Navigated {
		if _, err := e.indexer.IndexPage(ctx, sess); err != nil {
			e.logger.Warn("index after navigation failed", zap.Error(err))
		}
		return false
	}
	current, err := sess.Page.URL(ctx)
	if err != nil || current == prevURL {
		return false
	}
	nav := e.recovery.HandleNavigation(ctx, sess, prevURL)
	if nav.ShouldContinue {
		return false
	}
	res.Success = false
	res.Error = nav.Reason
	return true
}

func (e *Engine) signatureOf(sess *session.Session, target int) string {
	if ref, ok := sess.Element(target); ok {
		return ref.Signature
	}
	return ""
}

// perform dispatches one attempt to the executor.
func (e *Engine) perform(ctx context.Context, sess *session.Session, step types.WorkflowStep, target int) *types.ActionResult {
	switch step.Action {
	case types.ActionClick:
		return e.executor.Click(ctx, sess, target)
	case types.ActionType:
		return e.executor.TypeText(ctx, sess, target, step.Value, step.Sensitive)
	case types.ActionSelect:
		return e.executor.SelectOption(ctx, sess, target, step.Value, step.Sensitive)
	case types.ActionHover:
		return e.executor.Hover(ctx, sess, target)
	case types.ActionScroll:
		return e.executor.Scroll(ctx, sess, 0, scrollAmount(step.Value))
	case types.ActionExtract:
		return e.executor.Extract(ctx, sess, target)
	case types.ActionWait:
		return e.executor.Wait(ctx, sess, step.Wait, step.Selector, step.WaitTimeout)
	case types.ActionSubmit:
		return e.executor.Submit(ctx, sess, target, step.WaitTimeout)
	case types.ActionFillForm:
		return e.executor.FillForm(ctx, sess, step.Form, step.SensitiveFields, step.SubmitIndex, step.WaitTimeout)
	case types.ActionNavigate:
		if err := e.guard.Check(ctx, step.URL); err != nil {
			e.collector.NavigationBlocked()
			return &types.ActionResult{Action: step.Action, Error: userMessage(err), Code: types.GetErrorCode(err)}
		}
		return e.executor.Navigate(ctx, sess, step.URL)
	default:
		return &types.ActionResult{Action: step.Action, Error: "unknown action kind"}
	}
}

// scrollAmount parses a scroll step's value as pixels, defaulting to one
// viewport-ish increment.
func scrollAmount(value string) int {
	if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && n != 0 {
		return n
	}
	return 500
}

// userMessage strips internal detail from a typed error, keeping only the
// message.
func userMessage(err error) string {
	var typed *types.Error
	if errors.As(err, &typed) {
		return typed.Message
	}
	return err.Error()
}

// checkPreconditions returns a description of the first unmet precondition,
// or empty when all hold.
func (e *Engine) checkPreconditions(ctx context.Context, sess *session.Session, step types.WorkflowStep) string {
	for _, pre := range step.Preconditions {
		switch pre.Kind {
		case types.PrecondURLContains:
			current, err := sess.Page.URL(ctx)
			if err != nil || !strings.Contains(current, pre.Value) {
				return "url does not contain " + pre.Value
			}
		case types.PrecondElementExists:
			if _, ok := sess.Element(pre.Element); !ok {
				return "element " + strconv.Itoa(pre.Element) + " is not indexed"
			}
		case types.PrecondTextPresent:
			content, err := sess.Page.Content(ctx)
			if err != nil || !strings.Contains(content, pre.Value) {
				return "text " + pre.Value + " is not on the page"
			}
		default:
			return "unknown precondition kind " + string(pre.Kind)
		}
	}
	return ""
}

// postWait blocks on the step's wait condition after a successful action.
func (e *Engine) postWait(ctx context.Context, sess *session.Session, step types.WorkflowStep) error {
	if step.Wait == types.WaitNone || step.Action == types.ActionWait {
		return nil
	}
	timeout := step.WaitTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	res := e.executor.Wait(ctx, sess, step.Wait, step.Selector, timeout)
	if !res.Success {
		return types.NewError(types.ErrTimeout, res.Error)
	}
	return nil
}

// finish stamps the terminal fields on the result. errorStep is -1 for a
// run that reached the end of its step list.
func (e *Engine) finish(result *types.WorkflowResult, errorStep int, errMsg string, start time.Time, sess *session.Session, ctx context.Context) *types.WorkflowResult {
	result.Duration = e.now().Sub(start)
	if errorStep >= 0 {
		result.Success = false
		result.ErrorStep = errorStep + 1
		result.ErrorMessage = errMsg
	}
	if url, err := sess.Page.URL(ctx); err == nil {
		result.FinalURL = url
	}
	e.logger.Info("workflow finished",
		zap.String("run_id", result.RunID),
		zap.Bool("success", result.Success),
		zap.Int("steps_completed", result.StepsCompleted),
		zap.Int("steps_total", result.StepsTotal),
		zap.Duration("duration", result.Duration))
	return result
}
