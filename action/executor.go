// Package action executes individual page operations. Every method returns
// an ActionResult and never lets an error escape: internal failures become
// Success=false with timing recorded, so callers always get an outcome.
package action

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/siteflow/browser"
	"github.com/BaSui01/siteflow/element"
	"github.com/BaSui01/siteflow/metrics"
	"github.com/BaSui01/siteflow/session"
	"github.com/BaSui01/siteflow/types"
)

// Executor performs page actions against a session's indexed elements.
type Executor struct {
	resolver  *element.Resolver
	collector *metrics.Collector
	logger    *zap.Logger
	now       func() time.Time
}

// NewExecutor creates an executor.
func NewExecutor(resolver *element.Resolver, collector *metrics.Collector, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		resolver:  resolver,
		collector: collector,
		logger:    logger.With(zap.String("component", "action_executor")),
		now:       time.Now,
	}
}

// WithNow swaps the clock, for tests.
func (e *Executor) WithNow(now func() time.Time) *Executor {
	e.now = now
	return e
}

// finish stamps duration and metrics on a result. Every public method runs
// through it exactly once.
func (e *Executor) finish(res *types.ActionResult, start time.Time) *types.ActionResult {
	res.Duration = e.now().Sub(start)
	e.collector.ActionExecuted(string(res.Action), res.Success, res.Duration)
	return res
}

func (e *Executor) fail(res *types.ActionResult, start time.Time, err error) *types.ActionResult {
	res.Success = false
	res.Error = err.Error()
	res.Code = types.GetErrorCode(err)
	e.logger.Debug("action failed",
		zap.String("action", string(res.Action)),
		zap.Int("element", res.Element),
		zap.Error(err))
	return e.finish(res, start)
}

// resolveTarget looks the target index up in the session cache and resolves
// it to a live handle.
func (e *Executor) resolveTarget(ctx context.Context, sess *session.Session, target int) (browser.Element, error) {
	ref, ok := sess.Element(target)
	if !ok {
		return nil, types.NewError(types.ErrElementNotFound,
			"element "+strconv.Itoa(target)+" is not in the current page index")
	}
	return e.resolver.Resolve(ctx, sess, ref)
}

// Click clicks the target element.
func (e *Executor) Click(ctx context.Context, sess *session.Session, target int) *types.ActionResult {
	start := e.now()
	res := &types.ActionResult{Action: types.ActionClick, Element: target}
	el, err := e.resolveTarget(ctx, sess, target)
	if err != nil {
		return e.fail(res, start, err)
	}
	if err := el.Click(ctx); err != nil {
		return e.fail(res, start, err)
	}
	res.Success = true
	return e.finish(res, start)
}

// TypeText sanitizes value and types it into the target element. Sensitive
// values never appear in logs.
func (e *Executor) TypeText(ctx context.Context, sess *session.Session, target int, value string, sensitive bool) *types.ActionResult {
	start := e.now()
	res := &types.ActionResult{Action: types.ActionType, Element: target}
	el, err := e.resolveTarget(ctx, sess, target)
	if err != nil {
		return e.fail(res, start, err)
	}
	clean := sanitize(value, sensitive, e.logger)
	if err := el.Type(ctx, clean); err != nil {
		return e.fail(res, start, err)
	}
	logged := clean
	if sensitive {
		logged = redacted
	}
	e.logger.Debug("text typed",
		zap.Int("element", target),
		zap.String("value", logged))
	res.Success = true
	return e.finish(res, start)
}

// SelectOption selects the option whose label matches value.
func (e *Executor) SelectOption(ctx context.Context, sess *session.Session, target int, value string, sensitive bool) *types.ActionResult {
	start := e.now()
	res := &types.ActionResult{Action: types.ActionSelect, Element: target}
	el, err := e.resolveTarget(ctx, sess, target)
	if err != nil {
		return e.fail(res, start, err)
	}
	clean := sanitize(value, sensitive, e.logger)
	if err := el.SelectByLabel(ctx, clean); err != nil {
		return e.fail(res, start, err)
	}
	res.Success = true
	return e.finish(res, start)
}

// Hover moves the pointer over the target element.
func (e *Executor) Hover(ctx context.Context, sess *session.Session, target int) *types.ActionResult {
	start := e.now()
	res := &types.ActionResult{Action: types.ActionHover, Element: target}
	el, err := e.resolveTarget(ctx, sess, target)
	if err != nil {
		return e.fail(res, start, err)
	}
	if err := el.Hover(ctx); err != nil {
		return e.fail(res, start, err)
	}
	res.Success = true
	return e.finish(res, start)
}

// Scroll scrolls the page by (dx, dy) pixels.
func (e *Executor) Scroll(ctx context.Context, sess *session.Session, dx, dy int) *types.ActionResult {
	start := e.now()
	res := &types.ActionResult{Action: types.ActionScroll}
	if err := sess.Page.Scroll(ctx, dx, dy); err != nil {
		return e.fail(res, start, err)
	}
	res.Success = true
	return e.finish(res, start)
}

// Navigate loads a URL. Safety checks on the target run before this call;
// the executor only issues the page load.
func (e *Executor) Navigate(ctx context.Context, sess *session.Session, url string) *types.ActionResult {
	start := e.now()
	res := &types.ActionResult{Action: types.ActionNavigate}
	if err := sess.Page.Goto(ctx, url); err != nil {
		return e.fail(res, start, err)
	}
	res.Success = true
	res.Navigated = true
	if current, err := sess.Page.URL(ctx); err == nil {
		res.URL = current
	}
	return e.finish(res, start)
}

// Submit clicks the target and waits for the resulting navigation.
func (e *Executor) Submit(ctx context.Context, sess *session.Session, target int, timeout time.Duration) *types.ActionResult {
	start := e.now()
	res := &types.ActionResult{Action: types.ActionSubmit, Element: target}
	el, err := e.resolveTarget(ctx, sess, target)
	if err != nil {
		return e.fail(res, start, err)
	}
	if err := el.Click(ctx); err != nil {
		return e.fail(res, start, err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if err := sess.Page.WaitForNavigation(ctx, timeout); err != nil {
		return e.fail(res, start, err)
	}
	res.Success = true
	res.Navigated = true
	if current, err := sess.Page.URL(ctx); err == nil {
		res.URL = current
	}
	return e.finish(res, start)
}

// extractedElement is the JSON shape Extract produces for one element.
type extractedElement struct {
	Index int    `json:"index,omitempty"`
	Tag   string `json:"tag,omitempty"`
	Text  string `json:"text"`
	Value string `json:"value,omitempty"`
	Href  string `json:"href,omitempty"`
}

// Extract reads the target element's text and key attributes; with target 0
// it captures the page's title and URL instead.
func (e *Executor) Extract(ctx context.Context, sess *session.Session, target int) *types.ActionResult {
	start := e.now()
	res := &types.ActionResult{Action: types.ActionExtract, Element: target}

	if target <= 0 {
		title, err := sess.Page.Title(ctx)
		if err != nil {
			return e.fail(res, start, err)
		}
		url, err := sess.Page.URL(ctx)
		if err != nil {
			return e.fail(res, start, err)
		}
		data, _ := json.Marshal(map[string]string{"title": title, "url": url})
		res.Extracted = data
		res.Success = true
		return e.finish(res, start)
	}

	el, err := e.resolveTarget(ctx, sess, target)
	if err != nil {
		return e.fail(res, start, err)
	}
	text, err := el.TextContent(ctx)
	if err != nil {
		return e.fail(res, start, err)
	}
	out := extractedElement{Index: target, Text: strings.TrimSpace(text)}
	if tag, err := el.TagName(ctx); err == nil {
		out.Tag = strings.ToLower(tag)
	}
	if v, err := el.Attribute(ctx, "value"); err == nil && v != "" {
		out.Value = v
	}
	if href, err := el.Attribute(ctx, "href"); err == nil && href != "" {
		out.Href = href
	}
	data, err := json.Marshal(out)
	if err != nil {
		return e.fail(res, start, err)
	}
	res.Extracted = data
	res.Success = true
	return e.finish(res, start)
}

// Wait blocks on a page condition. Used for explicit wait steps; the
// engine's post-action waits share the same page primitives.
func (e *Executor) Wait(ctx context.Context, sess *session.Session, cond types.WaitCondition, selector string, timeout time.Duration) *types.ActionResult {
	start := e.now()
	res := &types.ActionResult{Action: types.ActionWait}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var err error
	switch cond {
	case types.WaitNavigation:
		err = sess.Page.WaitForNavigation(ctx, timeout)
	case types.WaitNetworkIdle:
		err = sess.Page.WaitForNetworkIdle(ctx, timeout)
	case types.WaitElementVisible:
		err = sess.Page.WaitForSelector(ctx, selector, browser.WaitVisible, timeout)
	case types.WaitElementHidden:
		err = sess.Page.WaitForSelector(ctx, selector, browser.WaitHidden, timeout)
	case types.WaitDelay, types.WaitNone:
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			err = ctx.Err()
		}
	default:
		err = types.NewError(types.ErrInvalidStep, "unknown wait condition: "+string(cond))
	}
	if err != nil {
		return e.fail(res, start, err)
	}
	res.Success = true
	return e.finish(res, start)
}
