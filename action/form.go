package action

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/siteflow/session"
	"github.com/BaSui01/siteflow/types"
)

// FillForm fills each field in ascending index order: select-by-label for
// <select> targets, sanitized typing otherwise. A failed field is recorded
// and the rest still run. With a submit index the form is submitted
// afterwards and the result waits on the navigation.
func (e *Executor) FillForm(ctx context.Context, sess *session.Session, fields map[int]string, sensitive map[int]bool, submitIndex int, timeout time.Duration) *types.ActionResult {
	start := e.now()
	res := &types.ActionResult{Action: types.ActionFillForm}

	indices := make([]int, 0, len(fields))
	for idx := range fields {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	failed := 0
	for _, idx := range indices {
		fr := e.fillField(ctx, sess, idx, fields[idx], sensitive[idx])
		res.FieldErrors = append(res.FieldErrors, fr)
		if !fr.Success {
			failed++
		}
	}

	if submitIndex > 0 && failed < len(indices) {
		sub := e.Submit(ctx, sess, submitIndex, timeout)
		res.Navigated = sub.Navigated
		res.URL = sub.URL
		if !sub.Success {
			res.Error = "form submit failed: " + sub.Error
			return e.finish(res, start)
		}
	}

	res.Success = failed == 0
	if failed > 0 {
		res.Error = "some form fields could not be filled"
	}
	e.logger.Debug("form filled",
		zap.Int("fields", len(indices)),
		zap.Int("failed", failed),
		zap.Int("submit_index", submitIndex))
	return e.finish(res, start)
}

func (e *Executor) fillField(ctx context.Context, sess *session.Session, index int, value string, sensitive bool) types.FieldResult {
	el, err := e.resolveTarget(ctx, sess, index)
	if err != nil {
		return types.FieldResult{Index: index, Error: err.Error()}
	}
	tag, err := el.TagName(ctx)
	if err != nil {
		return types.FieldResult{Index: index, Error: err.Error()}
	}
	clean := sanitize(value, sensitive, e.logger)
	if strings.EqualFold(tag, "select") {
		err = el.SelectByLabel(ctx, clean)
	} else {
		err = el.Type(ctx, clean)
	}
	if err != nil {
		return types.FieldResult{Index: index, Error: err.Error()}
	}
	return types.FieldResult{Index: index, Success: true}
}
