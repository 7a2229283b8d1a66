package workflow

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/siteflow/element"
	"github.com/BaSui01/siteflow/metrics"
	"github.com/BaSui01/siteflow/session"
)

// RecoveryResult is the outcome of one recovery attempt.
type RecoveryResult struct {
	Success bool
	// NewTarget, when non-zero, replaces the step's target index for the
	// remaining attempts.
	NewTarget      int
	Strategy       string
	Reason         string
	ShouldContinue bool
}

// scrollIncrements are the downward scroll distances tried in order.
var scrollIncrements = []int{300, 600, 1000}

// loginPathHints and errorPathHints classify unexpected redirects.
var (
	loginPathHints = []string{"login", "signin", "sign-in", "auth", "sso"}
	errorPathHints = []string{"error", "404", "403", "denied", "blocked", "captcha"}
)

// Recovery attempts to rescue a step whose target element cannot be
// resolved. Strategies run in a fixed order; each is cheap and idempotent.
type Recovery struct {
	indexer   *element.Indexer
	resolver  *element.Resolver
	collector *metrics.Collector
	logger    *zap.Logger
	sleep     sleepFunc

	// pollTimeout bounds the final wait-and-poll strategy.
	pollTimeout  time.Duration
	pollInterval time.Duration
}

// NewRecovery creates a recovery helper.
func NewRecovery(indexer *element.Indexer, resolver *element.Resolver, collector *metrics.Collector, logger *zap.Logger) *Recovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recovery{
		indexer:      indexer,
		resolver:     resolver,
		collector:    collector,
		logger:       logger.With(zap.String("component", "error_recovery")),
		sleep:        realSleep,
		pollTimeout:  5 * time.Second,
		pollInterval: 500 * time.Millisecond,
	}
}

// WithSleep swaps the sleeper, for tests.
func (r *Recovery) WithSleep(sleep sleepFunc) *Recovery {
	r.sleep = sleep
	return r
}

func (r *Recovery) record(strategy string, success bool) {
	r.collector.RecoveryAttempt(strategy, success)
}

// resolvable probes whether the cached ref at index currently resolves,
// without triggering a re-index.
func (r *Recovery) resolvable(ctx context.Context, sess *session.Session, index int) bool {
	ref, ok := sess.Element(index)
	if !ok {
		return false
	}
	return r.resolver.TryResolve(ctx, sess, ref) != nil
}

// RecoverTarget tries each strategy in order for a target that failed to
// resolve. alternatives are caller-supplied fallback indices.
func (r *Recovery) RecoverTarget(ctx context.Context, sess *session.Session, target int, signature string, alternatives []int) RecoveryResult {
	if res := r.scrollDown(ctx, sess, target); res.Success {
		return res
	}
	if res := r.reindexMatch(ctx, sess, target, signature); res.Success {
		return res
	}
	if res := r.tryAlternatives(ctx, sess, alternatives); res.Success {
		return res
	}
	if res := r.waitAndPoll(ctx, sess, target); res.Success {
		return res
	}
	return RecoveryResult{
		Strategy: "exhausted",
		Reason: fmt.Sprintf("element %d (%q) could not be recovered after scrolling, re-indexing, alternatives, and waiting",
			target, signature),
		ShouldContinue: false,
	}
}

// scrollDown scrolls the page in increasing increments, re-checking the
// target after each.
func (r *Recovery) scrollDown(ctx context.Context, sess *session.Session, target int) RecoveryResult {
	for _, dy := range scrollIncrements {
		if err := sess.Page.Scroll(ctx, 0, dy); err != nil {
			break
		}
		if r.resolvable(ctx, sess, target) {
			r.record("scroll", true)
			return RecoveryResult{Success: true, Strategy: "scroll", ShouldContinue: true}
		}
	}
	r.record("scroll", false)
	return RecoveryResult{Strategy: "scroll"}
}

// reindexMatch re-scans the page and looks for the original element in the
// fresh index: an entry with the same text signature wins over the entry at
// the same raw index.
func (r *Recovery) reindexMatch(ctx context.Context, sess *session.Session, target int, signature string) RecoveryResult {
	refs, err := r.indexer.IndexPage(ctx, sess)
	if err != nil {
		r.record("reindex", false)
		return RecoveryResult{Strategy: "reindex"}
	}
	if signature != "" {
		for _, ref := range refs {
			if ref.Signature == signature {
				r.record("reindex", true)
				return RecoveryResult{Success: true, NewTarget: ref.Index, Strategy: "reindex", ShouldContinue: true}
			}
		}
	}
	for _, ref := range refs {
		if ref.Index == target {
			r.record("reindex", true)
			return RecoveryResult{Success: true, NewTarget: target, Strategy: "reindex", ShouldContinue: true}
		}
	}
	r.record("reindex", false)
	return RecoveryResult{Strategy: "reindex"}
}

// tryAlternatives resolves each caller-supplied fallback index in order.
func (r *Recovery) tryAlternatives(ctx context.Context, sess *session.Session, alternatives []int) RecoveryResult {
	for _, alt := range alternatives {
		if r.resolvable(ctx, sess, alt) {
			r.record("alternative", true)
			return RecoveryResult{Success: true, NewTarget: alt, Strategy: "alternative", ShouldContinue: true}
		}
	}
	r.record("alternative", false)
	return RecoveryResult{Strategy: "alternative"}
}

// waitAndPoll waits for the target to become resolvable, bounded by
// pollTimeout.
func (r *Recovery) waitAndPoll(ctx context.Context, sess *session.Session, target int) RecoveryResult {
	polls := int(r.pollTimeout / r.pollInterval)
	for i := 0; i < polls; i++ {
		if err := r.sleep(ctx, r.pollInterval); err != nil {
			break
		}
		if r.resolvable(ctx, sess, target) {
			r.record("wait_poll", true)
			return RecoveryResult{Success: true, Strategy: "wait_poll", ShouldContinue: true}
		}
	}
	r.record("wait_poll", false)
	return RecoveryResult{Strategy: "wait_poll"}
}

// HandleNavigation classifies an unexpected page change. Same-domain moves
// re-index silently and continue; redirects to login-like or error-like
// paths stop the workflow with a typed reason.
func (r *Recovery) HandleNavigation(ctx context.Context, sess *session.Session, previousURL string) RecoveryResult {
	currentURL, err := sess.Page.URL(ctx)
	if err != nil {
		return RecoveryResult{Strategy: "navigation", Reason: "page is unreachable", ShouldContinue: false}
	}
	current, err := url.Parse(currentURL)
	if err != nil {
		return RecoveryResult{Strategy: "navigation", Reason: "current url is unparseable", ShouldContinue: false}
	}

	path := strings.ToLower(current.Path)
	for _, hint := range loginPathHints {
		if strings.Contains(path, hint) {
			return RecoveryResult{Strategy: "navigation", Reason: "redirected to a login page", ShouldContinue: false}
		}
	}
	for _, hint := range errorPathHints {
		if strings.Contains(path, hint) {
			return RecoveryResult{Strategy: "navigation", Reason: "redirected to an error page", ShouldContinue: false}
		}
	}

	previous, err := url.Parse(previousURL)
	if err == nil && previous.Hostname() == current.Hostname() {
		if _, err := r.indexer.IndexPage(ctx, sess); err != nil {
			return RecoveryResult{Strategy: "navigation", Reason: "re-index after navigation failed", ShouldContinue: false}
		}
		r.logger.Debug("same-domain navigation absorbed",
			zap.String("from", previousURL),
			zap.String("to", currentURL))
		return RecoveryResult{Success: true, Strategy: "navigation", ShouldContinue: true}
	}
	return RecoveryResult{Strategy: "navigation", Reason: "page navigated to a different domain", ShouldContinue: false}
}

// HandleTimeout checks page liveness after a step timed out. A live but
// slow page waits for network idle and re-indexes; a dead page recommends
// a retry to the caller.
func (r *Recovery) HandleTimeout(ctx context.Context, sess *session.Session) RecoveryResult {
	if _, err := sess.Page.URL(ctx); err != nil {
		return RecoveryResult{Strategy: "timeout", Reason: "page is unresponsive, retry the step", ShouldContinue: false}
	}
	if err := sess.Page.WaitForNetworkIdle(ctx, 10*time.Second); err != nil {
		return RecoveryResult{Strategy: "timeout", Reason: "page never settled, retry the step", ShouldContinue: false}
	}
	if _, err := r.indexer.IndexPage(ctx, sess); err != nil {
		return RecoveryResult{Strategy: "timeout", Reason: "re-index after timeout failed", ShouldContinue: false}
	}
	return RecoveryResult{Success: true, Strategy: "timeout", ShouldContinue: true}
}
