// Package siteflow assembles the site-access engine: a bounded pool of
// browser sessions, element indexing and resolution, an action executor
// with injection sanitizing, a workflow engine with bounded retry and
// recovery, per-site pattern learning, and per-user rate limiting.
package siteflow

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/siteflow/action"
	"github.com/BaSui01/siteflow/browser"
	"github.com/BaSui01/siteflow/config"
	"github.com/BaSui01/siteflow/element"
	"github.com/BaSui01/siteflow/metrics"
	"github.com/BaSui01/siteflow/pattern"
	"github.com/BaSui01/siteflow/ratelimit"
	"github.com/BaSui01/siteflow/security"
	"github.com/BaSui01/siteflow/session"
	"github.com/BaSui01/siteflow/types"
	"github.com/BaSui01/siteflow/workflow"
)

// RateLimiter gates user actions. The in-process limiter and the redis
// limiter both satisfy it.
type RateLimiter interface {
	Check(ctx context.Context, userID string) error
}

// memoryLimiter adapts the in-process limiter, whose Check needs no ctx.
type memoryLimiter struct{ l *ratelimit.Limiter }

func (m memoryLimiter) Check(ctx context.Context, userID string) error {
	return m.l.Check(userID)
}

// Engine is the assembled site-access engine.
type Engine struct {
	cfg       *config.Config
	logger    *zap.Logger
	driver    browser.Driver
	manager   *session.Manager
	indexer   *element.Indexer
	executor  *action.Executor
	engine    *workflow.Engine
	store     pattern.Store
	limiter   RateLimiter
	guard     *security.URLGuard
	collector *metrics.Collector
}

// Option customizes engine assembly.
type Option func(*Engine)

// WithLogger installs a logger. Default is a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithDriver replaces the default chromedp driver, mainly for tests.
func WithDriver(driver browser.Driver) Option {
	return func(e *Engine) { e.driver = driver }
}

// WithPatternStore replaces the configured pattern backend.
func WithPatternStore(store pattern.Store) Option {
	return func(e *Engine) { e.store = store }
}

// WithRateLimiter replaces the configured rate limiter.
func WithRateLimiter(limiter RateLimiter) Option {
	return func(e *Engine) { e.limiter = limiter }
}

// WithMetrics installs prometheus collectors. Default is none.
func WithMetrics(collector *metrics.Collector) Option {
	return func(e *Engine) { e.collector = collector }
}

// New assembles an engine from configuration. Driver initialization
// failures are fatal and propagate.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	e := &Engine{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}

	if e.driver == nil {
		driver, err := browser.NewChromeDriver(cfg.Browser, e.logger)
		if err != nil {
			return nil, err
		}
		e.driver = driver
	}
	if e.store == nil {
		store, err := buildStore(cfg, e.logger)
		if err != nil {
			return nil, err
		}
		e.store = store
	}
	if e.limiter == nil {
		e.limiter = memoryLimiter{ratelimit.New(cfg.RateLimit, e.logger)}
	}

	e.guard = security.NewURLGuard(cfg.URLGuard, e.logger)
	e.manager = session.NewManager(e.driver, cfg.Session, e.logger, e.collector)
	e.indexer = element.NewIndexer(cfg.Element, e.logger)
	resolver := element.NewResolver(e.indexer, e.logger)
	e.executor = action.NewExecutor(resolver, e.collector, e.logger)
	recovery := workflow.NewRecovery(e.indexer, resolver, e.collector, e.logger)
	e.engine = workflow.NewEngine(e.executor, e.indexer, recovery, e.guard, e.collector, e.logger)
	return e, nil
}

func buildStore(cfg *config.Config, logger *zap.Logger) (pattern.Store, error) {
	switch cfg.Pattern.Backend {
	case config.PatternFile:
		return pattern.NewFileStore(cfg.Pattern.Dir, logger)
	case config.PatternRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return pattern.NewRedisStore(client, logger), nil
	case config.PatternSQLite:
		return pattern.NewSQLiteStore(cfg.Pattern.Path, logger)
	default:
		return pattern.NewMemoryStore(logger), nil
	}
}

// WorkflowRequest describes one workflow run.
type WorkflowRequest struct {
	Steps []types.WorkflowStep
	// PageType labels the page for pattern learning; empty disables
	// learning for this run.
	PageType string
	// StopOnError stops at the first failed step without its own on_error
	// strategy.
	StopOnError bool
}

// RunWorkflow gates on the user's rate limit, acquires the user's session,
// executes the steps, and on success distills the run into a site pattern.
// Actions within one user's session are strictly sequential.
func (e *Engine) RunWorkflow(ctx context.Context, userID string, req WorkflowRequest) (*types.WorkflowResult, error) {
	if err := e.limiter.Check(ctx, userID); err != nil {
		e.collector.RateLimitRejected()
		return nil, err
	}
	if err := e.manager.Throttle(ctx); err != nil {
		return nil, err
	}
	sess, err := e.manager.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	sess.Lock()
	defer sess.Unlock()
	result := e.engine.Execute(ctx, sess, req.Steps, workflow.Options{StopOnError: req.StopOnError})
	sess.Touch(time.Now())

	if req.PageType != "" {
		e.learn(ctx, sess, req, result)
	}
	return result, nil
}

// learn persists the run as a pattern: new (domain, page type) pairs are
// saved on success, known ones only get their stats updated.
func (e *Engine) learn(ctx context.Context, sess *session.Session, req WorkflowRequest, result *types.WorkflowResult) {
	if result.FinalURL == "" {
		return
	}
	domain := types.NormalizeDomain(result.FinalURL)
	id := types.PatternID(domain, req.PageType)

	if err := e.store.UpdateStats(ctx, id, result.Success, result.Duration); err == nil {
		return
	} else if !types.IsCode(err, types.ErrPatternNotFound) {
		e.logger.Warn("pattern stats update failed", zap.String("pattern_id", id), zap.Error(err))
		return
	}
	if !result.Success {
		return
	}
	p := pattern.Distill(domain, req.PageType, req.Steps, sess.Elements())
	p.RecordUse(true, time.Now())
	if err := e.store.Save(ctx, p); err != nil {
		e.logger.Warn("pattern save failed", zap.String("pattern_id", id), zap.Error(err))
		return
	}
	e.collector.PatternLearned()
	e.logger.Info("pattern learned",
		zap.String("pattern_id", p.ID),
		zap.String("domain", p.Domain),
		zap.String("page_type", p.PageType))
}

// IndexPage scans the user's current page and returns the indexed elements.
func (e *Engine) IndexPage(ctx context.Context, userID string) ([]types.ElementRef, error) {
	sess, err := e.manager.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	sess.Lock()
	defer sess.Unlock()
	return e.indexer.IndexPage(ctx, sess)
}

// Patterns exposes the pattern store for inspection, export, and import.
func (e *Engine) Patterns() pattern.Store { return e.store }

// Sessions exposes the session manager for listing, pause, and close.
func (e *Engine) Sessions() *session.Manager { return e.manager }

// CloseSession releases the user's session.
func (e *Engine) CloseSession(userID string) bool {
	return e.manager.CloseSession(userID)
}

// Shutdown drains all sessions, the driver, and the pattern store.
func (e *Engine) Shutdown(ctx context.Context) error {
	err := e.manager.Shutdown(ctx)
	if cerr := e.store.Close(); err == nil {
		err = cerr
	}
	return err
}
