// Package pattern persists learned site-interaction recipes. Every backend
// honors the same contract: deterministic ids derived from (domain, page
// type), strict identifier validation before any storage access, and a
// rolling success rate updated on every recorded use.
package pattern

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/siteflow/types"
)

// idPattern is the allow-list every backend checks before touching storage.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateID rejects any pattern id outside the allow-list. Backends call
// this before any storage access, so traversal payloads never reach a path
// or key construction.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return types.NewError(types.ErrSecurityViolation, "invalid pattern id")
	}
	return nil
}

// Store is the persistence contract for site patterns.
type Store interface {
	// Get returns the pattern for (domain, pageType), or PATTERN_NOT_FOUND.
	Get(ctx context.Context, domain, pageType string) (*types.SitePattern, error)
	// Save upserts a pattern. ID, Domain, and timestamps are filled in.
	Save(ctx context.Context, p *types.SitePattern) error
	// UpdateStats folds one use outcome into the pattern's rolling rate.
	UpdateStats(ctx context.Context, patternID string, success bool, duration time.Duration) error
	// List returns patterns for a domain, or all when domain is empty.
	List(ctx context.Context, domain string) ([]*types.SitePattern, error)
	// Delete removes the pattern for (domain, pageType). Missing is not an error.
	Delete(ctx context.Context, domain, pageType string) error
	// Export serializes every pattern as a JSON array.
	Export(ctx context.Context) ([]byte, error)
	// Import merges patterns from an Export blob, returning the count loaded.
	Import(ctx context.Context, data []byte) (int, error)
	// Close releases backend resources.
	Close() error
}

// prepare normalizes and stamps a pattern before a save.
func prepare(p *types.SitePattern, now time.Time) error {
	p.Domain = types.NormalizeDomain(p.Domain)
	if p.Domain == "" || p.PageType == "" {
		return types.NewError(types.ErrInvalidStep, "pattern requires domain and page type")
	}
	p.ID = types.PatternID(p.Domain, p.PageType)
	if err := ValidateID(p.ID); err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	return nil
}

func notFound() error {
	return types.NewError(types.ErrPatternNotFound, "no pattern for this site")
}

// MemoryStore is the default in-process backend.
type MemoryStore struct {
	mu       sync.RWMutex
	patterns map[string]*types.SitePattern
	logger   *zap.Logger
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		patterns: make(map[string]*types.SitePattern),
		logger:   logger.With(zap.String("component", "pattern_store")),
		now:      time.Now,
	}
}

// WithNow swaps the clock, for tests.
func (s *MemoryStore) WithNow(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func clonePattern(p *types.SitePattern) *types.SitePattern {
	c := *p
	if p.Elements != nil {
		c.Elements = make(map[string]string, len(p.Elements))
		for k, v := range p.Elements {
			c.Elements[k] = v
		}
	}
	if p.FormFields != nil {
		c.FormFields = make(map[string]int, len(p.FormFields))
		for k, v := range p.FormFields {
			c.FormFields[k] = v
		}
	}
	if p.Flows != nil {
		c.Flows = make(map[string][]types.WorkflowStep, len(p.Flows))
		for k, v := range p.Flows {
			steps := make([]types.WorkflowStep, len(v))
			copy(steps, v)
			c.Flows[k] = steps
		}
	}
	return &c
}

func (s *MemoryStore) Get(ctx context.Context, domain, pageType string) (*types.SitePattern, error) {
	id := types.PatternID(domain, pageType)
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patterns[id]
	if !ok {
		return nil, notFound()
	}
	return clonePattern(p), nil
}

func (s *MemoryStore) Save(ctx context.Context, p *types.SitePattern) error {
	stored := clonePattern(p)
	if err := prepare(stored, s.now()); err != nil {
		return err
	}
	s.mu.Lock()
	s.patterns[stored.ID] = stored
	s.mu.Unlock()
	p.ID = stored.ID
	p.Domain = stored.Domain
	s.logger.Debug("pattern saved",
		zap.String("pattern_id", stored.ID),
		zap.String("domain", stored.Domain),
		zap.String("page_type", stored.PageType))
	return nil
}

func (s *MemoryStore) UpdateStats(ctx context.Context, patternID string, success bool, duration time.Duration) error {
	if err := ValidateID(patternID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patterns[patternID]
	if !ok {
		return notFound()
	}
	p.RecordUse(success, s.now())
	return nil
}

func (s *MemoryStore) List(ctx context.Context, domain string) ([]*types.SitePattern, error) {
	domain = types.NormalizeDomain(domain)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.SitePattern
	for _, p := range s.patterns {
		if domain != "" && p.Domain != domain {
			continue
		}
		out = append(out, clonePattern(p))
	}
	sortPatterns(out)
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, domain, pageType string) error {
	id := types.PatternID(domain, pageType)
	if err := ValidateID(id); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.patterns, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Export(ctx context.Context) ([]byte, error) {
	all, err := s.List(ctx, "")
	if err != nil {
		return nil, err
	}
	return json.Marshal(all)
}

func (s *MemoryStore) Import(ctx context.Context, data []byte) (int, error) {
	patterns, err := decodeExport(data)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, p := range patterns {
		if err := s.Save(ctx, p); err != nil {
			s.logger.Warn("pattern import entry skipped", zap.Error(err))
			continue
		}
		count++
	}
	return count, nil
}

func (s *MemoryStore) Close() error { return nil }

// decodeExport parses an Export blob, shared by every backend's Import.
func decodeExport(data []byte) ([]*types.SitePattern, error) {
	var patterns []*types.SitePattern
	if err := json.Unmarshal(data, &patterns); err != nil {
		return nil, types.NewError(types.ErrInvalidStep, "malformed pattern export").WithCause(err)
	}
	return patterns, nil
}

// sortPatterns orders List output for stable pagination and tests.
func sortPatterns(patterns []*types.SitePattern) {
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Domain != patterns[j].Domain {
			return patterns[i].Domain < patterns[j].Domain
		}
		return patterns[i].PageType < patterns[j].PageType
	})
}
