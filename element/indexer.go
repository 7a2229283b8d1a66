// Package element scans pages for actionable elements, scores and indexes
// them, and resolves previously indexed references back to live handles
// after the DOM has shifted.
package element

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/siteflow/browser"
	"github.com/BaSui01/siteflow/session"
	"github.com/BaSui01/siteflow/types"
)

// MarkerAttr is the attribute written into the page for each indexed
// element. Its value is "<generation>-<index>", so markers from an older
// scan never match a newer reference.
const MarkerAttr = "data-sf-el"

// interactiveSelector enumerates every tag the indexer considers actionable.
const interactiveSelector = "a[href], button, input, select, textarea, " +
	"[role=button], [role=link], [role=checkbox], [role=menuitem], [role=tab], " +
	"[tabindex], [onclick]"

const (
	// DefaultMaxElements caps how many elements one scan indexes.
	DefaultMaxElements = 30
	minBoxSize         = 10
)

// Tag base scores: form inputs over buttons over links.
var tagScores = map[string]int{
	"input":    30,
	"select":   30,
	"textarea": 30,
	"button":   20,
	"a":        10,
}

var highPriorityWords = []string{
	"add", "save", "submit", "search", "next", "continue", "confirm",
	"apply", "login", "sign", "book", "buy", "checkout",
}

var mediumPriorityWords = []string{
	"edit", "view", "select", "more", "details", "open", "show",
	"filter", "sort",
}

// Config configures the indexer.
type Config struct {
	// MaxElements caps elements per scan. Default 30.
	MaxElements int `json:"max_elements" yaml:"max_elements"`
	// ShowBadges renders a small numeric overlay per indexed element, for
	// watching a non-headless run. Off by default.
	ShowBadges bool `json:"show_badges" yaml:"show_badges"`
}

// Indexer scans and scores page elements.
type Indexer struct {
	config Config
	logger *zap.Logger
}

// NewIndexer creates an indexer.
func NewIndexer(config Config, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxElements <= 0 {
		config.MaxElements = DefaultMaxElements
	}
	return &Indexer{
		config: config,
		logger: logger.With(zap.String("component", "element_indexer")),
	}
}

// candidate pairs a live handle with its extracted facts during one scan.
type candidate struct {
	el        browser.Element
	tag       string
	signature string
	selector  string
	box       *types.BoundingBox
	score     int
	order     int // document order, the sort tiebreaker
}

// IndexPage scans the session's page, replaces its element cache, and
// returns the indexed references in rank order. The cache generation is
// bumped so references from earlier scans can no longer resolve directly.
func (ix *Indexer) IndexPage(ctx context.Context, sess *session.Session) ([]types.ElementRef, error) {
	els, err := sess.Page.QueryAll(ctx, interactiveSelector)
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "page scan failed").WithCause(err)
	}

	candidates := make([]candidate, 0, len(els))
	for order, el := range els {
		c, ok := ix.examine(ctx, el, order)
		if !ok {
			continue
		}
		candidates = append(candidates, c)
	}

	// Stable rank: score descending, document order breaks ties.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].order < candidates[j].order
	})
	if len(candidates) > ix.config.MaxElements {
		candidates = candidates[:ix.config.MaxElements]
	}

	refs := make([]types.ElementRef, 0, len(candidates))
	for i, c := range candidates {
		refs = append(refs, types.ElementRef{
			Index:     i + 1,
			Tag:       c.tag,
			Signature: c.signature,
			Selector:  c.selector,
			Box:       c.box,
			Score:     c.score,
		})
	}
	generation := sess.ReplaceElements(refs)
	for i := range refs {
		refs[i].Generation = generation
	}

	// Write markers after the cache swap so marker values carry the new
	// generation.
	for i, c := range candidates {
		marker := fmt.Sprintf("%d-%d", generation, refs[i].Index)
		if err := c.el.SetAttribute(ctx, MarkerAttr, marker); err != nil {
			ix.logger.Debug("marker write failed",
				zap.Int("index", refs[i].Index),
				zap.Error(err))
		}
	}
	if ix.config.ShowBadges {
		ix.renderBadges(ctx, sess.Page, generation)
	}

	ix.logger.Debug("page indexed",
		zap.String("session_id", sess.ID),
		zap.Uint64("generation", generation),
		zap.Int("scanned", len(els)),
		zap.Int("indexed", len(refs)))
	return refs, nil
}

// examine filters one element and computes its score and signature.
func (ix *Indexer) examine(ctx context.Context, el browser.Element, order int) (candidate, bool) {
	visible, err := el.IsVisible(ctx)
	if err != nil || !visible {
		return candidate{}, false
	}
	enabled, err := el.IsEnabled(ctx)
	if err != nil || !enabled {
		return candidate{}, false
	}
	box, err := el.BoundingBox(ctx)
	if err != nil || box == nil || box.Width < minBoxSize || box.Height < minBoxSize {
		return candidate{}, false
	}
	tag, err := el.TagName(ctx)
	if err != nil {
		return candidate{}, false
	}
	tag = strings.ToLower(tag)

	text, _ := el.TextContent(ctx)
	placeholder, _ := el.Attribute(ctx, "placeholder")
	ariaLabel, _ := el.Attribute(ctx, "aria-label")
	value, _ := el.Attribute(ctx, "value")
	combined := strings.Join([]string{text, placeholder, ariaLabel, value}, " ")

	signature := types.TruncateSignature(firstNonEmpty(text, placeholder, ariaLabel, value))

	return candidate{
		el:        el,
		tag:       tag,
		signature: signature,
		selector:  stableSelector(ctx, el),
		box:       box,
		score:     scoreElement(tag, combined),
		order:     order,
	}, true
}

// scoreElement combines the tag base score with keyword bonuses from the
// element's visible text, placeholder, and aria-label.
func scoreElement(tag, combinedText string) int {
	score := tagScores[tag]
	lower := strings.ToLower(combinedText)
	for _, w := range highPriorityWords {
		if strings.Contains(lower, w) {
			score += 15
			break
		}
	}
	for _, w := range mediumPriorityWords {
		if strings.Contains(lower, w) {
			score += 7
			break
		}
	}
	return score
}

// stableSelector captures an id or test-id selector when the element has
// one, for tier-2 resolution. Empty when neither exists.
func stableSelector(ctx context.Context, el browser.Element) string {
	if id, err := el.Attribute(ctx, "id"); err == nil && id != "" && !strings.ContainsAny(id, " \"'\\") {
		return "#" + id
	}
	for _, attr := range []string{"data-testid", "data-test-id", "data-qa"} {
		if v, err := el.Attribute(ctx, attr); err == nil && v != "" && !strings.ContainsAny(v, "\"\\") {
			return fmt.Sprintf("[%s=%q]", attr, v)
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// renderBadges paints a numeric overlay next to each marked element.
// Failures are ignored, the overlay is purely for human observability.
func (ix *Indexer) renderBadges(ctx context.Context, page browser.Page, generation uint64) {
	script := fmt.Sprintf(`(() => {
	document.querySelectorAll('.sf-badge').forEach(b => b.remove());
	document.querySelectorAll('[%[1]s^="%[2]d-"]').forEach(el => {
		const idx = el.getAttribute('%[1]s').split('-')[1];
		const r = el.getBoundingClientRect();
		const b = document.createElement('div');
		b.className = 'sf-badge';
		b.textContent = idx;
		b.style.cssText = 'position:fixed;z-index:2147483647;background:#1a73e8;' +
			'color:#fff;font:10px monospace;padding:1px 3px;border-radius:2px;' +
			'pointer-events:none;left:' + r.left + 'px;top:' + (r.top - 12) + 'px';
		document.body.appendChild(b);
	});
	return true;
})()`, MarkerAttr, generation)
	if err := page.Evaluate(ctx, script, nil); err != nil {
		ix.logger.Debug("badge overlay failed", zap.Error(err))
	}
}
