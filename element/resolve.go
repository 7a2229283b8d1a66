package element

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/siteflow/browser"
	"github.com/BaSui01/siteflow/session"
	"github.com/BaSui01/siteflow/types"
)

// Resolver turns an indexed reference back into a live handle. Three tiers
// run in strict order: injected marker, captured stable selector, tag plus
// truncated text. Only when all three miss does it re-index the page, and
// concurrent misses on the same session share a single re-index.
type Resolver struct {
	indexer *Indexer
	logger  *zap.Logger
	reindex singleflight.Group
}

// NewResolver creates a resolver over the given indexer.
func NewResolver(indexer *Indexer, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		indexer: indexer,
		logger:  logger.With(zap.String("component", "element_resolver")),
	}
}

// Resolve locates the element a reference points at. A nil error guarantees
// a visible live handle.
func (r *Resolver) Resolve(ctx context.Context, sess *session.Session, ref types.ElementRef) (browser.Element, error) {
	if el := r.tryTiers(ctx, sess, ref); el != nil {
		return el, nil
	}

	// All tiers missed: re-index once, shared across concurrent resolves on
	// this session, then retry the marker tier if the element at the same
	// index still carries the same text signature.
	_, err, _ := r.reindex.Do(sess.ID, func() (any, error) {
		_, err := r.indexer.IndexPage(ctx, sess)
		return nil, err
	})
	if err != nil {
		return nil, err
	}

	fresh, ok := sess.Element(ref.Index)
	if ok && fresh.Signature == ref.Signature {
		if el := r.tryMarker(ctx, sess, fresh); el != nil {
			return el, nil
		}
	}
	return nil, types.NewError(types.ErrElementNotFound,
		fmt.Sprintf("element %d (%q) not found on page", ref.Index, ref.Signature))
}

// TryResolve runs only the three lookup tiers, returning nil on a miss
// without re-indexing. Recovery strategies use it to probe cheaply.
func (r *Resolver) TryResolve(ctx context.Context, sess *session.Session, ref types.ElementRef) browser.Element {
	return r.tryTiers(ctx, sess, ref)
}

func (r *Resolver) tryTiers(ctx context.Context, sess *session.Session, ref types.ElementRef) browser.Element {
	if el := r.tryMarker(ctx, sess, ref); el != nil {
		return el
	}
	if el := r.trySelector(ctx, sess, ref); el != nil {
		return el
	}
	return r.tryText(ctx, sess, ref)
}

// tryMarker is tier 1: the injected marker attribute. Markers carry the
// scan generation, so a reference from a stale scan never matches.
func (r *Resolver) tryMarker(ctx context.Context, sess *session.Session, ref types.ElementRef) browser.Element {
	if ref.Generation != sess.Generation() {
		return nil
	}
	sel := fmt.Sprintf(`[%s="%d-%d"]`, MarkerAttr, ref.Generation, ref.Index)
	return r.firstVisible(ctx, sess.Page, sel)
}

// trySelector is tier 2: the id or test-id selector captured at scan time.
func (r *Resolver) trySelector(ctx context.Context, sess *session.Session, ref types.ElementRef) browser.Element {
	if ref.Selector == "" {
		return nil
	}
	return r.firstVisible(ctx, sess.Page, ref.Selector)
}

// tryText is tier 3: same tag, same truncated text signature.
func (r *Resolver) tryText(ctx context.Context, sess *session.Session, ref types.ElementRef) browser.Element {
	if ref.Tag == "" || ref.Signature == "" {
		return nil
	}
	els, err := sess.Page.QueryAll(ctx, ref.Tag)
	if err != nil {
		return nil
	}
	for _, el := range els {
		text, err := el.TextContent(ctx)
		if err != nil {
			continue
		}
		if types.TruncateSignature(strings.TrimSpace(text)) != ref.Signature {
			continue
		}
		if visible, err := el.IsVisible(ctx); err == nil && visible {
			return el
		}
	}
	return nil
}

func (r *Resolver) firstVisible(ctx context.Context, page browser.Page, selector string) browser.Element {
	els, err := page.QueryAll(ctx, selector)
	if err != nil || len(els) == 0 {
		return nil
	}
	for _, el := range els {
		if visible, err := el.IsVisible(ctx); err == nil && visible {
			return el
		}
	}
	return nil
}
