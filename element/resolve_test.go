package element

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/siteflow/session"
	"github.com/BaSui01/siteflow/testutil"
	"github.com/BaSui01/siteflow/types"
)

func indexedPage(t *testing.T, els ...*testutil.FakeElement) (*testutil.FakePage, *session.Session, *Resolver, []types.ElementRef) {
	t.Helper()
	page := testutil.NewFakePage("https://example.com")
	page.SetElements(els...)
	_, sess := testutil.NewSession(t, page)
	ix := NewIndexer(Config{}, nil)
	resolver := NewResolver(ix, nil)
	refs, err := ix.IndexPage(context.Background(), sess)
	require.NoError(t, err)
	return page, sess, resolver, refs
}

func TestResolveTier1Marker(t *testing.T) {
	btn := testutil.NewFakeElement("button", "Save")
	_, sess, resolver, refs := indexedPage(t, btn)

	el, err := resolver.Resolve(context.Background(), sess, refs[0])
	require.NoError(t, err)
	require.NoError(t, el.Click(context.Background()))
	assert.Equal(t, 1, btn.Clicks, "tier 1 found the marked element")
}

func TestResolveTier2StableSelector(t *testing.T) {
	btn := testutil.NewFakeElement("button", "Save")
	btn.Attrs["id"] = "save-btn"
	_, sess, resolver, refs := indexedPage(t, btn)
	require.Equal(t, "#save-btn", refs[0].Selector)

	// Losing the marker forces tier 2.
	delete(btn.Attrs, MarkerAttr)
	el, err := resolver.Resolve(context.Background(), sess, refs[0])
	require.NoError(t, err)
	require.NoError(t, el.Click(context.Background()))
	assert.Equal(t, 1, btn.Clicks)
}

func TestResolveTier3TextMatch(t *testing.T) {
	btn := testutil.NewFakeElement("button", "Save changes")
	_, sess, resolver, refs := indexedPage(t, btn)
	require.Empty(t, refs[0].Selector)

	delete(btn.Attrs, MarkerAttr)
	el, err := resolver.Resolve(context.Background(), sess, refs[0])
	require.NoError(t, err)
	require.NoError(t, el.Click(context.Background()))
	assert.Equal(t, 1, btn.Clicks, "tier 3 matched tag and text signature")
}

func TestResolveStaleGenerationSkipsTier1(t *testing.T) {
	btn := testutil.NewFakeElement("button", "Save")
	_, sess, resolver, refs := indexedPage(t, btn)
	stale := refs[0]

	// A newer scan bumps the generation; the stale ref still resolves, but
	// through the re-index path, never by matching the old marker.
	ix := NewIndexer(Config{}, nil)
	_, err := ix.IndexPage(context.Background(), sess)
	require.NoError(t, err)
	require.NotEqual(t, stale.Generation, sess.Generation())

	el, err := resolver.Resolve(context.Background(), sess, stale)
	require.NoError(t, err)
	require.NotNil(t, el)
}

func TestResolveRetriesAfterReindexWhenSignatureUnchanged(t *testing.T) {
	btn := testutil.NewFakeElement("button", "Checkout now")
	page, sess, resolver, refs := indexedPage(t, btn)

	// Replace the element with a same-text twin and drop every hint the old
	// handle had, so tiers 1-3 all miss against the cached ref.
	twin := testutil.NewFakeElement("button", "Checkout now")
	page.SetElements(twin)
	ref := refs[0]
	ref.Tag = "div" // defeat tier 3 for the stale ref
	genBefore := sess.Generation()

	el, err := resolver.Resolve(context.Background(), sess, ref)
	require.NoError(t, err, "same index and signature after re-index resolves")
	require.NoError(t, el.Click(context.Background()))
	assert.Equal(t, 1, twin.Clicks)
	assert.Equal(t, genBefore+1, sess.Generation())
}

func TestResolveFailsWithIndexAndSignature(t *testing.T) {
	btn := testutil.NewFakeElement("button", "Buy tickets")
	page, sess, resolver, refs := indexedPage(t, btn)

	// The page now shows something entirely different.
	page.SetElements(testutil.NewFakeElement("button", "Sold out"))
	ref := refs[0]
	ref.Tag = "div"
	genBefore := sess.Generation()

	_, err := resolver.Resolve(context.Background(), sess, ref)
	require.Error(t, err)
	assert.Equal(t, genBefore+1, sess.Generation(), "exactly one re-index ran")
	assert.True(t, types.IsCode(err, types.ErrElementNotFound))
	assert.Contains(t, err.Error(), "Buy tickets", "the failure names the last-known signature")
	assert.Contains(t, err.Error(), "1", "the failure names the index")
}
