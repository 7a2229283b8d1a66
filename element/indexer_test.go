package element

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/siteflow/testutil"
	"github.com/BaSui01/siteflow/types"
)

func TestIndexPageFiltersAndScores(t *testing.T) {
	page := testutil.NewFakePage("https://example.com")

	searchBox := testutil.NewFakeElement("input", "")
	searchBox.Attrs["placeholder"] = "Search products"
	submit := testutil.NewFakeElement("button", "Submit order")
	link := testutil.NewFakeElement("a", "View details")
	hidden := testutil.NewFakeElement("button", "Hidden submit")
	hidden.Visible = false
	disabled := testutil.NewFakeElement("input", "Disabled")
	disabled.Enabled = false
	tiny := testutil.NewFakeElement("button", "Tiny submit")
	tiny.Box = &types.BoundingBox{Width: 5, Height: 5}
	page.SetElements(searchBox, submit, link, hidden, disabled, tiny)

	_, sess := testutil.NewSession(t, page)
	ix := NewIndexer(Config{}, nil)

	refs, err := ix.IndexPage(context.Background(), sess)
	require.NoError(t, err)
	require.Len(t, refs, 3, "hidden, disabled, and tiny elements are filtered out")

	// input(30)+search(15)=45, button(20)+submit(15)=35, link(10)+view(7)=17.
	assert.Equal(t, "input", refs[0].Tag)
	assert.Equal(t, 45, refs[0].Score)
	assert.Equal(t, 1, refs[0].Index)
	assert.Equal(t, "button", refs[1].Tag)
	assert.Equal(t, 35, refs[1].Score)
	assert.Equal(t, "a", refs[2].Tag)
	assert.Equal(t, 17, refs[2].Score)

	assert.Equal(t, "Search products", refs[0].Signature, "placeholder backs an empty text")
}

func TestIndexPageWritesGenerationMarkers(t *testing.T) {
	page := testutil.NewFakePage("https://example.com")
	btn := testutil.NewFakeElement("button", "Save")
	page.SetElements(btn)

	_, sess := testutil.NewSession(t, page)
	ix := NewIndexer(Config{}, nil)

	refs, err := ix.IndexPage(context.Background(), sess)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	gen := sess.Generation()
	assert.Equal(t, gen, refs[0].Generation)
	assert.Equal(t, fmt.Sprintf("%d-1", gen), btn.Attrs[MarkerAttr])

	// A second scan bumps the generation and rewrites the marker.
	refs2, err := ix.IndexPage(context.Background(), sess)
	require.NoError(t, err)
	assert.Equal(t, gen+1, refs2[0].Generation)
	assert.Equal(t, fmt.Sprintf("%d-1", gen+1), btn.Attrs[MarkerAttr])
}

func TestIndexPageCapsElementCount(t *testing.T) {
	page := testutil.NewFakePage("https://example.com")
	var els []*testutil.FakeElement
	for i := 0; i < 50; i++ {
		els = append(els, testutil.NewFakeElement("a", fmt.Sprintf("Link %d", i)))
	}
	page.SetElements(els...)

	_, sess := testutil.NewSession(t, page)
	ix := NewIndexer(Config{MaxElements: 30}, nil)

	refs, err := ix.IndexPage(context.Background(), sess)
	require.NoError(t, err)
	assert.Len(t, refs, 30)
	assert.Equal(t, 1, refs[0].Index)
	assert.Equal(t, 30, refs[29].Index)
}

func TestIndexPageReplacesSessionCache(t *testing.T) {
	page := testutil.NewFakePage("https://example.com")
	page.SetElements(testutil.NewFakeElement("button", "One"), testutil.NewFakeElement("button", "Two"))

	_, sess := testutil.NewSession(t, page)
	ix := NewIndexer(Config{}, nil)
	_, err := ix.IndexPage(context.Background(), sess)
	require.NoError(t, err)
	require.Len(t, sess.Elements(), 2)

	page.SetElements(testutil.NewFakeElement("button", "Only"))
	_, err = ix.IndexPage(context.Background(), sess)
	require.NoError(t, err)
	require.Len(t, sess.Elements(), 1)
	ref, ok := sess.Element(1)
	require.True(t, ok)
	assert.Equal(t, "Only", ref.Signature)
}

func TestStableSelectorPrefersID(t *testing.T) {
	page := testutil.NewFakePage("https://example.com")
	withID := testutil.NewFakeElement("button", "Save")
	withID.Attrs["id"] = "save-btn"
	withTestID := testutil.NewFakeElement("button", "Cancel")
	withTestID.Attrs["data-testid"] = "cancel"
	bare := testutil.NewFakeElement("button", "Other")
	page.SetElements(withID, withTestID, bare)

	_, sess := testutil.NewSession(t, page)
	ix := NewIndexer(Config{}, nil)
	refs, err := ix.IndexPage(context.Background(), sess)
	require.NoError(t, err)
	require.Len(t, refs, 3)

	bySig := map[string]types.ElementRef{}
	for _, r := range refs {
		bySig[r.Signature] = r
	}
	assert.Equal(t, "#save-btn", bySig["Save"].Selector)
	assert.Equal(t, `[data-testid="cancel"]`, bySig["Cancel"].Selector)
	assert.Empty(t, bySig["Other"].Selector)
}
