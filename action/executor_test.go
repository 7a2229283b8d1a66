package action

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/siteflow/element"
	"github.com/BaSui01/siteflow/session"
	"github.com/BaSui01/siteflow/testutil"
	"github.com/BaSui01/siteflow/types"
)

func newExecutor(t *testing.T, els ...*testutil.FakeElement) (*Executor, *testutil.FakePage, *session.Session) {
	t.Helper()
	page := testutil.NewFakePage("https://example.com")
	page.SetElements(els...)
	_, sess := testutil.NewSession(t, page)
	ix := element.NewIndexer(element.Config{}, nil)
	_, err := ix.IndexPage(context.Background(), sess)
	require.NoError(t, err)
	return NewExecutor(element.NewResolver(ix, nil), nil, nil), page, sess
}

func TestClick(t *testing.T) {
	btn := testutil.NewFakeElement("button", "Save")
	exec, _, sess := newExecutor(t, btn)

	res := exec.Click(context.Background(), sess, 1)
	assert.True(t, res.Success)
	assert.Equal(t, types.ActionClick, res.Action)
	assert.Equal(t, 1, btn.Clicks)
	assert.GreaterOrEqual(t, res.Duration, time.Duration(0))
}

func TestClickFailureNeverEscapes(t *testing.T) {
	btn := testutil.NewFakeElement("button", "Save")
	btn.ClickErr = errors.New("detached node")
	exec, _, sess := newExecutor(t, btn)

	res := exec.Click(context.Background(), sess, 1)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "detached node")
	assert.Equal(t, 1, res.Element)
}

func TestClickUnknownIndex(t *testing.T) {
	exec, _, sess := newExecutor(t, testutil.NewFakeElement("button", "Save"))
	res := exec.Click(context.Background(), sess, 99)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "99")
}

func TestTypeTextSanitizes(t *testing.T) {
	input := testutil.NewFakeElement("input", "")
	input.Attrs["placeholder"] = "Search"
	exec, _, sess := newExecutor(t, input)

	res := exec.TypeText(context.Background(), sess, 1, "<script>x</script>laptops", false)
	require.True(t, res.Success)
	require.Len(t, input.Typed, 1)
	assert.Equal(t, "laptops", input.Typed[0], "payload reaches the page sanitized")
}

func TestSelectOption(t *testing.T) {
	sel := testutil.NewFakeElement("select", "Country")
	exec, _, sess := newExecutor(t, sel)

	res := exec.SelectOption(context.Background(), sess, 1, "Iceland", false)
	require.True(t, res.Success)
	assert.Equal(t, []string{"Iceland"}, sel.Selected)
}

func TestNavigateAndScroll(t *testing.T) {
	exec, page, sess := newExecutor(t, testutil.NewFakeElement("a", "Home"))

	res := exec.Navigate(context.Background(), sess, "https://example.com/next")
	require.True(t, res.Success)
	assert.True(t, res.Navigated)
	assert.Equal(t, "https://example.com/next", res.URL)
	assert.Equal(t, []string{"https://example.com/next"}, page.Gotos)

	res = exec.Scroll(context.Background(), sess, 0, 600)
	require.True(t, res.Success)
	assert.Equal(t, [2]int{0, 600}, page.Scrolls[0])
}

func TestExtractElement(t *testing.T) {
	link := testutil.NewFakeElement("a", "  Read more  ")
	link.Attrs["href"] = "/article/42"
	exec, _, sess := newExecutor(t, link)

	res := exec.Extract(context.Background(), sess, 1)
	require.True(t, res.Success)

	var got extractedElement
	require.NoError(t, json.Unmarshal(res.Extracted, &got))
	assert.Equal(t, "Read more", got.Text)
	assert.Equal(t, "a", got.Tag)
	assert.Equal(t, "/article/42", got.Href)
}

func TestExtractPage(t *testing.T) {
	exec, page, sess := newExecutor(t, testutil.NewFakeElement("a", "Home"))
	page.PageTitle = "Example Site"

	res := exec.Extract(context.Background(), sess, 0)
	require.True(t, res.Success)
	var got map[string]string
	require.NoError(t, json.Unmarshal(res.Extracted, &got))
	assert.Equal(t, "Example Site", got["title"])
	assert.Equal(t, "https://example.com", got["url"])
}

func TestSubmitWaitsForNavigation(t *testing.T) {
	btn := testutil.NewFakeElement("button", "Submit order")
	exec, page, sess := newExecutor(t, btn)

	res := exec.Submit(context.Background(), sess, 1, time.Second)
	require.True(t, res.Success)
	assert.True(t, res.Navigated)
	assert.Equal(t, 1, btn.Clicks)

	page.NavWaitErr = errors.New("timeout waiting for navigation")
	res = exec.Submit(context.Background(), sess, 1, time.Second)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "timeout")
}

func TestWaitConditions(t *testing.T) {
	exec, page, sess := newExecutor(t, testutil.NewFakeElement("a", "Home"))

	res := exec.Wait(context.Background(), sess, types.WaitNetworkIdle, "", time.Second)
	assert.True(t, res.Success)

	page.IdleWaitErr = errors.New("still loading")
	res = exec.Wait(context.Background(), sess, types.WaitNetworkIdle, "", time.Second)
	assert.False(t, res.Success)

	res = exec.Wait(context.Background(), sess, types.WaitDelay, "", 10*time.Millisecond)
	assert.True(t, res.Success)
}
