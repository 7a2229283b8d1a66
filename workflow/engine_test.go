package workflow

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/siteflow/action"
	"github.com/BaSui01/siteflow/element"
	"github.com/BaSui01/siteflow/security"
	"github.com/BaSui01/siteflow/session"
	"github.com/BaSui01/siteflow/testutil"
	"github.com/BaSui01/siteflow/types"
)

// publicResolver answers every host with one public address, so engine
// tests never perform DNS.
type publicResolver struct{}

func (publicResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	return []net.IPAddr{{IP: net.ParseIP("93.184.216.34")}}, nil
}

func newEngine(t *testing.T, page *testutil.FakePage) (*Engine, *session.Session, *[]time.Duration) {
	t.Helper()
	_, sess := testutil.NewSession(t, page)
	ix := element.NewIndexer(element.Config{}, nil)
	resolver := element.NewResolver(ix, nil)
	exec := action.NewExecutor(resolver, nil, nil)
	rec := NewRecovery(ix, resolver, nil, nil)
	guard := security.NewURLGuard(security.DefaultURLGuardConfig(), nil).WithResolver(publicResolver{})

	var delays []time.Duration
	e := NewEngine(exec, ix, rec, guard, nil, nil).WithSleep(recordingSleep(&delays))

	_, err := ix.IndexPage(context.Background(), sess)
	require.NoError(t, err)
	return e, sess, &delays
}

func TestExecuteThreeStepWorkflow(t *testing.T) {
	searchBox := testutil.NewFakeElement("input", "")
	searchBox.Attrs["placeholder"] = "Search products"
	submit := testutil.NewFakeElement("button", "Search")
	result := testutil.NewFakeElement("a", "First result")
	page := testutil.NewFakePage("https://shop.example.com")
	page.SetElements(searchBox, submit, result)
	e, sess, _ := newEngine(t, page)

	bySig := map[string]int{}
	for i, ref := range sess.Elements() {
		bySig[ref.Signature] = i
	}

	steps := []types.WorkflowStep{
		{Name: "search", Action: types.ActionType, Target: bySig["Search products"], Value: "boots"},
		{Name: "go", Action: types.ActionClick, Target: bySig["Search"]},
		{Name: "grab", Action: types.ActionExtract, Target: bySig["First result"]},
	}
	res := e.Execute(context.Background(), sess, steps, Options{StopOnError: true})

	require.True(t, res.Success)
	assert.Equal(t, 3, res.StepsCompleted)
	assert.Equal(t, 3, res.StepsTotal)
	assert.Len(t, res.StepResults, 3)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, "https://shop.example.com", res.FinalURL)
	assert.Contains(t, res.Extracted, "grab")
	assert.Equal(t, []string{"boots"}, searchBox.Typed)
	assert.Equal(t, 1, submit.Clicks)
}

func TestStepRetryUsesBackoffSchedule(t *testing.T) {
	btn := testutil.NewFakeElement("button", "Flaky save")
	page := testutil.NewFakePage("https://example.com")
	page.SetElements(btn)
	e, sess, delays := newEngine(t, page)

	attempts := 0
	btn.ClickFunc = func() error {
		attempts++
		return errTransient
	}

	steps := []types.WorkflowStep{{
		Action: types.ActionClick, Target: 1, OnError: types.OnErrorRetry, MaxRetries: 10,
	}}
	res := e.Execute(context.Background(), sess, steps, Options{StopOnError: true})

	assert.False(t, res.Success)
	assert.Equal(t, 1, res.ErrorStep)
	assert.Equal(t, 4, attempts, "1 initial attempt + 3 capped retries")
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second, 5 * time.Second}, *delays)
}

var errTransient = errors.New("transient click failure")

func TestRecoverySubstitutesAlternativeTarget(t *testing.T) {
	primary := testutil.NewFakeElement("button", "Continue")
	fallback := testutil.NewFakeElement("button", "Continue anyway")
	page := testutil.NewFakePage("https://example.com")
	page.SetElements(primary, fallback)
	e, sess, _ := newEngine(t, page)

	var fallbackIdx int
	for i, ref := range sess.Elements() {
		if ref.Signature == "Continue anyway" {
			fallbackIdx = i
		}
	}

	steps := []types.WorkflowStep{{
		Action:       types.ActionClick,
		Target:       99, // never indexed
		OnError:      types.OnErrorRetry,
		MaxRetries:   1,
		Alternatives: []int{fallbackIdx},
	}}
	res := e.Execute(context.Background(), sess, steps, Options{StopOnError: true})

	require.True(t, res.Success, "recovery substituted the alternative: %s", res.ErrorMessage)
	assert.Equal(t, 1, fallback.Clicks)
	assert.Equal(t, 0, primary.Clicks)
}

func TestNavigateStepIsGuarded(t *testing.T) {
	page := testutil.NewFakePage("https://example.com")
	page.SetElements(testutil.NewFakeElement("a", "Home"))
	e, sess, _ := newEngine(t, page)

	steps := []types.WorkflowStep{{Action: types.ActionNavigate, URL: "http://169.254.169.254/latest/meta-data/"}}
	res := e.Execute(context.Background(), sess, steps, Options{StopOnError: true})

	assert.False(t, res.Success)
	require.Len(t, res.StepResults, 1)
	assert.Equal(t, "navigation to this address is not allowed", res.StepResults[0].Error,
		"the internal block reason never reaches the caller")
	assert.Empty(t, page.Gotos, "the page load is never issued")
}

func TestNavigateStepAllowsPublicURL(t *testing.T) {
	page := testutil.NewFakePage("https://example.com")
	page.SetElements(testutil.NewFakeElement("a", "Home"))
	e, sess, _ := newEngine(t, page)

	steps := []types.WorkflowStep{{Action: types.ActionNavigate, URL: "https://other.example.com/page"}}
	res := e.Execute(context.Background(), sess, steps, Options{StopOnError: true})

	require.True(t, res.Success)
	assert.Equal(t, []string{"https://other.example.com/page"}, page.Gotos)
}

func TestOnErrorSkipContinues(t *testing.T) {
	ok := testutil.NewFakeElement("button", "Works")
	page := testutil.NewFakePage("https://example.com")
	page.SetElements(ok)
	e, sess, _ := newEngine(t, page)

	steps := []types.WorkflowStep{
		{Action: types.ActionClick, Target: 42, OnError: types.OnErrorSkip},
		{Action: types.ActionClick, Target: 1},
	}
	res := e.Execute(context.Background(), sess, steps, Options{StopOnError: true})

	assert.False(t, res.Success, "a skipped failure still fails the workflow verdict")
	assert.Equal(t, 1, res.StepsCompleted)
	assert.Len(t, res.StepResults, 2)
	assert.Equal(t, 1, ok.Clicks, "the step after the skip ran")
}

func TestOnErrorAbortStopsImmediately(t *testing.T) {
	never := testutil.NewFakeElement("button", "Never clicked")
	page := testutil.NewFakePage("https://example.com")
	page.SetElements(never)
	e, sess, _ := newEngine(t, page)

	steps := []types.WorkflowStep{
		{Action: types.ActionClick, Target: 42, OnError: types.OnErrorAbort},
		{Action: types.ActionClick, Target: 1},
	}
	res := e.Execute(context.Background(), sess, steps, Options{})

	assert.False(t, res.Success)
	assert.Equal(t, 1, res.ErrorStep)
	assert.Len(t, res.StepResults, 1, "abort stops before later steps")
	assert.Equal(t, 0, never.Clicks)
}

func TestPreconditionGatesStep(t *testing.T) {
	btn := testutil.NewFakeElement("button", "Pay")
	page := testutil.NewFakePage("https://example.com/cart")
	page.SetElements(btn)
	e, sess, _ := newEngine(t, page)

	steps := []types.WorkflowStep{{
		Action: types.ActionClick,
		Target: 1,
		Preconditions: []types.Precondition{
			{Kind: types.PrecondURLContains, Value: "/checkout"},
		},
	}}
	res := e.Execute(context.Background(), sess, steps, Options{StopOnError: true})

	assert.False(t, res.Success)
	assert.Contains(t, res.StepResults[0].Error, "precondition")
	assert.Equal(t, 0, btn.Clicks, "the action never ran")
}

func TestStaleIndexRecoversBySignature(t *testing.T) {
	buy := testutil.NewFakeElement("button", "Buy now")
	other := testutil.NewFakeElement("button", "Learn more")
	page := testutil.NewFakePage("https://shop.example.com/item")
	page.SetElements(buy, other)
	e, sess, _ := newEngine(t, page)

	var buyIdx int
	for i, ref := range sess.Elements() {
		if ref.Signature == "Buy now" {
			buyIdx = i
		}
	}

	// The page re-renders before the click: "Buy now" is now a link in a
	// different slot, so the cached button ref resolves through no tier.
	banner := testutil.NewFakeElement("button", "Subscribe to updates")
	freshBuy := testutil.NewFakeElement("a", "Buy now")
	page.SetElements(banner, freshBuy, testutil.NewFakeElement("button", "Learn more"))

	steps := []types.WorkflowStep{
		{Name: "buy", Action: types.ActionClick, Target: buyIdx, OnError: types.OnErrorRetry, MaxRetries: 2},
		{Name: "confirm", Action: types.ActionExtract, Target: 0},
	}
	res := e.Execute(context.Background(), sess, steps, Options{StopOnError: true})

	require.True(t, res.Success, "re-indexing rescued the stale click: %s", res.ErrorMessage)
	assert.Equal(t, 2, res.StepsCompleted)
	assert.Equal(t, 1, freshBuy.Clicks, "the signature match received the click")
	assert.Equal(t, 0, buy.Clicks)
}

func TestLoginRedirectStopsWorkflow(t *testing.T) {
	add := testutil.NewFakeElement("button", "Add to cart")
	checkout := testutil.NewFakeElement("button", "Checkout")
	page := testutil.NewFakePage("https://shop.example.com/item")
	page.SetElements(add, checkout)
	e, sess, _ := newEngine(t, page)

	var addIdx, checkoutIdx int
	for i, ref := range sess.Elements() {
		switch ref.Signature {
		case "Add to cart":
			addIdx = i
		case "Checkout":
			checkoutIdx = i
		}
	}
	add.ClickFunc = func() error {
		page.PageURL = "https://shop.example.com/login?next=/item"
		return nil
	}

	steps := []types.WorkflowStep{
		{Action: types.ActionClick, Target: addIdx},
		{Action: types.ActionClick, Target: checkoutIdx},
	}
	res := e.Execute(context.Background(), sess, steps, Options{})

	assert.False(t, res.Success)
	assert.Equal(t, 1, res.ErrorStep)
	assert.Contains(t, res.ErrorMessage, "login")
	assert.Equal(t, 0, res.StepsCompleted, "a step that strands the run on a login page does not count")
	assert.Equal(t, 0, checkout.Clicks, "nothing runs after the redirect")
}

func TestSameDomainMoveReindexesAndContinues(t *testing.T) {
	open := testutil.NewFakeElement("button", "Open details")
	page := testutil.NewFakePage("https://shop.example.com/list")
	page.SetElements(open)
	e, sess, _ := newEngine(t, page)
	genBefore := sess.Generation()

	open.ClickFunc = func() error {
		page.PageURL = "https://shop.example.com/detail/42"
		return nil
	}

	steps := []types.WorkflowStep{{Action: types.ActionClick, Target: 1}}
	res := e.Execute(context.Background(), sess, steps, Options{StopOnError: true})

	require.True(t, res.Success)
	assert.Equal(t, 1, res.StepsCompleted)
	assert.Equal(t, genBefore+1, sess.Generation(), "the element index follows the new page")
}

func TestNavigateStepReindexesDestination(t *testing.T) {
	page := testutil.NewFakePage("https://example.com")
	page.SetElements(testutil.NewFakeElement("a", "Home"))
	e, sess, _ := newEngine(t, page)
	genBefore := sess.Generation()

	steps := []types.WorkflowStep{{Action: types.ActionNavigate, URL: "https://other.example.com/page"}}
	res := e.Execute(context.Background(), sess, steps, Options{StopOnError: true})

	require.True(t, res.Success)
	assert.Equal(t, genBefore+1, sess.Generation())
}

func TestTimeoutRetryChecksPageLiveness(t *testing.T) {
	page := testutil.NewFakePage("https://example.com")
	page.SetElements(testutil.NewFakeElement("button", "Slow panel"))
	e, sess, delays := newEngine(t, page)
	page.SelWaitErr = types.NewError(types.ErrTimeout, "wait for selector .panel").WithRetryable(true)
	genBefore := sess.Generation()

	steps := []types.WorkflowStep{{
		Action:      types.ActionWait,
		Wait:        types.WaitElementVisible,
		Selector:    ".panel",
		WaitTimeout: time.Second,
		MaxRetries:  1,
	}}
	res := e.Execute(context.Background(), sess, steps, Options{StopOnError: true})

	assert.False(t, res.Success)
	assert.Equal(t, genBefore+1, sess.Generation(), "the liveness check re-indexed the settled page")
	assert.Equal(t, []time.Duration{1 * time.Second}, *delays, "the retry still backed off")
}

func TestClosedSessionCancelsWorkflow(t *testing.T) {
	btn := testutil.NewFakeElement("button", "Slow")
	page := testutil.NewFakePage("https://example.com")
	page.SetElements(btn)

	mgr, sess := testutil.NewSession(t, page)
	ix := element.NewIndexer(element.Config{}, nil)
	resolver := element.NewResolver(ix, nil)
	exec := action.NewExecutor(resolver, nil, nil)
	rec := NewRecovery(ix, resolver, nil, nil)
	guard := security.NewURLGuard(security.DefaultURLGuardConfig(), nil).WithResolver(publicResolver{})
	e := NewEngine(exec, ix, rec, guard, nil, nil)
	_, err := ix.IndexPage(context.Background(), sess)
	require.NoError(t, err)

	mgr.CloseSession(sess.UserID)

	steps := []types.WorkflowStep{{Action: types.ActionClick, Target: 1}}
	res := e.Execute(context.Background(), sess, steps, Options{StopOnError: true})

	assert.False(t, res.Success)
	assert.Equal(t, 0, res.StepsCompleted)
}
