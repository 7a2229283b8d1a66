// Package testutil provides scriptable fakes for the page-control surface
// so engine tests run without a real browser.
package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/siteflow/browser"
	"github.com/BaSui01/siteflow/types"
)

// FakeElement is a scriptable element. Zero value is invisible and
// disabled; use NewFakeElement for a sane actionable default.
type FakeElement struct {
	mu sync.Mutex

	Tag     string
	Text    string
	Attrs   map[string]string
	Visible bool
	Enabled bool
	Box     *types.BoundingBox
	Sel     string

	// Error injection per operation. ClickFunc, when set, decides each
	// click's outcome and wins over ClickErr.
	ClickFunc func() error
	ClickErr  error
	TypeErr   error
	SelectErr error
	HoverErr  error

	// Recorded interactions.
	Clicks   int
	Typed    []string
	Selected []string
	Hovers   int
}

// NewFakeElement returns a visible, enabled element of the given tag.
// Anchors get a default href so they count as navigable links.
func NewFakeElement(tag, text string) *FakeElement {
	attrs := map[string]string{}
	if tag == "a" {
		attrs["href"] = "#"
	}
	return &FakeElement{
		Tag:     tag,
		Text:    text,
		Attrs:   attrs,
		Visible: true,
		Enabled: true,
		Box:     &types.BoundingBox{X: 10, Y: 10, Width: 100, Height: 30},
	}
}

func (e *FakeElement) Click(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ClickFunc != nil {
		if err := e.ClickFunc(); err != nil {
			return err
		}
	} else if e.ClickErr != nil {
		return e.ClickErr
	}
	e.Clicks++
	return nil
}

func (e *FakeElement) Type(ctx context.Context, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.TypeErr != nil {
		return e.TypeErr
	}
	e.Typed = append(e.Typed, text)
	return nil
}

func (e *FakeElement) SelectByLabel(ctx context.Context, label string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.SelectErr != nil {
		return e.SelectErr
	}
	e.Selected = append(e.Selected, label)
	return nil
}

func (e *FakeElement) Hover(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.HoverErr != nil {
		return e.HoverErr
	}
	e.Hovers++
	return nil
}

func (e *FakeElement) ScrollIntoView(ctx context.Context) error { return nil }

func (e *FakeElement) BoundingBox(ctx context.Context) (*types.BoundingBox, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Box, nil
}

func (e *FakeElement) IsVisible(ctx context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Visible, nil
}

func (e *FakeElement) IsEnabled(ctx context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Enabled, nil
}

func (e *FakeElement) TextContent(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Text, nil
}

func (e *FakeElement) TagName(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Tag, nil
}

func (e *FakeElement) Attribute(ctx context.Context, name string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Attrs[name], nil
}

func (e *FakeElement) SetAttribute(ctx context.Context, name, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Attrs == nil {
		e.Attrs = map[string]string{}
	}
	e.Attrs[name] = value
	return nil
}

func (e *FakeElement) Selector() string { return e.Sel }

// FakePage is a scriptable page over a mutable element list.
type FakePage struct {
	mu sync.Mutex

	Els       []*FakeElement
	PageURL   string
	PageTitle string
	HTML      string
	ClosedVal bool

	// Hooks and error injection.
	GotoFunc     func(url string) error
	EvaluateFunc func(script string) error
	ScrollFunc   func(dx, dy int) error
	QueryErr     error
	NavWaitErr   error
	IdleWaitErr  error
	SelWaitErr   error
	ScrollErr    error

	// Recorded interactions.
	Gotos   []string
	Scrolls [][2]int
	Evals   []string
}

// NewFakePage returns an empty page at the given URL.
func NewFakePage(url string) *FakePage {
	return &FakePage{PageURL: url, PageTitle: "fake page"}
}

// SetElements swaps the page's element list.
func (p *FakePage) SetElements(els ...*FakeElement) {
	p.mu.Lock()
	p.Els = els
	p.mu.Unlock()
}

func (p *FakePage) Goto(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Gotos = append(p.Gotos, url)
	if p.GotoFunc != nil {
		if err := p.GotoFunc(url); err != nil {
			return err
		}
	}
	p.PageURL = url
	return nil
}

func (p *FakePage) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.PageURL, nil
}

func (p *FakePage) Title(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.PageTitle, nil
}

func (p *FakePage) Content(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.HTML, nil
}

func (p *FakePage) Evaluate(ctx context.Context, script string, res any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Evals = append(p.Evals, script)
	if p.EvaluateFunc != nil {
		return p.EvaluateFunc(script)
	}
	return nil
}

// QueryAll supports the selector shapes the engine issues: the interactive
// compound selector (comma list), attribute equality, id, and bare tags.
func (p *FakePage) QueryAll(ctx context.Context, selector string) ([]browser.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.QueryErr != nil {
		return nil, p.QueryErr
	}
	var out []browser.Element
	for _, el := range p.Els {
		if matches(el, selector) {
			out = append(out, el)
		}
	}
	return out, nil
}

func matches(el *FakeElement, selector string) bool {
	for _, part := range strings.Split(selector, ",") {
		if matchesOne(el, strings.TrimSpace(part)) {
			return true
		}
	}
	return false
}

func matchesOne(el *FakeElement, sel string) bool {
	switch {
	case sel == "":
		return false
	case strings.HasPrefix(sel, "#"):
		return el.Attrs["id"] == sel[1:]
	case strings.HasPrefix(sel, "["):
		body := strings.Trim(sel, "[]")
		name, value, hasValue := strings.Cut(body, "=")
		if !hasValue {
			_, ok := el.Attrs[name]
			return ok
		}
		value = strings.Trim(value, `"'`)
		if strings.HasSuffix(name, "^") {
			return strings.HasPrefix(el.Attrs[strings.TrimSuffix(name, "^")], value)
		}
		return el.Attrs[name] == value
	default:
		// "tag" or "tag[attr]" or "tag[attr=value]"
		tag, rest := sel, ""
		if i := strings.Index(sel, "["); i >= 0 {
			tag, rest = sel[:i], sel[i:]
		}
		if !strings.EqualFold(el.Tag, tag) {
			return false
		}
		if rest == "" {
			return true
		}
		return matchesOne(el, rest)
	}
}

func (p *FakePage) WaitForSelector(ctx context.Context, selector string, state browser.WaitState, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.SelWaitErr
}

func (p *FakePage) WaitForNavigation(ctx context.Context, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.NavWaitErr
}

func (p *FakePage) WaitForNetworkIdle(ctx context.Context, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.IdleWaitErr
}

func (p *FakePage) Scroll(ctx context.Context, dx, dy int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ScrollErr != nil {
		return p.ScrollErr
	}
	p.Scrolls = append(p.Scrolls, [2]int{dx, dy})
	if p.ScrollFunc != nil {
		return p.ScrollFunc(dx, dy)
	}
	return nil
}

func (p *FakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ClosedVal = true
	return nil
}

// Closed reports whether Close was called.
func (p *FakePage) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ClosedVal
}

// FakeDriver hands out pages. With a PageFunc each NewPage call is
// scriptable; otherwise every call returns a fresh empty page.
type FakeDriver struct {
	mu sync.Mutex

	PageFunc  func() (browser.Page, error)
	Pages     []*FakePage
	ClosedVal bool
}

func (d *FakeDriver) NewPage(ctx context.Context) (browser.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.PageFunc != nil {
		return d.PageFunc()
	}
	p := NewFakePage("about:blank")
	d.Pages = append(d.Pages, p)
	return p, nil
}

func (d *FakeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ClosedVal = true
	return nil
}

// Closed reports whether Close was called.
func (d *FakeDriver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ClosedVal
}
