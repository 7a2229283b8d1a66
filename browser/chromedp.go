package browser

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/BaSui01/siteflow/types"
)

// ChromeDriver is the chromedp-backed Driver implementation. One Chrome
// process is shared by all sessions; each page is an isolated tab.
type ChromeDriver struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	browserStop context.CancelFunc
	config      Config
	logger      *zap.Logger
	mu          sync.Mutex
	closed      bool
}

// NewChromeDriver launches the browser process. Launch failures are fatal
// to the caller: there is no degraded mode without a browser.
func NewChromeDriver(config Config, logger *zap.Logger) (*ChromeDriver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", config.Headless),
		chromedp.WindowSize(config.ViewportWidth, config.ViewportHeight),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(config.UserAgent))
	}
	if config.ProxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(config.ProxyURL))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserStop := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		}),
	)

	// Start the browser process eagerly so init failures surface here.
	if err := chromedp.Run(browserCtx); err != nil {
		browserStop()
		allocCancel()
		return nil, types.NewError(types.ErrDriverInit, "failed to start browser").WithCause(err)
	}

	logger.Info("chrome driver started",
		zap.Bool("headless", config.Headless),
		zap.Int("viewport_w", config.ViewportWidth),
		zap.Int("viewport_h", config.ViewportHeight))

	return &ChromeDriver{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		browserCtx:  browserCtx,
		browserStop: browserStop,
		config:      config,
		logger:      logger.With(zap.String("component", "chrome_driver")),
	}, nil
}

// NewPage opens a new tab.
func (d *ChromeDriver) NewPage(ctx context.Context) (Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, types.NewError(types.ErrDriverInit, "driver is closed")
	}

	tabCtx, tabCancel := chromedp.NewContext(d.browserCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, types.NewError(types.ErrDriverInit, "failed to open page").WithCause(err)
	}

	return &chromePage{
		ctx:     tabCtx,
		cancel:  tabCancel,
		timeout: d.config.Timeout,
		logger:  d.logger,
	}, nil
}

// Close shuts the browser process down.
func (d *ChromeDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.logger.Info("closing chrome driver")
	d.browserStop()
	d.allocCancel()
	return nil
}

// chromePage implements Page on top of one chromedp tab context.
type chromePage struct {
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	logger  *zap.Logger
}

// run executes chromedp actions against the tab, bounded by the page's
// default timeout and the caller's context.
func (p *chromePage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if timeout <= 0 {
		timeout = p.timeout
	}
	rctx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(rctx, actions...)
}

func (p *chromePage) Goto(ctx context.Context, url string) error {
	p.logger.Debug("navigating", zap.String("url", url))
	return p.run(ctx, 0, chromedp.Navigate(url))
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var url string
	if err := p.run(ctx, 0, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

func (p *chromePage) Title(ctx context.Context) (string, error) {
	var title string
	if err := p.run(ctx, 0, chromedp.Title(&title)); err != nil {
		return "", err
	}
	return title, nil
}

func (p *chromePage) Content(ctx context.Context) (string, error) {
	var content string
	err := p.run(ctx, 0, chromedp.ActionFunc(func(cctx context.Context) error {
		node, err := dom.GetDocument().Do(cctx)
		if err != nil {
			return err
		}
		content, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(cctx)
		return err
	}))
	return content, err
}

func (p *chromePage) Evaluate(ctx context.Context, script string, res any) error {
	if res == nil {
		var discard any
		res = &discard
	}
	return p.run(ctx, 0, chromedp.Evaluate(script, res))
}

// handleAttr tags queried elements so later interactions can re-locate them
// by attribute selector without holding CDP node ids.
const handleAttr = "data-sf-h"

// QueryAll tags every matching element (top document and same-origin
// sub-frames) with a fresh handle attribute and returns handles for them.
// Cross-origin frames are not reachable from page script and are skipped.
func (p *chromePage) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	script := fmt.Sprintf(`(() => {
	const sel = %s;
	let n = window.__sfHandle || 0;
	const out = [];
	const visit = (doc, frameSel) => {
		for (const el of doc.querySelectorAll(sel)) {
			n++;
			el.setAttribute(%q, String(n));
			out.push({h: n, frame: frameSel});
		}
		for (const f of doc.querySelectorAll("iframe")) {
			try {
				if (f.contentDocument) {
					if (!f.hasAttribute("data-sf-f")) {
						f.setAttribute("data-sf-f", String(++n));
					}
					visit(f.contentDocument, '[data-sf-f="' + f.getAttribute("data-sf-f") + '"]');
				}
			} catch (e) {} // cross-origin frame
		}
	};
	visit(document, "");
	window.__sfHandle = n;
	return out;
})()`, strconv.Quote(selector), handleAttr)

	var raw []struct {
		H     int    `json:"h"`
		Frame string `json:"frame"`
	}
	if err := p.Evaluate(ctx, script, &raw); err != nil {
		return nil, err
	}

	elements := make([]Element, 0, len(raw))
	for _, r := range raw {
		elements = append(elements, &chromeElement{
			page:     p,
			frameSel: r.Frame,
			sel:      fmt.Sprintf(`[%s="%d"]`, handleAttr, r.H),
		})
	}
	return elements, nil
}

func (p *chromePage) WaitForSelector(ctx context.Context, selector string, state WaitState, timeout time.Duration) error {
	var action chromedp.Action
	switch state {
	case WaitHidden:
		action = chromedp.WaitNotVisible(selector, chromedp.ByQuery)
	case WaitAttached:
		action = chromedp.WaitReady(selector, chromedp.ByQuery)
	case WaitDetached:
		action = chromedp.WaitNotPresent(selector, chromedp.ByQuery)
	default:
		action = chromedp.WaitVisible(selector, chromedp.ByQuery)
	}
	if err := p.run(ctx, timeout, action); err != nil {
		return types.NewError(types.ErrTimeout, "wait for selector "+selector).WithCause(err).WithRetryable(true)
	}
	return nil
}

func (p *chromePage) WaitForNavigation(ctx context.Context, timeout time.Duration) error {
	var ready bool
	err := p.run(ctx, timeout,
		chromedp.Poll(`document.readyState === "complete"`, &ready,
			chromedp.WithPollingTimeout(timeout)))
	if err != nil {
		return types.NewError(types.ErrTimeout, "wait for navigation").WithCause(err).WithRetryable(true)
	}
	return nil
}

// WaitForNetworkIdle approximates network idle: the document is complete and
// no resource entry has been added for a quiet interval.
func (p *chromePage) WaitForNetworkIdle(ctx context.Context, timeout time.Duration) error {
	const script = `(() => {
	const entries = performance.getEntriesByType("resource");
	const last = entries.length ? entries[entries.length - 1].responseEnd : 0;
	return document.readyState === "complete" && (performance.now() - last) > 500;
})()`
	var idle bool
	err := p.run(ctx, timeout,
		chromedp.Poll(script, &idle, chromedp.WithPollingTimeout(timeout)))
	if err != nil {
		return types.NewError(types.ErrTimeout, "wait for network idle").WithCause(err).WithRetryable(true)
	}
	return nil
}

func (p *chromePage) Scroll(ctx context.Context, dx, dy int) error {
	return p.Evaluate(ctx, fmt.Sprintf("window.scrollBy(%d, %d)", dx, dy), nil)
}

func (p *chromePage) Close() error {
	p.cancel()
	return nil
}

// chromeElement addresses one element by its handle selector, descending
// into a same-origin frame first when frameSel is set. Top-document elements
// use chromedp input primitives; frame elements fall back to script, since
// selector-based CDP queries only see the top document.
type chromeElement struct {
	page     *chromePage
	frameSel string
	sel      string
}

func (e *chromeElement) Selector() string {
	if e.frameSel != "" {
		return e.frameSel + " " + e.sel
	}
	return e.sel
}

// eval runs fn (a JS arrow function body receiving the element) against the
// resolved element.
func (e *chromeElement) eval(ctx context.Context, fn string, res any) error {
	script := fmt.Sprintf(`(() => {
	let doc = document;
	const frameSel = %s;
	if (frameSel) {
		const f = doc.querySelector(frameSel);
		if (!f || !f.contentDocument) throw new Error("frame not found");
		doc = f.contentDocument;
	}
	const el = doc.querySelector(%s);
	if (!el) throw new Error("element not found");
	return (%s)(el);
})()`, strconv.Quote(e.frameSel), strconv.Quote(e.sel), fn)
	return e.page.Evaluate(ctx, script, res)
}

func (e *chromeElement) Click(ctx context.Context) error {
	if e.frameSel == "" {
		return e.page.run(ctx, 0, chromedp.Click(e.sel, chromedp.ByQuery))
	}
	return e.eval(ctx, `el => { el.click(); return true; }`, nil)
}

func (e *chromeElement) Type(ctx context.Context, text string) error {
	if e.frameSel == "" {
		return e.page.run(ctx, 0,
			chromedp.Clear(e.sel, chromedp.ByQuery),
			chromedp.SendKeys(e.sel, text, chromedp.ByQuery),
		)
	}
	return e.eval(ctx, fmt.Sprintf(`el => {
	el.focus();
	el.value = %s;
	el.dispatchEvent(new Event("input", {bubbles: true}));
	el.dispatchEvent(new Event("change", {bubbles: true}));
	return true;
}`, strconv.Quote(text)), nil)
}

func (e *chromeElement) SelectByLabel(ctx context.Context, label string) error {
	var ok bool
	err := e.eval(ctx, fmt.Sprintf(`el => {
	if (el.tagName.toLowerCase() !== "select") throw new Error("not a select element");
	const label = %s;
	for (const opt of el.options) {
		if (opt.label.trim() === label || opt.text.trim() === label) {
			el.value = opt.value;
			el.dispatchEvent(new Event("input", {bubbles: true}));
			el.dispatchEvent(new Event("change", {bubbles: true}));
			return true;
		}
	}
	return false;
}`, strconv.Quote(label)), &ok)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no option labeled %q", label)
	}
	return nil
}

func (e *chromeElement) Hover(ctx context.Context) error {
	return e.eval(ctx, `el => {
	el.dispatchEvent(new MouseEvent("mouseover", {bubbles: true}));
	el.dispatchEvent(new MouseEvent("mouseenter", {bubbles: true}));
	return true;
}`, nil)
}

func (e *chromeElement) ScrollIntoView(ctx context.Context) error {
	if e.frameSel == "" {
		return e.page.run(ctx, 0, chromedp.ScrollIntoView(e.sel, chromedp.ByQuery))
	}
	return e.eval(ctx, `el => { el.scrollIntoView({block: "center"}); return true; }`, nil)
}

func (e *chromeElement) BoundingBox(ctx context.Context) (*types.BoundingBox, error) {
	var box types.BoundingBox
	err := e.eval(ctx, `el => {
	const r = el.getBoundingClientRect();
	return {x: r.x, y: r.y, width: r.width, height: r.height};
}`, &box)
	if err != nil {
		return nil, err
	}
	return &box, nil
}

func (e *chromeElement) IsVisible(ctx context.Context) (bool, error) {
	var visible bool
	err := e.eval(ctx, `el => {
	const r = el.getBoundingClientRect();
	const st = window.getComputedStyle(el);
	return r.width > 0 && r.height > 0 && st.visibility !== "hidden" && st.display !== "none";
}`, &visible)
	return visible, err
}

func (e *chromeElement) IsEnabled(ctx context.Context) (bool, error) {
	var enabled bool
	err := e.eval(ctx, `el => !el.disabled`, &enabled)
	return enabled, err
}

func (e *chromeElement) TextContent(ctx context.Context) (string, error) {
	var text string
	err := e.eval(ctx, `el => el.textContent || ""`, &text)
	return strings.TrimSpace(text), err
}

func (e *chromeElement) TagName(ctx context.Context) (string, error) {
	var tag string
	err := e.eval(ctx, `el => el.tagName.toLowerCase()`, &tag)
	return tag, err
}

func (e *chromeElement) Attribute(ctx context.Context, name string) (string, error) {
	var value string
	err := e.eval(ctx, fmt.Sprintf(`el => el.getAttribute(%s) || ""`, strconv.Quote(name)), &value)
	return value, err
}

func (e *chromeElement) SetAttribute(ctx context.Context, name, value string) error {
	return e.eval(ctx, fmt.Sprintf(`el => { el.setAttribute(%s, %s); return true; }`,
		strconv.Quote(name), strconv.Quote(value)), nil)
}
