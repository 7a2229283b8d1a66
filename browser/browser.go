// Package browser defines the page-control capability the engine drives:
// a narrow Driver/Page/Element surface covering navigation, element queries,
// script evaluation, and input primitives. The engine issues only these
// calls and never depends on a specific driver's internals.
package browser

import (
	"context"
	"time"

	"github.com/BaSui01/siteflow/types"
)

// WaitState selects what WaitForSelector blocks on.
type WaitState string

const (
	WaitVisible  WaitState = "visible"
	WaitHidden   WaitState = "hidden"
	WaitAttached WaitState = "attached"
	WaitDetached WaitState = "detached"
)

// Driver owns the underlying browser process and hands out pages.
type Driver interface {
	// NewPage opens an isolated page (tab) for one session.
	NewPage(ctx context.Context) (Page, error)
	// Close shuts the browser down. All pages become unusable.
	Close() error
}

// Page is one live page handle. Methods are potentially blocking I/O and
// honor the passed context for cancellation.
type Page interface {
	Goto(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	Content(ctx context.Context) (string, error)

	// Evaluate runs a script in the page and unmarshals its JSON result
	// into res. Pass nil to discard the result.
	Evaluate(ctx context.Context, script string, res any) error

	// QueryAll returns live handles for all elements matching the CSS
	// selector, including elements inside same-origin sub-frames.
	QueryAll(ctx context.Context, selector string) ([]Element, error)

	WaitForSelector(ctx context.Context, selector string, state WaitState, timeout time.Duration) error
	WaitForNavigation(ctx context.Context, timeout time.Duration) error
	WaitForNetworkIdle(ctx context.Context, timeout time.Duration) error

	Scroll(ctx context.Context, dx, dy int) error
	Close() error
}

// Element is a live handle to one page element.
type Element interface {
	Click(ctx context.Context) error
	Type(ctx context.Context, text string) error
	SelectByLabel(ctx context.Context, label string) error
	Hover(ctx context.Context) error
	ScrollIntoView(ctx context.Context) error
	BoundingBox(ctx context.Context) (*types.BoundingBox, error)
	IsVisible(ctx context.Context) (bool, error)
	IsEnabled(ctx context.Context) (bool, error)
	TextContent(ctx context.Context) (string, error)
	TagName(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, error)
	SetAttribute(ctx context.Context, name, value string) error

	// Selector returns the CSS selector that re-locates this handle.
	Selector() string
}

// Config configures the browser process.
type Config struct {
	Headless       bool          `json:"headless" yaml:"headless"`
	Timeout        time.Duration `json:"timeout" yaml:"timeout"`
	ViewportWidth  int           `json:"viewport_width" yaml:"viewport_width"`
	ViewportHeight int           `json:"viewport_height" yaml:"viewport_height"`
	UserAgent      string        `json:"user_agent,omitempty" yaml:"user_agent"`
	ProxyURL       string        `json:"proxy_url,omitempty" yaml:"proxy_url"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:       true,
		Timeout:        30 * time.Second,
		ViewportWidth:  1920,
		ViewportHeight: 1080,
	}
}
