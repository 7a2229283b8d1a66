package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BaSui01/siteflow/browser"
	"github.com/BaSui01/siteflow/session"
)

// NewSession builds a manager over the given page and opens one session for
// it. The manager is returned so tests can exercise eviction too.
func NewSession(t *testing.T, page *FakePage) (*session.Manager, *session.Session) {
	t.Helper()
	driver := &FakeDriver{PageFunc: func() (browser.Page, error) { return page, nil }}
	mgr := session.NewManager(driver, session.DefaultConfig(), nil, nil)
	sess, err := mgr.GetOrCreate(context.Background(), "test-user")
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Shutdown(context.Background()) })
	return mgr, sess
}
