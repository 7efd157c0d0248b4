// File: internal/browser/helpers_test.go
package browser

import (
	"strings"
	"sync"
	"testing"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/zetavg/session-proxy/internal/session"
)

// fakeResponse implements NavigationResponse.
type fakeResponse struct {
	status      int
	contentType string
}

func (r *fakeResponse) Status() int { return r.status }

func (r *fakeResponse) HeaderValue(name string) (string, error) {
	if strings.EqualFold(name, "content-type") {
		return r.contentType, nil
	}
	return "", nil
}

// fakePage implements Page.
type fakePage struct {
	mu       sync.Mutex
	response *fakeResponse
	gotoErr  error
	content  string
	closed   bool
	gotoURLs []string
}

func (p *fakePage) Goto(url string, options ...playwright.PageGotoOptions) (NavigationResponse, error) {
	p.mu.Lock()
	p.gotoURLs = append(p.gotoURLs, url)
	p.mu.Unlock()
	if p.gotoErr != nil {
		return nil, p.gotoErr
	}
	if p.response == nil {
		return nil, nil
	}
	return p.response, nil
}

func (p *fakePage) Content() (string, error) {
	return p.content, nil
}

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// fakeContext implements Context.
type fakeContext struct {
	mu         sync.Mutex
	nextPage   *fakePage
	newPageErr error
	pages      []*fakePage
	persisted  []string
	persistErr error
	closed     bool
}

func (c *fakeContext) NewPage() (Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.newPageErr != nil {
		return nil, c.newPageErr
	}
	page := c.nextPage
	if page == nil {
		page = &fakePage{content: "<html><body></body></html>"}
	}
	c.pages = append(c.pages, page)
	return page, nil
}

func (c *fakeContext) PersistState(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persisted = append(c.persisted, path)
	return c.persistErr
}

func (c *fakeContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// newCacheFixture creates a cache backed by a real store in a temp dir and a
// counting fake factory.
type cacheFixture struct {
	store   *session.Store
	cache   *ContextCache
	mu      sync.Mutex
	created []*fakeContext
}

func newCacheFixture(t *testing.T, factoryErr error) *cacheFixture {
	t.Helper()
	f := &cacheFixture{}
	f.store = session.NewStore(t.TempDir(), zap.NewNop())
	factory := func(sessionPath string) (Context, error) {
		if factoryErr != nil {
			return nil, factoryErr
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		ctx := &fakeContext{}
		f.created = append(f.created, ctx)
		return ctx, nil
	}
	f.cache = NewContextCache(f.store, session.NewPathLocks(), factory, 0, zap.NewNop())
	return f
}

func (f *cacheFixture) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}
