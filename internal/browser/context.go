// File: internal/browser/context.go
package browser

import (
	"github.com/playwright-community/playwright-go"
)

// Context is the slice of the automation engine's browser-context surface
// that the proxy uses. Narrowing it here keeps the render and cache paths
// testable without a live browser.
type Context interface {
	// NewPage opens a fresh page scoped to this context.
	NewPage() (Page, error)
	// PersistState writes the context's full current storage state
	// (cookies plus per-origin storage) to the session file at path.
	PersistState(path string) error
	Close() error
}

// Page is the slice of the engine's page surface used by the render path.
type Page interface {
	Goto(url string, options ...playwright.PageGotoOptions) (NavigationResponse, error)
	Content() (string, error)
	Close() error
}

// NavigationResponse exposes the pieces of a navigation's network response
// the proxy forwards to its client.
type NavigationResponse interface {
	Status() int
	HeaderValue(name string) (string, error)
}

// Adapt wraps a live browser context in the narrowed Context interface.
func Adapt(bc playwright.BrowserContext) Context {
	return &pwContext{bc: bc}
}

type pwContext struct {
	bc playwright.BrowserContext
}

func (c *pwContext) NewPage() (Page, error) {
	page, err := c.bc.NewPage()
	if err != nil {
		return nil, err
	}
	return &pwPage{page: page}, nil
}

func (c *pwContext) PersistState(path string) error {
	_, err := c.bc.StorageState(path)
	return err
}

func (c *pwContext) Close() error {
	return c.bc.Close()
}

type pwPage struct {
	page playwright.Page
}

func (p *pwPage) Goto(url string, options ...playwright.PageGotoOptions) (NavigationResponse, error) {
	resp, err := p.page.Goto(url, options...)
	if resp == nil {
		return nil, err
	}
	return resp, err
}

func (p *pwPage) Content() (string, error) {
	return p.page.Content()
}

func (p *pwPage) Close() error {
	return p.page.Close()
}
