// File: internal/browser/render.go
package browser

import (
	"fmt"
	"net/http"
	"time"

	"github.com/playwright-community/playwright-go"
)

// RenderResult is the outcome of fully rendering a page inside a session's
// browser context.
type RenderResult struct {
	// HTML is the document content after script execution.
	HTML string
	// ContentType is the original content-type of the navigation response
	// when available, otherwise an HTML default.
	ContentType string
	// Status is the navigation response status, or 200 when unavailable.
	Status int
}

// RenderPage opens a new page in bctx, navigates to target waiting for
// network-idle quiescence within timeout, and captures the rendered document.
// The page is closed before returning, whether or not rendering succeeded;
// the context itself stays alive for reuse.
func RenderPage(bctx Context, target string, timeout time.Duration) (*RenderResult, error) {
	page, err := bctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	defer func() {
		_ = page.Close()
	}()

	resp, err := page.Goto(target, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return nil, fmt.Errorf("navigation to %q failed: %w", target, err)
	}

	result := &RenderResult{
		ContentType: "text/html; charset=utf-8",
		Status:      http.StatusOK,
	}
	if resp != nil {
		if s := resp.Status(); s > 0 {
			result.Status = s
		}
		if ct, err := resp.HeaderValue("content-type"); err == nil && ct != "" {
			result.ContentType = ct
		}
	}

	html, err := page.Content()
	if err != nil {
		return nil, fmt.Errorf("failed to capture rendered content: %w", err)
	}
	result.HTML = html
	return result, nil
}
