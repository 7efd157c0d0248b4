// File: internal/browser/manager.go

// Package browser wraps the external browser-automation engine: process
// lifecycle, context creation from persisted session state, page rendering
// and the interactive login flow.
package browser

import (
	"fmt"
	"io"
	"sync"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/zetavg/session-proxy/internal/config"
)

// Manager owns the shared browser process. One instance is launched lazily on
// first use and lives for the process lifetime; every session context is
// created from it.
type Manager struct {
	log *zap.Logger
	cfg config.BrowserConfig

	pw      *playwright.Playwright
	browser playwright.Browser

	initOnce sync.Once
	initErr  error
}

// NewManager creates a browser manager. Driver installation and browser
// launch are deferred until the first context is requested.
func NewManager(cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	return &Manager{
		log: logger.Named("browser_manager"),
		cfg: cfg,
	}
}

// initialize installs the driver if needed, starts it and launches the
// shared Chromium instance.
func (m *Manager) initialize() error {
	m.initOnce.Do(func() {
		m.log.Info("Launching browser...", zap.Bool("headless", m.cfg.Headless))

		runOpts := &playwright.RunOptions{
			Browsers: []string{"chromium"},
			Verbose:  false,
			Stdout:   io.Discard,
			Stderr:   io.Discard,
		}
		if err := playwright.Install(runOpts); err != nil {
			m.initErr = fmt.Errorf("failed to install browser driver: %w", err)
			return
		}

		pw, err := playwright.Run(runOpts)
		if err != nil {
			m.initErr = fmt.Errorf("failed to start browser driver: %w", err)
			return
		}

		// Default arguments for stability in containers.
		args := append([]string{"--disable-gpu", "--disable-dev-shm-usage"}, m.cfg.Args...)
		browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(m.cfg.Headless),
			Args:     args,
		})
		if err != nil {
			pw.Stop()
			m.initErr = fmt.Errorf("failed to launch browser instance: %w", err)
			return
		}

		m.pw = pw
		m.browser = browser
		m.log.Info("Browser launched.", zap.String("version", browser.Version()))
	})
	return m.initErr
}

// ContextOptions configure a new browser context.
type ContextOptions struct {
	// StorageStatePath restores cookies and storage from a session file
	// when non-empty. The file must exist.
	StorageStatePath string
	// AcceptDownloads permits file downloads inside the context.
	AcceptDownloads bool
}

// NewContext creates an isolated browser context, launching the shared
// browser first if necessary.
func (m *Manager) NewContext(opts ContextOptions) (playwright.BrowserContext, error) {
	if err := m.initialize(); err != nil {
		return nil, err
	}

	contextOpts := playwright.BrowserNewContextOptions{
		AcceptDownloads: playwright.Bool(opts.AcceptDownloads),
	}
	if opts.StorageStatePath != "" {
		contextOpts.StorageStatePath = playwright.String(opts.StorageStatePath)
	}
	return m.browser.NewContext(contextOpts)
}

// ContextFactory returns a factory creating render contexts restored from a
// session file, suitable for the context cache.
func (m *Manager) ContextFactory() ContextFactory {
	return func(sessionPath string) (Context, error) {
		bc, err := m.NewContext(ContextOptions{
			StorageStatePath: sessionPath,
			AcceptDownloads:  true,
		})
		if err != nil {
			return nil, err
		}
		return Adapt(bc), nil
	}
}

// OnDisconnected registers fn to run when the browser process exits. A no-op
// before the browser has launched.
func (m *Manager) OnDisconnected(fn func()) {
	if m.browser == nil {
		return
	}
	m.browser.OnDisconnected(func(playwright.Browser) {
		fn()
	})
}

// Shutdown closes the shared browser and stops the driver. Callers must have
// persisted and closed their contexts first.
func (m *Manager) Shutdown() error {
	if m.pw == nil {
		m.log.Debug("Browser was never launched; nothing to shut down.")
		return nil
	}

	var shutdownErr error
	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			m.log.Error("Failed to close browser instance.", zap.Error(err))
			shutdownErr = fmt.Errorf("failed to close browser: %w", err)
		}
	}
	if err := m.pw.Stop(); err != nil {
		m.log.Error("Failed to stop browser driver.", zap.Error(err))
		if shutdownErr == nil {
			shutdownErr = fmt.Errorf("failed to stop browser driver: %w", err)
		}
	}

	m.log.Info("Browser manager shutdown complete.")
	return shutdownErr
}
