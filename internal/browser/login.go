// File: internal/browser/login.go
package browser

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

const (
	// pagePollInterval is how often the login flow checks whether the
	// operator has closed every page.
	pagePollInterval = 2 * time.Second
	// snapshotInterval is the period of the best-effort state snapshots
	// taken while the operator is still logged in, guarding against
	// abrupt browser termination.
	snapshotInterval = 30 * time.Second
)

// RunLogin opens an interactive browser context for the operator to perform
// a real login, then persists the captured storage state to statePath. The
// flow completes when the operator closes all pages or the browser process
// exits; while it runs, the state is snapshotted periodically so an abrupt
// termination loses at most one snapshot interval of cookies.
//
// When statePath already exists its state is restored first, so repeated
// logins refresh a session instead of starting from scratch.
func RunLogin(ctx context.Context, m *Manager, statePath, startURL string, log *zap.Logger) error {
	log = log.Named("login")

	opts := ContextOptions{}
	if _, err := os.Stat(statePath); err == nil {
		opts.StorageStatePath = statePath
		log.Info("Restoring existing session state.", zap.String("path", statePath))
	}

	bc, err := m.NewContext(opts)
	if err != nil {
		return fmt.Errorf("failed to create login context: %w", err)
	}

	page, err := bc.NewPage()
	if err != nil {
		bc.Close()
		return fmt.Errorf("failed to open login page: %w", err)
	}
	if startURL != "" {
		if _, err := page.Goto(startURL); err != nil {
			log.Warn("Failed to open start URL; log in from the blank page instead.", zap.String("url", startURL), zap.Error(err))
		}
	}

	// The flow resolves on whichever comes first: all pages closed, browser
	// process gone, or caller cancellation.
	done := make(chan struct{})
	var once sync.Once
	finish := func() { once.Do(func() { close(done) }) }
	m.OnDisconnected(finish)

	log.Info("Waiting for login to complete; close the browser window when finished.")

	pagePoll := time.NewTicker(pagePollInterval)
	defer pagePoll.Stop()
	snapshot := time.NewTicker(snapshotInterval)
	defer snapshot.Stop()

	for {
		select {
		case <-ctx.Done():
			saveState(bc, statePath, log)
			_ = bc.Close()
			return ctx.Err()
		case <-done:
			saveState(bc, statePath, log)
			_ = bc.Close()
			log.Info("Login session captured.", zap.String("path", statePath))
			return nil
		case <-pagePoll.C:
			if len(bc.Pages()) == 0 {
				finish()
			}
		case <-snapshot.C:
			saveState(bc, statePath, log)
		}
	}
}

func saveState(bc playwright.BrowserContext, path string, log *zap.Logger) {
	if _, err := bc.StorageState(path); err != nil {
		log.Warn("Best-effort state snapshot failed.", zap.Error(err))
	}
}
