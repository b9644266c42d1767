// Package opener opens the daemon dashboard in the user's browser.
package opener

import (
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/pkg/browser"
)

// Opener opens dashboard URLs, one at a time.
type Opener struct {
	logger *slog.Logger
	browse func(string) error
	mu     sync.Mutex
}

// New creates an Opener backed by the system browser.
func New(logger *slog.Logger) *Opener {
	return &Opener{
		logger: logger,
		browse: browser.OpenURL,
	}
}

// OpenURL opens an http or https URL in the default browser.
func (o *Opener) OpenURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("refusing to open %s URL", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL has no host: %s", raw)
	}

	// Serialize browser launches
	o.mu.Lock()
	defer o.mu.Unlock()

	o.logger.Info("Opening dashboard", "url", raw)
	if err := o.browse(raw); err != nil {
		o.logger.Error("Failed to open URL", "url", raw, "error", err)
		return fmt.Errorf("failed to open URL: %w", err)
	}
	return nil
}
