// Package notify delivers non-blocking user-facing notifications.
// Playback errors surface here as toasts; they never interrupt the engine.
package notify

import (
	"log/slog"

	"github.com/gen2brain/beeep"

	"github.com/ariaplayer/aria/internal/ports"
)

// Desktop sends native desktop notifications.
type Desktop struct {
	logger *slog.Logger
}

// NewDesktop creates a desktop notifier.
func NewDesktop(logger *slog.Logger) *Desktop {
	return &Desktop{logger: logger}
}

// Info shows an informational toast.
func (d *Desktop) Info(title, body string) {
	if err := beeep.Notify(title, body, ""); err != nil {
		d.logger.Debug("notification failed", slog.Any("error", err))
	}
}

// Warn shows a warning toast. Delivery is best effort; an unavailable
// notification daemon only produces a debug log line.
func (d *Desktop) Warn(title, body string) {
	if err := beeep.Alert(title, body, ""); err != nil {
		d.logger.Debug("notification failed", slog.Any("error", err))
	}
}

// Verify that Desktop implements the Notifier interface
var _ ports.Notifier = (*Desktop)(nil)

// Nop discards all notifications. Used in tests and headless setups.
type Nop struct{}

// NewNop creates a no-op notifier.
func NewNop() *Nop { return &Nop{} }

// Info discards the notification.
func (*Nop) Info(string, string) {}

// Warn discards the notification.
func (*Nop) Warn(string, string) {}

// Verify that Nop implements the Notifier interface
var _ ports.Notifier = (*Nop)(nil)
