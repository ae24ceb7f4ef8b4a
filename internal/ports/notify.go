// Package ports defines the user notification interface.
package ports

// Notifier surfaces non-blocking notifications to the user.
// Recoverable errors (cache failures, skipped entries) are reported here as
// toasts; they must never interrupt playback of the rest of the queue.
type Notifier interface {
	// Info shows an informational toast.
	Info(title, body string)

	// Warn shows a warning toast for a recoverable error.
	Warn(title, body string)
}
