// Package app wires the engine's components together and owns their
// lifecycle.
package app

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/ariaplayer/aria/internal/adapter/cache"
	"github.com/ariaplayer/aria/internal/adapter/eventbus"
	"github.com/ariaplayer/aria/internal/adapter/notify"
	"github.com/ariaplayer/aria/internal/adapter/repository/bolt"
	"github.com/ariaplayer/aria/internal/adapter/transport/mpv"
	"github.com/ariaplayer/aria/internal/adapter/transport/speaker"
	"github.com/ariaplayer/aria/internal/config"
	"github.com/ariaplayer/aria/internal/domain"
	"github.com/ariaplayer/aria/internal/ports"
	"github.com/ariaplayer/aria/internal/service"
)

// Options overrides parts of the default wiring. Zero values keep the
// config-driven defaults.
type Options struct {
	// Transport replaces the config-selected backend (used by tests)
	Transport ports.Transport

	// Source provides recommendations and scrobbling; nil disables both
	Source ports.MediaSource

	// Notifier replaces the desktop notifier
	Notifier ports.Notifier

	// SessionPath overrides the session database location
	SessionPath string
}

// App owns every engine component and shuts them down in reverse order.
type App struct {
	logger *slog.Logger
	cfg    *config.Config

	Bus       ports.EventBus
	Transport ports.Transport
	Cache     ports.CacheManager
	Sessions  ports.SessionRepository
	Queue     *service.QueueService
	Playback  *service.PlaybackService
	Scrobbler *service.ScrobbleService

	notifySub domain.SubscriptionID
}

// New builds the engine from configuration: bus, transport, cache,
// session store, queue store, coordinator and scrobble tracker. A previous
// session is restored before returning.
func New(logger *slog.Logger, cfg *config.Config, opts Options) (*App, error) {
	a := &App{logger: logger, cfg: cfg}

	a.Bus = eventbus.NewSyncBus(logger.With(slog.String("component", "eventbus")))

	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.NewDesktop(logger.With(slog.String("component", "notify")))
	}

	transport := opts.Transport
	if transport == nil {
		var err error
		transport, err = buildTransport(logger, cfg)
		if err != nil {
			a.closePartial()
			return nil, err
		}
	}
	if err := transport.Initialize(); err != nil {
		a.closePartial()
		return nil, fmt.Errorf("transport initialization failed: %w", err)
	}
	a.Transport = transport

	if cfg.Cache.Enabled {
		if err := os.MkdirAll(cfg.Cache.Path, 0o755); err != nil {
			a.closePartial()
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		manager, err := cache.NewManager(
			logger.With(slog.String("component", "cache")),
			a.Bus,
			&http.Client{Timeout: 5 * time.Minute},
			cfg.Cache.Path,
		)
		if err != nil {
			a.closePartial()
			return nil, fmt.Errorf("cache initialization failed: %w", err)
		}
		a.Cache = manager
	}

	sessionPath := opts.SessionPath
	if sessionPath == "" {
		sessionPath = defaultSessionPath()
	}
	sessions, err := bolt.NewStore(logger.With(slog.String("component", "sessions")), sessionPath)
	if err != nil {
		a.closePartial()
		return nil, fmt.Errorf("session store initialization failed: %w", err)
	}
	a.Sessions = sessions

	a.Queue = service.NewQueueService(
		logger.With(slog.String("service", "queue")),
		a.Bus,
		a.Sessions,
	)

	style := domain.TransitionGapless
	if cfg.Playback.Style == config.StyleCrossfade {
		style = domain.TransitionCrossfade
	}
	a.Playback = service.NewPlaybackService(
		logger.With(slog.String("service", "playback")),
		a.Queue,
		a.Transport,
		a.Cache,
		opts.Source,
		notifier,
		a.Bus,
		service.PlaybackConfig{
			Transcode: domain.TranscodeSettings{
				Enabled:     cfg.Transcode.Enabled,
				Format:      cfg.Transcode.Format,
				BitrateKbps: cfg.Transcode.BitrateKbps,
			},
			Style:             style,
			CrossfadeDuration: cfg.CrossfadeDuration(),
			CacheWrites:       cfg.Cache.Enabled,
		},
	)

	a.Scrobbler = service.NewScrobbleService(
		logger.With(slog.String("service", "scrobble")),
		opts.Source,
		a.Bus,
		service.ScrobbleConfig{
			Enabled:      cfg.Scrobble.Enabled,
			AtPercentage: cfg.Scrobble.AtPercentage,
			AtDuration:   cfg.ScrobbleAtDuration(),
		},
	)

	// Cache failures surface as toasts; they never touch playback
	a.notifySub = a.Bus.Subscribe(domain.EventCacheFailed, func(event domain.Event) {
		if e, ok := event.(domain.CacheFailedEvent); ok {
			notifier.Warn("Download failed", e.Song.Name+" could not be cached")
		}
	})

	if err := a.restoreSession(); err != nil {
		logger.Warn("failed to restore previous session", slog.Any("error", err))
	}

	logger.Info("engine ready",
		slog.String("transport", cfg.Transport.Backend),
		slog.Bool("cache", cfg.Cache.Enabled))

	return a, nil
}

func buildTransport(logger *slog.Logger, cfg *config.Config) (ports.Transport, error) {
	switch cfg.Transport.Backend {
	case config.BackendMpv:
		return mpv.NewEngine(logger.With(slog.String("component", "mpv")), mpv.Config{
			BinaryPath: cfg.Transport.MpvBinary,
			SocketPath: cfg.Transport.MpvSocket,
		}), nil
	case config.BackendSpeaker:
		return speaker.NewEngine(logger.With(slog.String("component", "speaker")), nil), nil
	default:
		return nil, fmt.Errorf("unknown transport backend %q", cfg.Transport.Backend)
	}
}

func defaultSessionPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		base := dir + string(os.PathSeparator) + "aria"
		if err := os.MkdirAll(base, 0o755); err == nil {
			return base + string(os.PathSeparator) + "session.db"
		}
	}
	return "aria-session.db"
}

// restoreSession reloads the persisted queue and volume.
func (a *App) restoreSession() error {
	volume, err := a.Queue.Restore()
	if err != nil {
		return err
	}
	if volume <= 0 || volume > 1 {
		volume = a.cfg.Playback.Volume
	}
	return a.Playback.SetVolume(volume)
}

// SaveSession persists the queue and volume for the next start.
func (a *App) SaveSession() error {
	return a.Queue.Save(a.Playback.Volume())
}

// Shutdown saves the session and stops the components in reverse
// construction order.
func (a *App) Shutdown() {
	a.logger.Info("shutting down")

	if err := a.SaveSession(); err != nil {
		a.logger.Warn("failed to save session", slog.Any("error", err))
	}

	a.Bus.Unsubscribe(a.notifySub)

	if err := a.Scrobbler.Shutdown(); err != nil {
		a.logger.Warn("scrobble shutdown failed", slog.Any("error", err))
	}
	if err := a.Playback.Shutdown(); err != nil {
		a.logger.Warn("playback shutdown failed", slog.Any("error", err))
	}
	if err := a.Queue.Shutdown(); err != nil {
		a.logger.Warn("queue shutdown failed", slog.Any("error", err))
	}
	if err := a.Transport.Shutdown(); err != nil {
		a.logger.Warn("transport shutdown failed", slog.Any("error", err))
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.logger.Warn("cache shutdown failed", slog.Any("error", err))
		}
	}
	if err := a.Sessions.Close(); err != nil {
		a.logger.Warn("session store shutdown failed", slog.Any("error", err))
	}
	if err := a.Bus.Close(); err != nil {
		a.logger.Warn("event bus shutdown failed", slog.Any("error", err))
	}

	a.logger.Info("shutdown complete")
}

// closePartial tears down whatever New managed to build before failing.
func (a *App) closePartial() {
	if a.Transport != nil && a.Transport.IsInitialized() {
		_ = a.Transport.Shutdown()
	}
	if a.Cache != nil {
		_ = a.Cache.Close()
	}
	if a.Sessions != nil {
		_ = a.Sessions.Close()
	}
	if a.Bus != nil {
		_ = a.Bus.Close()
	}
}
