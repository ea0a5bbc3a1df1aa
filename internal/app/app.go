package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/weather-station/internal/config"
	"github.com/afroash/weather-station/internal/forward"
	"github.com/afroash/weather-station/internal/ingest"
	"github.com/afroash/weather-station/internal/server"
	"github.com/afroash/weather-station/internal/storage"
	"github.com/afroash/weather-station/internal/watchdog"
)

// App owns every long-lived component of the server
type App struct {
	cfg     *config.AppConfig
	logger  zerolog.Logger
	version string

	store    *storage.SQLiteStore
	mirror   *storage.Mirror
	writer   *storage.Writer
	watchdog *watchdog.Watchdog
	live     *server.LiveHub
	handler  http.Handler

	forwarders []*forward.Forwarder
	mqttSink   *forward.MQTTSink

	closeOnce sync.Once
}

// New opens the stores and builds the HTTP surface. Background work starts
// with Serve or Run.
func New(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger, version string) (*App, error) {
	store, err := storage.NewSQLiteStore(storage.StoreConfig{
		Path:         cfg.Storage.DBPath,
		MaxOpenConns: cfg.Storage.MaxOpenConns,
		BusyTimeout:  cfg.Storage.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	a := &App{
		cfg:     cfg,
		logger:  logger,
		version: version,
		store:   store,
	}

	if !cfg.Storage.DisableMirror {
		a.mirror = storage.NewMirror(cfg.Storage.MirrorPath, cfg.Storage.MirrorSync, logger)
		a.writer = storage.NewWriter(store, a.mirror, logger)
	} else {
		a.writer = storage.NewWriter(store, nil, logger)
	}

	a.watchdog = watchdog.New(watchdog.Config{
		Timeout:     cfg.Watchdog.Timeout,
		CheckPeriod: cfg.Watchdog.CheckPeriod,
	}, logger)

	a.live = server.NewLiveHub(cfg.Live.SnapshotSize, logger, cfg.Server.AllowedOrigins...)
	recent, err := store.GetRecentReadings(ctx, cfg.Live.SnapshotSize)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to seed live snapshot")
	} else {
		a.live.Seed(recent)
	}

	a.buildForwarders()

	pipeline := ingest.NewPipeline(ingest.NewTimestampAdjuster(cfg.Ingest.TimezoneOffset), logger)
	api := server.NewAPIHandler(server.Options{
		Pipeline: pipeline,
		Writer:   a.writer,
		Reader:   store,
		Activity: a.watchdog,
		Live:     a.live,
		Stats:    a.statsSections(),
		Version:  version,
	}, logger)
	a.handler = server.NewRouter(api, a.live, logger)

	return a, nil
}

func (a *App) buildForwarders() {
	httpCfg := a.cfg.Forward.HTTP
	if httpCfg.Enabled {
		sink := forward.NewHTTPSink(httpCfg.URL, httpCfg.StationID, httpCfg.Timeout)
		a.forwarders = append(a.forwarders, forward.NewForwarder(a.store, sink, forward.Config{
			Interval:   httpCfg.Interval,
			BatchSize:  httpCfg.BatchSize,
			MaxBackoff: httpCfg.MaxBackoff,
		}, a.logger))
	}

	mqttCfg := a.cfg.Forward.MQTT
	if mqttCfg.Enabled {
		a.mqttSink = forward.NewMQTTSink(forward.MQTTConfig{
			Broker:    mqttCfg.Broker,
			ClientID:  mqttCfg.ClientID,
			Topic:     mqttCfg.Topic,
			StationID: httpCfg.StationID, // shared by both relays
			QoS:       byte(mqttCfg.QoS),
		}, a.logger)
		a.forwarders = append(a.forwarders, forward.NewForwarder(a.store, a.mqttSink, forward.Config{
			Interval:   mqttCfg.Interval,
			BatchSize:  mqttCfg.BatchSize,
			MaxBackoff: mqttCfg.MaxBackoff,
		}, a.logger))
	}
}

func (a *App) statsSections() map[string]server.StatsFunc {
	sections := map[string]server.StatsFunc{
		"writer": func(context.Context) (any, error) {
			return a.writer.Stats(), nil
		},
		"storage": func(ctx context.Context) (any, error) {
			return a.store.GetStorageStats(ctx)
		},
		"watchdog": func(context.Context) (any, error) {
			return a.watchdog.Stats(), nil
		},
		"live": func(context.Context) (any, error) {
			return a.live.Stats(), nil
		},
	}
	if a.mirror != nil {
		sections["mirror"] = func(context.Context) (any, error) {
			return a.mirror.Stats(), nil
		}
	}
	for _, fwd := range a.forwarders {
		sections["forward_"+fwd.Stats().Sink] = func(context.Context) (any, error) {
			return fwd.Stats(), nil
		}
	}
	return sections
}

// Handler returns the HTTP surface
func (a *App) Handler() http.Handler {
	return a.handler
}

// Run listens on the configured address and serves until ctx is cancelled
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		a.Close()
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.Addr(), err)
	}
	return a.Serve(ctx, ln)
}

// Serve starts the forwarders and serves HTTP on ln until ctx is cancelled,
// then shuts everything down. The App is closed when Serve returns.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	defer a.Close()

	fwdCtx, stopForwarders := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	a.startForwarders(fwdCtx, &wg)

	srv := &http.Server{
		Handler:      a.handler,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", ln.Addr().String()).Msg("Server listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info().Msg("Shutting down server...")
	case serveErr = <-errCh:
		a.logger.Error().Err(serveErr).Msg("Server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error().Err(err).Msg("Server shutdown error")
	}

	a.live.Close()
	stopForwarders()
	wg.Wait()

	a.logger.Info().Msg("Server stopped")
	return serveErr
}

func (a *App) startForwarders(ctx context.Context, wg *sync.WaitGroup) {
	for _, fwd := range a.forwarders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fwd.Run(ctx)
		}()
	}

	if a.mqttSink != nil {
		go func() {
			// Sends fail with ErrNotConnected until this succeeds.
			if err := a.mqttSink.Connect(ctx); err != nil && ctx.Err() == nil {
				a.logger.Error().Err(err).Msg("MQTT connect failed")
			}
		}()
	}
}

// Close releases every component. Safe to call more than once.
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		if a.mqttSink != nil {
			a.mqttSink.Close()
		}
		a.live.Close()
		a.watchdog.Stop()

		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if stats, statErr := a.store.GetStorageStats(closeCtx); statErr == nil {
			a.logger.Info().Int64("total_readings", stats.TotalReadings).Msg("Closing store")
		}
		err = a.store.Close()
	})
	return err
}

// Run builds the application from cfg and serves until ctx is cancelled
func Run(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger, version string) error {
	a, err := New(ctx, cfg, logger, version)
	if err != nil {
		return err
	}

	logger.Info().
		Str("version", version).
		Str("addr", cfg.Addr()).
		Str("db_path", cfg.Storage.DBPath).
		Str("mirror_path", cfg.Storage.MirrorPath).
		Bool("mirror_disabled", cfg.Storage.DisableMirror).
		Dur("timezone_offset", cfg.Ingest.TimezoneOffset).
		Int("forwarders", len(a.forwarders)).
		Msg("Starting weather station server")

	return a.Run(ctx)
}
