// Package app wires the watcher, the host and the metrics endpoint of
// systrayd together.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dothq/systray"
	"github.com/dothq/systray/internal/config"
	"github.com/dothq/systray/internal/metrics"
	"github.com/dothq/systray/internal/output"
)

// BusConn is a bus connection owned by the application.
type BusConn interface {
	systray.Conn
	Close() error
}

// Dialer opens a new private bus connection.
type Dialer func() (BusConn, error)

// SessionBus opens a private connection to the session bus.
func SessionBus() (BusConn, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	return conn, nil
}

// App runs systrayd components according to the configuration.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	dial      Dialer
	metrics   *metrics.Manager
	ready     *systray.Readiness
	formatter output.Formatter
	out       io.Writer
}

// New returns a new [App]. Items are printed to out in the configured format.
func New(cfg *config.Config, logger *zap.Logger, dial Dialer, out io.Writer) (*App, error) {
	formatter, err := output.NewFormatter(cfg.Output.Format)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &App{
		cfg:       cfg,
		logger:    logger,
		dial:      dial,
		metrics:   metrics.NewManager(),
		ready:     systray.NewReadiness(cfg.Startup.SettleDelay),
		formatter: formatter,
		out:       out,
	}, nil
}

// Ready returns the readiness gate completed by the embedded watcher.
func (a *App) Ready() *systray.Readiness {
	return a.ready
}

// Metrics returns the metrics manager that receives measurements of all
// components.
func (a *App) Metrics() *metrics.Manager {
	return a.metrics
}

// Run runs the watcher (if enabled), the host and the metrics endpoint (if
// configured) until ctx is done or one of them fails.
func (a *App) Run(ctx context.Context) error {
	return a.serve(ctx, true)
}

// RunWatcher runs the watcher and the metrics endpoint only.
func (a *App) RunWatcher(ctx context.Context) error {
	if !a.cfg.Watcher.Enabled {
		return fmt.Errorf("watcher is disabled in configuration")
	}

	return a.serve(ctx, false)
}

func (a *App) serve(ctx context.Context, withHost bool) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Watcher.Enabled {
		g.Go(func() error {
			return a.runWatcher(ctx)
		})
	}

	if withHost {
		g.Go(func() error {
			return a.runHost(ctx)
		})
	}

	if a.cfg.Metrics.Listen != "" {
		g.Go(func() error {
			router := metrics.NewRouter(a.metrics, a.ready.IsReady)
			return metrics.Serve(ctx, a.cfg.Metrics.Listen, router, a.logger.Named("metrics"))
		})
	}

	return g.Wait()
}

func (a *App) runWatcher(ctx context.Context) error {
	conn, err := a.dial()
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	defer conn.Close()

	watcher := systray.NewWatcher(conn,
		systray.WithLogger(a.logger),
		systray.WithRecorder(a.metrics),
		systray.WithOwnerTracking(a.cfg.Watcher.TrackOwners),
	)

	if err := watcher.Listen(a.ready); err != nil {
		return fmt.Errorf("watcher: %w", err)
	}

	defer func() {
		if err := watcher.Close(); err != nil {
			a.logger.Warn("Failed to close watcher", zap.Error(err))
		}
	}()

	return watcher.Serve(ctx)
}

func (a *App) runHost(ctx context.Context) error {
	if a.cfg.Watcher.Enabled {
		if err := a.ready.Wait(ctx, a.cfg.Startup.ReadyTimeout); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("host: %w", err)
		}
	}

	conn, err := a.dial()
	if err != nil {
		return fmt.Errorf("host: %w", err)
	}
	defer conn.Close()

	host := systray.NewHost(conn, a.hostID(), a.options()...)

	changed := make(chan struct{}, 1)
	notify := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}

	host.OnRegistered(func(item *systray.Item) {
		a.logger.Info("Item registered", zap.Stringer("item", item))
		notify()
	})

	host.OnUnregistered(func(item *systray.Item) {
		a.logger.Info("Item unregistered", zap.Stringer("item", item))
		notify()
	})

	if err := host.Listen(); err != nil {
		return fmt.Errorf("host: %w", err)
	}

	defer func() {
		if err := host.Close(); err != nil {
			a.logger.Warn("Failed to close host", zap.Error(err))
		}
	}()

	watched := make(map[*systray.Item]bool)
	notify()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			if err := a.render(host.Tracked(), watched, notify); err != nil {
				return fmt.Errorf("host: %w", err)
			}
		}
	}
}

// render prints the tracked items. Items seen for the first time are
// subscribed to the signals that change their representation.
func (a *App) render(items []*systray.Item, watched map[*systray.Item]bool, notify func()) error {
	present := make(map[*systray.Item]bool, len(items))
	snapshots := make([]systray.ItemSnapshot, 0, len(items))

	for _, item := range items {
		present[item] = true

		if !watched[item] {
			a.watch(item, notify)
			watched[item] = true
		}

		snapshot, err := item.Snapshot()
		if err != nil {
			a.logger.Warn("Skipping item", zap.Stringer("item", item), zap.Error(err))
			continue
		}

		snapshots = append(snapshots, snapshot)
	}

	// Host closes unregistered items, which cancels their subscriptions.
	for item := range watched {
		if !present[item] {
			delete(watched, item)
		}
	}

	return a.formatter.Format(a.out, snapshots)
}

func (a *App) watch(item *systray.Item, notify func()) {
	subscribe := []func(func()) (*systray.Subscription, error){
		item.OnNewTitle,
		item.OnNewIcon,
		item.OnNewToolTip,
	}

	for _, fn := range subscribe {
		if _, err := fn(notify); err != nil {
			a.logger.Debug("Failed to subscribe to item", zap.Stringer("item", item), zap.Error(err))
			return
		}
	}

	_, err := item.OnNewStatus(func(status systray.ItemStatus) {
		a.logger.Debug("Item changed status", zap.Stringer("item", item), zap.Stringer("status", status))
		notify()
	})
	if err != nil {
		a.logger.Debug("Failed to subscribe to item", zap.Stringer("item", item), zap.Error(err))
	}
}

// List returns snapshots of all items registered in the watcher. Items that
// fail to answer are skipped.
func (a *App) List(ctx context.Context) ([]systray.ItemSnapshot, error) {
	conn, err := a.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	host := systray.NewHost(conn, a.hostID(), a.options()...)

	items, err := host.Items()
	if err != nil {
		return nil, err
	}

	snapshots := make([]systray.ItemSnapshot, 0, len(items))

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		snapshot, err := item.Snapshot()
		if err != nil {
			a.logger.Warn("Skipping item", zap.Stringer("item", item), zap.Error(err))
			continue
		}

		snapshots = append(snapshots, snapshot)
	}

	return snapshots, nil
}

// Print writes snapshots of all registered items to the output.
func (a *App) Print(ctx context.Context) error {
	snapshots, err := a.List(ctx)
	if err != nil {
		return err
	}

	return a.formatter.Format(a.out, snapshots)
}

// Invoke calls fn with the item at index in the registry of the watcher.
func (a *App) Invoke(ctx context.Context, index int, fn func(*systray.Item) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	conn, err := a.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	host := systray.NewHost(conn, a.hostID(), a.options()...)

	item, err := host.Item(index)
	if err != nil {
		return err
	}

	if err := fn(item); err != nil {
		if errors.Is(err, systray.ErrUnsupported) {
			return fmt.Errorf("%s does not support this action: %w", item, err)
		}
		return err
	}

	return nil
}

func (a *App) options() []systray.Option {
	return []systray.Option{
		systray.WithLogger(a.logger),
		systray.WithRecorder(a.metrics),
		systray.WithCallTimeout(a.cfg.Host.CallTimeout),
	}
}

func (a *App) hostID() any {
	if a.cfg.Host.ID != "" {
		return a.cfg.Host.ID
	}

	return os.Getpid()
}
