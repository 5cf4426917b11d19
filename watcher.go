package systray

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"go.uber.org/zap"
)

const (
	StatusNotifierWatcherInterface = "org.kde.StatusNotifierWatcher"
	StatusNotifierWatcherPath      = "/StatusNotifierWatcher"

	// WatcherProtocolVersion is the value of the ProtocolVersion property.
	WatcherProtocolVersion uint8 = 0
)

const (
	signalHostRegistered   = "StatusNotifierHostRegistered"
	signalHostUnregistered = "StatusNotifierHostUnregistered"
	signalItemRegistered   = "StatusNotifierItemRegistered"
	signalItemUnregistered = "StatusNotifierItemUnregistered"
)

// Watcher implements [StatusNotifierWatcher]. It owns the watcher bus name
// and keeps the [Registry] of items.
//
// Only one watcher may own the name on a bus. Failure to claim it is fatal
// for the watcher, [Watcher.Listen] returns [ErrNameTaken].
//
// [StatusNotifierWatcher]: https://www.freedesktop.org/wiki/Specifications/StatusNotifierItem/StatusNotifierWatcher/
type Watcher struct {
	conn        Conn
	logger      *zap.Logger
	recorder    Recorder
	registry    *Registry
	trackOwners bool

	mu        sync.Mutex
	listening bool
	closed    bool
	hosts     []string
	signals   chan *dbus.Signal

	done      chan struct{}
	closeOnce sync.Once
	fatal     chan error
}

// NewWatcher returns a new [Watcher]. It does not touch the bus until
// [Watcher.Listen] is called.
func NewWatcher(conn Conn, opts ...Option) *Watcher {
	o := newOptions(opts)

	registry := o.registry
	if registry == nil {
		registry = NewRegistry()
	}

	return &Watcher{
		conn:        conn,
		logger:      o.logger.Named("watcher"),
		recorder:    o.recorder,
		registry:    registry,
		trackOwners: o.trackOwners,
		signals:     make(chan *dbus.Signal, 64),
		done:        make(chan struct{}),
		fatal:       make(chan error, 1),
	}
}

// Registry returns the registry served by the watcher.
func (w *Watcher) Registry() *Registry {
	return w.registry
}

// Listen claims the watcher name and exports the watcher objects. Once both
// succeeded, ready is completed (if not nil).
func (w *Watcher) Listen(ready *Readiness) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("listen: watcher is %w", ErrClosed)
	}

	if w.listening {
		return fmt.Errorf("listen: watcher is already listening")
	}

	reply, err := w.conn.RequestName(StatusNotifierWatcherInterface, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("listen: failed to request name %s: %w", StatusNotifierWatcherInterface, err)
	}

	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("listen: %w: %s", ErrNameTaken, StatusNotifierWatcherInterface)
	}

	if err := w.conn.Export(w, StatusNotifierWatcherPath, StatusNotifierWatcherInterface); err != nil {
		return fmt.Errorf("listen: failed to export %s: %w", StatusNotifierWatcherInterface, err)
	}

	if err := w.conn.Export(&watcherProperties{w: w}, StatusNotifierWatcherPath, propertiesInterface); err != nil {
		return fmt.Errorf("listen: failed to export properties: %w", err)
	}

	if err := w.conn.Export(introspect.NewIntrospectable(watcherIntrospection()), StatusNotifierWatcherPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("listen: failed to export introspection data: %w", err)
	}

	if w.trackOwners {
		w.conn.Signal(w.signals)
		go w.handleSignals()
	}

	w.listening = true
	w.logger.Info("Watcher is listening",
		zap.String("name", StatusNotifierWatcherInterface),
		zap.String("path", StatusNotifierWatcherPath),
		zap.Bool("track_owners", w.trackOwners))

	if ready != nil {
		ready.markReady()
	}

	return nil
}

// Serve blocks until ctx is done, the watcher is closed, or a fatal error
// occurs. The latter is returned; the former two return nil.
//
// Method calls are dispatched by the bus connection, Serve only keeps the
// watcher alive and surfaces fatal conditions.
func (w *Watcher) Serve(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-w.done:
		return nil
	case err := <-w.fatal:
		w.logger.Error("Watcher stopped", zap.Error(err))
		return fmt.Errorf("serve: %w", err)
	}
}

// Close releases the watcher name and stops tracking owners. Watcher cannot
// be reused after Close was called.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	w.closeOnce.Do(func() { close(w.done) })

	if !w.listening {
		return nil
	}

	// Unexport objects so that late calls fail instead of reaching a closed
	// watcher.
	w.conn.Export(nil, StatusNotifierWatcherPath, StatusNotifierWatcherInterface)
	w.conn.Export(nil, StatusNotifierWatcherPath, propertiesInterface)
	w.conn.Export(nil, StatusNotifierWatcherPath, "org.freedesktop.DBus.Introspectable")

	if w.trackOwners {
		for _, host := range w.hosts {
			w.conn.RemoveMatchSignal(nameOwnerChangedMatch(host)...)
		}

		items, _ := w.registry.Items()
		for _, sender := range senders(items) {
			w.conn.RemoveMatchSignal(nameOwnerChangedMatch(sender)...)
		}

		w.conn.RemoveSignal(w.signals)
		close(w.signals)
	}

	if _, err := w.conn.ReleaseName(StatusNotifierWatcherInterface); err != nil {
		return fmt.Errorf("close: failed to release name %s: %w", StatusNotifierWatcherInterface, err)
	}

	return nil
}

// RegisterStatusNotifierItem implements the method of the same name.
//
// The item is identified by the unique name of the caller and the service
// argument; see [NormalizeServicePath] for accepted values.
func (w *Watcher) RegisterStatusNotifierItem(service string, sender dbus.Sender) *dbus.Error {
	logger := w.logger.With(zap.String("service", service), zap.String("sender", string(sender)))
	logger.Info("RegisterStatusNotifierItem")

	registration, err := EncodeRegistration(string(sender), service)
	if err != nil {
		logger.Warn("Rejected item registration", zap.Error(err))
		return dbus.NewError(dbusErrInvalidArgs, []any{err.Error()})
	}

	item := RegisteredItem{Service: service, Sender: string(sender)}

	added, err := w.registry.Add(item)
	if err != nil {
		logger.Error("Failed to register item", zap.Error(err))
		w.fail(err)
		return dbus.MakeFailedError(err)
	}

	if !added {
		logger.Debug("Item is already registered")
		return nil
	}

	if w.trackOwners {
		w.watchOwner(string(sender))
	}

	w.recorder.ItemRegistered(item)
	w.recorder.RegistrySize(w.registry.Len())

	w.emit(signalItemRegistered, registration)
	w.emitPropertiesChanged("RegisteredStatusNotifierItems")

	return nil
}

// RegisterStatusNotifierHost implements the method of the same name.
//
// Registration is always accepted. Hosts are only remembered if owner
// tracking is enabled.
func (w *Watcher) RegisterStatusNotifierHost(service string, sender dbus.Sender) *dbus.Error {
	w.logger.Info("RegisterStatusNotifierHost",
		zap.String("service", service),
		zap.String("sender", string(sender)))

	if !w.trackOwners {
		return nil
	}

	w.mu.Lock()
	if slices.Contains(w.hosts, service) {
		w.mu.Unlock()
		return nil
	}
	w.hosts = append(w.hosts, service)
	w.mu.Unlock()

	w.watchOwner(service)

	w.emit(signalHostRegistered)
	w.emitPropertiesChanged("IsStatusNotifierHostRegistered")

	return nil
}

// isHostRegistered is the value of the IsStatusNotifierHostRegistered
// property.
func (w *Watcher) isHostRegistered() bool {
	if !w.trackOwners {
		return true
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.hosts) > 0
}

// fail reports a fatal error to Serve.
func (w *Watcher) fail(err error) {
	select {
	case w.fatal <- err:
	default:
	}
}

func (w *Watcher) emit(signal string, values ...any) {
	if err := w.conn.Emit(StatusNotifierWatcherPath, StatusNotifierWatcherInterface+"."+signal, values...); err != nil {
		w.logger.Warn("Failed to emit signal", zap.String("signal", signal), zap.Error(err))
	}
}

// watchOwner subscribes to NameOwnerChanged of name.
// Whenever name disappears, D-Bus will send NameOwnerChanged signal with
// empty NewOwner argument.
func (w *Watcher) watchOwner(name string) {
	if err := w.conn.AddMatchSignal(nameOwnerChangedMatch(name)...); err != nil {
		w.logger.Warn("Failed to watch name owner", zap.String("name", name), zap.Error(err))
	}
}

func (w *Watcher) handleSignals() {
	for signal := range w.signals {
		if signal.Name != "org.freedesktop.DBus.NameOwnerChanged" || len(signal.Body) < 3 {
			continue
		}

		name, ok := signal.Body[0].(string)
		if !ok {
			continue
		}

		newOwner, ok := signal.Body[2].(string)
		if !ok {
			continue
		}

		if newOwner == "" {
			w.handleNameLost(name)
		}
	}
}

// handleNameLost unregisters host and items owned by name.
func (w *Watcher) handleNameLost(name string) {
	w.mu.Lock()
	idx := slices.Index(w.hosts, name)
	if idx >= 0 {
		w.hosts = slices.Delete(w.hosts, idx, idx+1)
	}
	w.mu.Unlock()

	if idx >= 0 {
		w.logger.Info("Host left the bus", zap.String("name", name))
		w.conn.RemoveMatchSignal(nameOwnerChangedMatch(name)...)
		w.emit(signalHostUnregistered)
		w.emitPropertiesChanged("IsStatusNotifierHostRegistered")
	}

	removed, err := w.registry.RemoveSender(name)
	if err != nil {
		w.logger.Error("Failed to unregister items", zap.String("sender", name), zap.Error(err))
		w.fail(err)
		return
	}

	if len(removed) == 0 {
		return
	}

	w.conn.RemoveMatchSignal(nameOwnerChangedMatch(name)...)

	for _, item := range removed {
		w.logger.Info("Item left the bus",
			zap.String("service", item.Service),
			zap.String("sender", item.Sender))
		w.recorder.ItemUnregistered(item)
		w.emit(signalItemUnregistered, item.Registration())
	}

	w.recorder.RegistrySize(w.registry.Len())
	w.emitPropertiesChanged("RegisteredStatusNotifierItems")
}

func nameOwnerChangedMatch(name string) []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchSender("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
		dbus.WithMatchArg(0, name),
	}
}

// senders returns distinct senders of items, in registration order.
func senders(items []RegisteredItem) []string {
	var result []string

	for _, item := range items {
		if !slices.Contains(result, item.Sender) {
			result = append(result, item.Sender)
		}
	}

	return result
}
