package systray

import (
	"fmt"
	"slices"
	"sync"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

// Host implements [StatusNotifierHost]. It reads the item registry of the
// [StatusNotifierWatcher] and builds [Item] proxies from it.
//
// The query methods ([Host.RegisteredStatusNotifierItems], [Host.Item],
// [Host.Items]) work without [Host.Listen]. Listen additionally registers the
// host in the watcher and keeps track of items via watcher signals.
//
// [StatusNotifierHost]: https://www.freedesktop.org/wiki/Specifications/StatusNotifierItem/StatusNotifierHost/
// [StatusNotifierWatcher]: https://www.freedesktop.org/wiki/Specifications/StatusNotifierItem/StatusNotifierWatcher/
type Host struct {
	name    string
	conn    Conn
	opts    []Option
	watcher *remote
	logger  *zap.Logger

	mu             sync.RWMutex
	closed         bool
	listening      bool
	items          map[string]*Item
	order          []string
	signals        chan *dbus.Signal
	onRegistered   func(item *Item)
	onUnregistered func(item *Item)
}

// NewHost returns a new [Host] bound to the watcher name. The watcher is not
// contacted until the first call.
//
// Parameter id is used as a unique identifier for host name, such as PID.
func NewHost(conn Conn, id any, opts ...Option) *Host {
	o := newOptions(opts)

	return &Host{
		name: fmt.Sprintf("org.kde.StatusNotifierHost-%v", id),
		conn: conn,
		opts: opts,
		watcher: &remote{
			object:   conn.Object(StatusNotifierWatcherInterface, StatusNotifierWatcherPath),
			timeout:  o.timeout,
			recorder: o.recorder,
		},
		logger:         o.logger.Named("host"),
		items:          make(map[string]*Item),
		signals:        make(chan *dbus.Signal, 64),
		onRegistered:   func(*Item) {},
		onUnregistered: func(*Item) {},
	}
}

// Name returns name of the host service.
func (h *Host) Name() string {
	return h.name
}

// ProtocolVersion returns the ProtocolVersion property of the watcher.
func (h *Host) ProtocolVersion() (uint8, error) {
	return typedProperty[uint8](h.watcher, StatusNotifierWatcherInterface, "ProtocolVersion")
}

// RegisteredStatusNotifierItems returns registration strings of the items
// registered in the watcher, as is.
func (h *Host) RegisteredStatusNotifierItems() ([]string, error) {
	return typedProperty[[]string](h.watcher, StatusNotifierWatcherInterface, "RegisteredStatusNotifierItems")
}

// Item returns the item at index in the current registry of the watcher.
//
// The registry is read once; an item registered after the read is not seen.
func (h *Host) Item(index int) (*Item, error) {
	registrations, err := h.RegisteredStatusNotifierItems()
	if err != nil {
		return nil, fmt.Errorf("item %d: %w", index, err)
	}

	if index < 0 || index >= len(registrations) {
		return nil, fmt.Errorf("item %d: %w (%d registered)", index, ErrOutOfRange, len(registrations))
	}

	return NewItem(h.conn, registrations[index], h.opts...)
}

// Items returns all items registered in the watcher, in registration order.
//
// Registration strings that cannot be parsed are skipped, so that one
// misbehaving application does not hide the others. An error is only
// returned if the registry itself cannot be read.
func (h *Host) Items() ([]*Item, error) {
	registrations, err := h.RegisteredStatusNotifierItems()
	if err != nil {
		return nil, fmt.Errorf("items: %w", err)
	}

	items := make([]*Item, 0, len(registrations))

	for _, registration := range registrations {
		item, err := NewItem(h.conn, registration, h.opts...)
		if err != nil {
			h.logger.Warn("Skipping item", zap.String("registration", registration), zap.Error(err))
			continue
		}

		items = append(items, item)
	}

	return items, nil
}

// Listen requests name of the host on D-Bus, registers it in the watcher,
// subscribes to watcher signals, and queries items that are already
// registered.
//
// This method should be called after [Host.OnRegistered] and
// [Host.OnUnregistered] callbacks were set.
//
// If Listen is called after [Host.Close], an error is returned.
func (h *Host) Listen() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return fmt.Errorf("listen: host is %w", ErrClosed)
	}

	reply, err := h.conn.RequestName(h.name, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("listen: failed to request name %s: %w", h.name, err)
	}

	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("listen: %w: %s", ErrNameTaken, h.name)
	}

	if err := h.watcher.call(StatusNotifierWatcherInterface, "RegisterStatusNotifierHost", nil, h.name); err != nil {
		return fmt.Errorf("listen: failed to register host: %w", err)
	}

	if err := h.subscribe(); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	h.listening = true
	h.getInitialItems()

	h.logger.Info("Host is listening", zap.String("name", h.name), zap.Int("items", len(h.order)))

	return nil
}

// Close releases name of the host from D-Bus and unsubscribes from signals.
//
// Host cannot be reused after Close was called.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}

	h.closed = true

	if !h.listening {
		return nil
	}

	for _, member := range []string{signalItemRegistered, signalItemUnregistered} {
		if err := h.conn.RemoveMatchSignal(watcherSignalMatch(member)...); err != nil {
			return err
		}
	}

	h.conn.RemoveSignal(h.signals)
	close(h.signals)

	// Close all items to unregister signals from the session bus.
	for _, item := range h.items {
		item.Close()
	}

	h.items = nil
	h.order = nil
	h.onRegistered = func(*Item) {}
	h.onUnregistered = func(*Item) {}

	if _, err := h.conn.ReleaseName(h.name); err != nil {
		return err
	}

	return nil
}

// Tracked returns items tracked since [Host.Listen], in registration order.
func (h *Host) Tracked() []*Item {
	h.mu.RLock()
	defer h.mu.RUnlock()

	items := make([]*Item, 0, len(h.order))
	for _, registration := range h.order {
		items = append(items, h.items[registration])
	}

	return items
}

// OnRegistered sets callback that runs whenever a new item is registered.
//
// Graphical tray hosts should draw item representation when OnRegistered
// callback is called. Callbacks run with the host locked and must not call
// methods of the host.
func (h *Host) OnRegistered(callback func(*Item)) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.onRegistered = callback
}

// OnUnregistered sets callback that runs whenever an item is unregistered.
//
// Graphical tray hosts should destroy item representation when OnUnregistered
// callback is called.
func (h *Host) OnUnregistered(callback func(*Item)) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.onUnregistered = callback
}

// getInitialItems retrieves items that are already registered.
func (h *Host) getInitialItems() {
	registrations, err := h.RegisteredStatusNotifierItems()
	if err != nil {
		h.logger.Warn("Failed to read registered items", zap.Error(err))
		return
	}

	for _, registration := range registrations {
		h.track(registration)
	}
}

// subscribe subscribes to signals
//   - org.kde.StatusNotifierWatcher.StatusNotifierItemRegistered
//   - org.kde.StatusNotifierWatcher.StatusNotifierItemUnregistered
func (h *Host) subscribe() error {
	for _, member := range []string{signalItemRegistered, signalItemUnregistered} {
		if err := h.conn.AddMatchSignal(watcherSignalMatch(member)...); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", member, err)
		}
	}

	h.conn.Signal(h.signals)

	go func() {
		for signal := range h.signals {
			switch signal.Name {
			case StatusNotifierWatcherInterface + "." + signalItemRegistered:
				h.handleRegisteredSignal(signal)
			case StatusNotifierWatcherInterface + "." + signalItemUnregistered:
				h.handleUnregisteredSignal(signal)
			}
		}
	}()

	return nil
}

// track starts tracking the item with the given registration string. It must
// be called with h.mu held.
func (h *Host) track(registration string) {
	if _, exists := h.items[registration]; exists {
		return
	}

	item, err := NewItem(h.conn, registration, h.opts...)
	if err != nil {
		h.logger.Warn("Skipping item", zap.String("registration", registration), zap.Error(err))
		return
	}

	h.items[registration] = item
	h.order = append(h.order, registration)
	h.onRegistered(item)
}

// handleRegisteredSignal handles the
// org.kde.StatusNotifierWatcher.StatusNotifierItemRegistered signal.
func (h *Host) handleRegisteredSignal(signal *dbus.Signal) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	registration, ok := registrationFromSignal(signal)
	if !ok {
		h.logger.Debug("Malformed StatusNotifierItemRegistered signal", zap.Any("body", signal.Body))
		return
	}

	h.track(registration)
}

// handleUnregisteredSignal handles the
// org.kde.StatusNotifierWatcher.StatusNotifierItemUnregistered signal.
func (h *Host) handleUnregisteredSignal(signal *dbus.Signal) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	registration, ok := registrationFromSignal(signal)
	if !ok {
		return
	}

	item, exists := h.items[registration]
	if !exists {
		return
	}

	h.onUnregistered(item)
	item.Close()

	delete(h.items, registration)
	h.order = slices.DeleteFunc(h.order, func(r string) bool { return r == registration })
}

func watcherSignalMatch(member string) []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchInterface(StatusNotifierWatcherInterface),
		dbus.WithMatchMember(member),
		dbus.WithMatchObjectPath(StatusNotifierWatcherPath),
	}
}

// registrationFromSignal retrieves the registration string carried by a
// watcher signal.
func registrationFromSignal(signal *dbus.Signal) (string, bool) {
	if len(signal.Body) < 1 {
		return "", false
	}

	registration, ok := signal.Body[0].(string)
	return registration, ok
}
