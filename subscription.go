package systray

import (
	"fmt"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
)

// Subscription is a signal handler registered on an [Item]. The handler runs
// on a dedicated goroutine until [Subscription.Cancel] is called or the bus
// connection is closed.
type Subscription struct {
	conn    Conn
	member  string
	match   []dbus.MatchOption
	signals chan *dbus.Signal
	once    sync.Once
	onClose func(*Subscription)
}

// Member returns the name of the signal, e.g. "NewTitle".
func (s *Subscription) Member() string {
	return s.member
}

// Cancel removes the match rule and stops the handler. It is safe to call
// Cancel more than once.
func (s *Subscription) Cancel() error {
	var err error

	s.once.Do(func() {
		err = s.conn.RemoveMatchSignal(s.match...)
		s.conn.RemoveSignal(s.signals)
		close(s.signals)

		if s.onClose != nil {
			s.onClose(s)
		}
	})

	if err != nil {
		return fmt.Errorf("cancel %s: %w", s.member, err)
	}

	return nil
}

// subscribe registers handler for signal member of the item.
func (item *Item) subscribe(member string, handler func(*dbus.Signal)) (*Subscription, error) {
	owner, err := item.owner()
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", member, err)
	}

	match := []dbus.MatchOption{
		dbus.WithMatchInterface(StatusNotifierItemInterface),
		dbus.WithMatchMember(member),
		dbus.WithMatchSender(item.ref.Destination),
		dbus.WithMatchObjectPath(item.ref.Path),
	}

	if err := item.conn.AddMatchSignal(match...); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", member, &CallError{
			Destination: item.ref.Destination,
			Path:        item.ref.Path,
			Member:      member,
			Kind:        ErrTransport,
			Err:         err,
		})
	}

	sub := &Subscription{
		conn:    item.conn,
		member:  member,
		match:   match,
		signals: make(chan *dbus.Signal, 16),
		onClose: item.forget,
	}

	item.conn.Signal(sub.signals)

	name := StatusNotifierItemInterface + "." + member

	go func() {
		// Connection receives signals of all subscriptions, filter ours.
		for signal := range sub.signals {
			if signal.Name != name || signal.Path != item.ref.Path || signal.Sender != owner {
				continue
			}

			handler(signal)
		}
	}()

	item.mu.Lock()
	item.subscriptions = append(item.subscriptions, sub)
	item.mu.Unlock()

	return sub, nil
}

// owner returns the unique name that emits signals of the item. Signals carry
// the unique name of the sender even if the item is addressed by a
// well-known name.
func (item *Item) owner() (string, error) {
	if strings.HasPrefix(item.ref.Destination, ":") {
		return item.ref.Destination, nil
	}

	bus := &remote{
		object:   item.conn.Object("org.freedesktop.DBus", "/org/freedesktop/DBus"),
		timeout:  item.remote.timeout,
		recorder: item.remote.recorder,
	}

	var owner string
	if err := bus.call("org.freedesktop.DBus", "GetNameOwner", []any{&owner}, item.ref.Destination); err != nil {
		return "", err
	}

	return owner, nil
}

func (item *Item) forget(sub *Subscription) {
	item.mu.Lock()
	defer item.mu.Unlock()

	for idx, s := range item.subscriptions {
		if s == sub {
			item.subscriptions = append(item.subscriptions[:idx], item.subscriptions[idx+1:]...)
			return
		}
	}
}
