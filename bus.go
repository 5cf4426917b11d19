package systray

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
)

// DefaultCallTimeout bounds every call against a remote object, so that a
// hung item cannot stall the host.
const DefaultCallTimeout = 50 * time.Millisecond

const (
	propertiesInterface = "org.freedesktop.DBus.Properties"
	getProperty         = propertiesInterface + ".Get"
	getAllProperties    = propertiesInterface + ".GetAll"
)

// Conn is the subset of [*dbus.Conn] used by this package.
type Conn interface {
	Object(dest string, path dbus.ObjectPath) dbus.BusObject
	Names() []string

	RequestName(name string, flags dbus.RequestNameFlags) (dbus.RequestNameReply, error)
	ReleaseName(name string) (dbus.ReleaseNameReply, error)

	Export(v any, path dbus.ObjectPath, iface string) error
	Emit(path dbus.ObjectPath, name string, values ...any) error

	AddMatchSignal(options ...dbus.MatchOption) error
	RemoveMatchSignal(options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
}

var _ Conn = (*dbus.Conn)(nil)

// remote performs timeout-bounded calls on a single remote object.
type remote struct {
	object   dbus.BusObject
	timeout  time.Duration
	recorder Recorder
}

// call invokes iface.member on the object and stores the reply into ret.
func (r *remote) call(iface, member string, ret []any, args ...any) error {
	ctx, cancel := r.context()
	defer cancel()

	start := time.Now()
	c := r.object.CallWithContext(ctx, iface+"."+member, dbus.FlagNoAutoStart, args...)

	err := c.Err
	if err != nil {
		err = r.wrap(member, classify(err, false), err)
	} else if len(ret) > 0 {
		if storeErr := c.Store(ret...); storeErr != nil {
			err = r.wrap(member, ErrMalformedReply, storeErr)
		}
	}

	r.recorder.ObserveCall(member, start, err)

	return err
}

// property reads iface.name from the object.
func (r *remote) property(iface, name string) (dbus.Variant, error) {
	ctx, cancel := r.context()
	defer cancel()

	start := time.Now()
	c := r.object.CallWithContext(ctx, getProperty, dbus.FlagNoAutoStart, iface, name)

	var (
		value dbus.Variant
		err   = c.Err
	)

	if err != nil {
		err = r.wrap(name, classify(err, true), err)
	} else if storeErr := c.Store(&value); storeErr != nil {
		err = r.wrap(name, ErrMalformedReply, storeErr)
	}

	r.recorder.ObserveCall(name, start, err)

	return value, err
}

// allProperties reads all properties of iface from the object.
func (r *remote) allProperties(iface string) (map[string]dbus.Variant, error) {
	var props map[string]dbus.Variant

	ctx, cancel := r.context()
	defer cancel()

	start := time.Now()
	c := r.object.CallWithContext(ctx, getAllProperties, dbus.FlagNoAutoStart, iface)

	err := c.Err
	if err != nil {
		err = r.wrap("GetAll", classify(err, false), err)
	} else if storeErr := c.Store(&props); storeErr != nil {
		err = r.wrap("GetAll", ErrMalformedReply, storeErr)
	}

	r.recorder.ObserveCall("GetAll", start, err)

	return props, err
}

func (r *remote) context() (context.Context, context.CancelFunc) {
	timeout := r.timeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	return context.WithTimeout(context.Background(), timeout)
}

func (r *remote) wrap(member string, kind, err error) error {
	return &CallError{
		Destination: r.object.Destination(),
		Path:        r.object.Path(),
		Member:      member,
		Kind:        kind,
		Err:         err,
	}
}

// typedProperty reads a property and asserts its type, reporting a malformed
// reply if it does not match.
func typedProperty[T any](r *remote, iface, name string) (T, error) {
	var zero T

	variant, err := r.property(iface, name)
	if err != nil {
		return zero, err
	}

	value, ok := variant.Value().(T)
	if !ok {
		return zero, r.wrap(name, ErrMalformedReply, typeMismatch[T](variant))
	}

	return value, nil
}

func typeMismatch[T any](v dbus.Variant) error {
	var zero T
	return fmt.Errorf("expected %T, got %s", zero, v.Signature())
}
