package bustest

import (
	"context"
	"sync"

	"github.com/godbus/dbus/v5"
)

// Handler implements a stubbed method. It returns the reply body or an
// error, usually a dbus.Error.
type Handler func(args ...any) ([]any, error)

// Call is a method call received by an [Object].
type Call struct {
	Method string
	Args   []any
}

// Object is a stubbed remote object. Properties are served through
// org.freedesktop.DBus.Properties, methods through handlers. Methods without
// a handler fail with UnknownMethod.
type Object struct {
	dest string
	path dbus.ObjectPath

	mu      sync.Mutex
	props   map[string]map[string]dbus.Variant
	methods map[string]Handler
	calls   []Call
	hang    bool
}

var _ dbus.BusObject = (*Object)(nil)

// SetProp sets property name of iface to value.
func (o *Object) SetProp(iface, name string, value any) *Object {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.props[iface] == nil {
		o.props[iface] = make(map[string]dbus.Variant)
	}
	o.props[iface][name] = dbus.MakeVariant(value)

	return o
}

// Handle installs handler for method "iface.Member".
func (o *Object) Handle(method string, handler Handler) *Object {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.methods[method] = handler

	return o
}

// Hang makes every following call block until its context is done, like a
// peer that never replies.
func (o *Object) Hang() *Object {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.hang = true

	return o
}

// Calls returns the calls received so far, properties access excluded.
func (o *Object) Calls() []Call {
	o.mu.Lock()
	defer o.mu.Unlock()

	calls := make([]Call, len(o.calls))
	copy(calls, o.calls)

	return calls
}

func (o *Object) Call(method string, flags dbus.Flags, args ...any) *dbus.Call {
	return o.CallWithContext(context.Background(), method, flags, args...)
}

func (o *Object) CallWithContext(ctx context.Context, method string, _ dbus.Flags, args ...any) *dbus.Call {
	o.mu.Lock()
	hang := o.hang
	o.mu.Unlock()

	if hang {
		<-ctx.Done()
		return &dbus.Call{Err: ctx.Err()}
	}

	if err := ctx.Err(); err != nil {
		return &dbus.Call{Err: err}
	}

	switch method {
	case propertiesIf + ".Get":
		return o.get(args)
	case propertiesIf + ".GetAll":
		return o.getAll(args)
	}

	o.mu.Lock()
	o.calls = append(o.calls, Call{Method: method, Args: args})
	handler, ok := o.methods[method]
	o.mu.Unlock()

	if !ok {
		return errorCall(errUnknownMethod, "no such method "+method)
	}

	body, err := handler(args...)
	if err != nil {
		return &dbus.Call{Err: err}
	}

	return &dbus.Call{
		Destination: o.dest,
		Path:        o.path,
		Method:      method,
		Args:        args,
		Body:        body,
	}
}

func (o *Object) get(args []any) *dbus.Call {
	if len(args) != 2 {
		return errorCall(errInvalidArgs, "expected interface and property")
	}

	iface, _ := args[0].(string)
	name, _ := args[1].(string)

	o.mu.Lock()
	defer o.mu.Unlock()

	props, ok := o.props[iface]
	if !ok {
		return errorCall(errUnknownInterface, "no such interface "+iface)
	}

	value, ok := props[name]
	if !ok {
		return errorCall(errUnknownProperty, "no such property "+name)
	}

	return &dbus.Call{Body: []any{value}}
}

func (o *Object) getAll(args []any) *dbus.Call {
	if len(args) != 1 {
		return errorCall(errInvalidArgs, "expected interface")
	}

	iface, _ := args[0].(string)

	o.mu.Lock()
	defer o.mu.Unlock()

	props, ok := o.props[iface]
	if !ok {
		return errorCall(errUnknownInterface, "no such interface "+iface)
	}

	all := make(map[string]dbus.Variant, len(props))
	for name, value := range props {
		all[name] = value
	}

	return &dbus.Call{Body: []any{all}}
}

func (o *Object) Go(method string, flags dbus.Flags, ch chan *dbus.Call, args ...any) *dbus.Call {
	return complete(o.Call(method, flags, args...), ch)
}

func (o *Object) GoWithContext(ctx context.Context, method string, flags dbus.Flags, ch chan *dbus.Call, args ...any) *dbus.Call {
	return complete(o.CallWithContext(ctx, method, flags, args...), ch)
}

func (o *Object) AddMatchSignal(string, string, ...dbus.MatchOption) *dbus.Call {
	return &dbus.Call{}
}

func (o *Object) RemoveMatchSignal(string, string, ...dbus.MatchOption) *dbus.Call {
	return &dbus.Call{}
}

func (o *Object) GetProperty(p string) (dbus.Variant, error) {
	var value dbus.Variant
	err := o.StoreProperty(p, &value)
	return value, err
}

func (o *Object) StoreProperty(p string, value any) error {
	iface, name := splitMethod(p)
	return o.Call(propertiesIf+".Get", 0, iface, name).Store(value)
}

// SetProperty implements dbus.BusObject. Stubbed properties are read-only.
func (o *Object) SetProperty(string, any) error {
	return dbus.Error{Name: "org.freedesktop.DBus.Error.PropertyReadOnly"}
}

func (o *Object) Destination() string   { return o.dest }
func (o *Object) Path() dbus.ObjectPath { return o.path }
