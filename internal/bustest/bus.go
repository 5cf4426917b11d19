// Package bustest provides an in-memory message bus for tests of code that
// talks to D-Bus through [systray.Conn].
//
// A [Bus] routes method calls between its connections: calls addressed to a
// name owned by a connection are dispatched to the values exported on it,
// the same way godbus dispatches incoming calls. Remote objects that are not
// implemented in Go are stubbed with [Bus.AddObject].
package bustest

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	busName      = "org.freedesktop.DBus"
	busPath      = dbus.ObjectPath("/org/freedesktop/DBus")
	propertiesIf = "org.freedesktop.DBus.Properties"

	errServiceUnknown   = "org.freedesktop.DBus.Error.ServiceUnknown"
	errNameHasNoOwner   = "org.freedesktop.DBus.Error.NameHasNoOwner"
	errUnknownObject    = "org.freedesktop.DBus.Error.UnknownObject"
	errUnknownInterface = "org.freedesktop.DBus.Error.UnknownInterface"
	errUnknownMethod    = "org.freedesktop.DBus.Error.UnknownMethod"
	errUnknownProperty  = "org.freedesktop.DBus.Error.UnknownProperty"
	errInvalidArgs      = "org.freedesktop.DBus.Error.InvalidArgs"
)

var senderType = reflect.TypeOf(dbus.Sender(""))

// Bus is an in-memory message bus.
type Bus struct {
	mu      sync.Mutex
	serial  int
	conns   []*Conn
	owners  map[string]*Conn
	aliases map[string]string
	objects map[objectKey]*Object
}

type objectKey struct {
	dest string
	path dbus.ObjectPath
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{
		owners:  make(map[string]*Conn),
		aliases: make(map[string]string),
		objects: make(map[objectKey]*Object),
	}
}

// Connect returns a new connection with a fresh unique name.
func (b *Bus) Connect() *Conn {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.serial++

	conn := &Conn{
		bus:     b,
		unique:  fmt.Sprintf(":1.%d", b.serial),
		exports: make(map[exportKey]any),
	}
	b.conns = append(b.conns, conn)

	return conn
}

// AddObject stubs a remote object at dest and path. dest is usually a unique
// name such as ":1.23"; use [Bus.SetNameOwner] for well-known names.
func (b *Bus) AddObject(dest string, path dbus.ObjectPath) *Object {
	b.mu.Lock()
	defer b.mu.Unlock()

	object := &Object{
		dest:    dest,
		path:    path,
		props:   make(map[string]map[string]dbus.Variant),
		methods: make(map[string]Handler),
	}
	b.objects[objectKey{dest, path}] = object

	return object
}

// SetNameOwner makes GetNameOwner(name) return owner.
func (b *Bus) SetNameOwner(name, owner string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.aliases[name] = owner
}

// Emit broadcasts a signal from sender to every connection.
func (b *Bus) Emit(sender string, path dbus.ObjectPath, name string, values ...any) {
	b.deliver(&dbus.Signal{
		Sender: sender,
		Path:   path,
		Name:   name,
		Body:   values,
	})
}

// Disconnect simulates that the peer with the given unique name left the
// bus by emitting NameOwnerChanged for it.
func (b *Bus) Disconnect(unique string) {
	b.Emit(busName, busPath, busName+".NameOwnerChanged", unique, unique, "")
}

func (b *Bus) deliver(signal *dbus.Signal) {
	b.mu.Lock()
	conns := slices.Clone(b.conns)
	b.mu.Unlock()

	for _, conn := range conns {
		conn.deliver(signal)
	}
}

func (b *Bus) nameOwner(name string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if strings.HasPrefix(name, ":") {
		return name, true
	}

	if conn, ok := b.owners[name]; ok {
		return conn.unique, true
	}

	owner, ok := b.aliases[name]
	return owner, ok
}

// resolve returns the target of a call to dest and path.
func (b *Bus) resolve(caller *Conn, dest string, path dbus.ObjectPath) dbus.BusObject {
	b.mu.Lock()
	defer b.mu.Unlock()

	if object, ok := b.objects[objectKey{dest, path}]; ok {
		return object
	}

	if dest == busName {
		return &daemonObject{
			absentObject: absentObject{dest: busName, path: path, name: errUnknownMethod},
			bus:          b,
		}
	}

	owner, ok := b.owners[dest]
	if !ok {
		for _, conn := range b.conns {
			if conn.unique == dest {
				owner, ok = conn, true
				break
			}
		}
	}

	if !ok {
		for key := range b.objects {
			if key.dest == dest {
				return &absentObject{dest: dest, path: path, name: errUnknownObject}
			}
		}
		return &absentObject{dest: dest, path: path, name: errServiceUnknown}
	}

	return &exportedObject{caller: caller, owner: owner, dest: dest, path: path}
}

// Conn is a connection to a [Bus]. It implements systray.Conn.
type Conn struct {
	bus    *Bus
	unique string

	mu      sync.Mutex
	names   []string
	exports map[exportKey]any
	matches [][]dbus.MatchOption

	sigMu     sync.RWMutex
	sigClosed bool
	signals   []*signalChannel
	closed  bool
}

type exportKey struct {
	path  dbus.ObjectPath
	iface string
}

// Unique returns the unique name of the connection, e.g. ":1.1".
func (c *Conn) Unique() string {
	return c.unique
}

func (c *Conn) Object(dest string, path dbus.ObjectPath) dbus.BusObject {
	return c.bus.resolve(c, dest, path)
}

func (c *Conn) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string{c.unique}, c.names...)
}

func (c *Conn) RequestName(name string, _ dbus.RequestNameFlags) (dbus.RequestNameReply, error) {
	if c.isClosed() {
		return 0, dbus.ErrClosed
	}

	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()

	if owner, ok := c.bus.owners[name]; ok {
		if owner == c {
			return dbus.RequestNameReplyAlreadyOwner, nil
		}
		return dbus.RequestNameReplyExists, nil
	}

	c.bus.owners[name] = c

	c.mu.Lock()
	c.names = append(c.names, name)
	c.mu.Unlock()

	return dbus.RequestNameReplyPrimaryOwner, nil
}

func (c *Conn) ReleaseName(name string) (dbus.ReleaseNameReply, error) {
	if c.isClosed() {
		return 0, dbus.ErrClosed
	}

	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()

	owner, ok := c.bus.owners[name]
	if !ok {
		return dbus.ReleaseNameReplyNonExistent, nil
	}
	if owner != c {
		return dbus.ReleaseNameReplyNotOwner, nil
	}

	delete(c.bus.owners, name)

	c.mu.Lock()
	c.names = slices.DeleteFunc(c.names, func(n string) bool { return n == name })
	c.mu.Unlock()

	return dbus.ReleaseNameReplyReleased, nil
}

func (c *Conn) Export(v any, path dbus.ObjectPath, iface string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return dbus.ErrClosed
	}

	key := exportKey{path, iface}
	if v == nil {
		delete(c.exports, key)
		return nil
	}

	c.exports[key] = v
	return nil
}

// Exported returns the value exported at path and iface, or nil.
func (c *Conn) Exported(path dbus.ObjectPath, iface string) any {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.exports[exportKey{path, iface}]
}

func (c *Conn) Emit(path dbus.ObjectPath, name string, values ...any) error {
	if c.isClosed() {
		return dbus.ErrClosed
	}

	c.bus.Emit(c.unique, path, name, values...)
	return nil
}

func (c *Conn) AddMatchSignal(options ...dbus.MatchOption) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return dbus.ErrClosed
	}

	c.matches = append(c.matches, options)
	return nil
}

func (c *Conn) RemoveMatchSignal(options ...dbus.MatchOption) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := slices.IndexFunc(c.matches, func(m []dbus.MatchOption) bool {
		return reflect.DeepEqual(m, options)
	})
	if idx >= 0 {
		c.matches = slices.Delete(c.matches, idx, idx+1)
	}

	return nil
}

// Matches returns the number of active match rules.
func (c *Conn) Matches() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.matches)
}

func (c *Conn) Signal(ch chan<- *dbus.Signal) {
	c.sigMu.Lock()
	defer c.sigMu.Unlock()

	if c.sigClosed {
		return
	}

	c.signals = append(c.signals, &signalChannel{ch: ch, done: make(chan struct{})})
}

// RemoveSignal stops delivery to ch. It returns once no delivery to ch is in
// progress, so ch may be closed afterwards.
func (c *Conn) RemoveSignal(ch chan<- *dbus.Signal) {
	c.sigMu.Lock()
	defer c.sigMu.Unlock()

	c.signals = slices.DeleteFunc(c.signals, func(s *signalChannel) bool {
		if s.ch != ch {
			return false
		}
		s.close()
		return true
	})
}

// Close releases the names of the connection and announces its departure
// with NameOwnerChanged.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	names := c.names
	c.names = nil
	c.exports = make(map[exportKey]any)
	c.mu.Unlock()

	c.bus.mu.Lock()
	for _, name := range names {
		if c.bus.owners[name] == c {
			delete(c.bus.owners, name)
		}
	}
	c.bus.conns = slices.DeleteFunc(c.bus.conns, func(conn *Conn) bool { return conn == c })
	c.bus.mu.Unlock()

	c.sigMu.Lock()
	for _, s := range c.signals {
		s.close()
	}
	c.signals = nil
	c.sigClosed = true
	c.sigMu.Unlock()

	for _, name := range names {
		c.bus.Emit(busName, busPath, busName+".NameOwnerChanged", name, c.unique, "")
	}
	c.bus.Disconnect(c.unique)

	return nil
}

func (c *Conn) deliver(signal *dbus.Signal) {
	c.sigMu.RLock()
	defer c.sigMu.RUnlock()

	for _, s := range c.signals {
		s.deliver(signal)
	}
}

// signalChannel delivers signals to a channel registered with Conn.Signal.
// A full channel does not block the bus, the signal is handed to a goroutine
// that waits until the channel has room or is removed.
type signalChannel struct {
	wg   sync.WaitGroup
	ch   chan<- *dbus.Signal
	done chan struct{}
}

func (s *signalChannel) deliver(signal *dbus.Signal) {
	select {
	case s.ch <- signal:
	case <-s.done:
	default:
		s.wg.Add(1)
		go s.deferredDeliver(signal)
	}
}

func (s *signalChannel) deferredDeliver(signal *dbus.Signal) {
	defer s.wg.Done()

	select {
	case s.ch <- signal:
	case <-s.done:
	}
}

func (s *signalChannel) close() {
	close(s.done)
	s.wg.Wait()
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

func (c *Conn) export(path dbus.ObjectPath, iface string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.exports[exportKey{path, iface}]
	return v, ok
}

func (c *Conn) hasPath(path dbus.ObjectPath) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.exports {
		if key.path == path {
			return true
		}
	}
	return false
}

// splitMethod splits "iface.Member" into its parts.
func splitMethod(method string) (string, string) {
	idx := strings.LastIndex(method, ".")
	if idx < 0 {
		return "", method
	}
	return method[:idx], method[idx+1:]
}

func errorCall(name string, args ...any) *dbus.Call {
	return &dbus.Call{Err: dbus.Error{Name: name, Body: args}}
}

// complete finishes a call the way godbus does for Go and GoWithContext.
func complete(call *dbus.Call, ch chan *dbus.Call) *dbus.Call {
	if ch == nil {
		ch = make(chan *dbus.Call, 1)
	}
	call.Done = ch
	ch <- call
	return call
}

// exportedObject dispatches calls to values exported on a connection.
type exportedObject struct {
	caller *Conn
	owner  *Conn
	dest   string
	path   dbus.ObjectPath
}

func (o *exportedObject) Call(method string, flags dbus.Flags, args ...any) *dbus.Call {
	return o.CallWithContext(context.Background(), method, flags, args...)
}

func (o *exportedObject) CallWithContext(ctx context.Context, method string, _ dbus.Flags, args ...any) *dbus.Call {
	if err := ctx.Err(); err != nil {
		return &dbus.Call{Err: err}
	}

	iface, member := splitMethod(method)

	v, ok := o.owner.export(o.path, iface)
	if !ok {
		if o.owner.hasPath(o.path) {
			return errorCall(errUnknownInterface, "no such interface "+iface)
		}
		return errorCall(errUnknownObject, "no such object "+string(o.path))
	}

	body, err := dispatch(v, member, o.caller.unique, args)
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

func (o *exportedObject) Go(method string, flags dbus.Flags, ch chan *dbus.Call, args ...any) *dbus.Call {
	return complete(o.Call(method, flags, args...), ch)
}

func (o *exportedObject) GoWithContext(ctx context.Context, method string, flags dbus.Flags, ch chan *dbus.Call, args ...any) *dbus.Call {
	return complete(o.CallWithContext(ctx, method, flags, args...), ch)
}

func (o *exportedObject) AddMatchSignal(iface, member string, options ...dbus.MatchOption) *dbus.Call {
	return &dbus.Call{}
}

func (o *exportedObject) RemoveMatchSignal(iface, member string, options ...dbus.MatchOption) *dbus.Call {
	return &dbus.Call{}
}

func (o *exportedObject) GetProperty(p string) (dbus.Variant, error) {
	var value dbus.Variant
	err := o.StoreProperty(p, &value)
	return value, err
}

func (o *exportedObject) StoreProperty(p string, value any) error {
	iface, name := splitMethod(p)
	return o.Call(propertiesIf+".Get", 0, iface, name).Store(value)
}

func (o *exportedObject) SetProperty(p string, v any) error {
	iface, name := splitMethod(p)
	return o.Call(propertiesIf+".Set", 0, iface, name, dbus.MakeVariant(v)).Err
}

func (o *exportedObject) Destination() string   { return o.dest }
func (o *exportedObject) Path() dbus.ObjectPath { return o.path }

// dispatch calls the method member of v with args. Parameters of type
// dbus.Sender receive sender. The last return value must be *dbus.Error.
func dispatch(v any, member, sender string, args []any) ([]any, error) {
	method := reflect.ValueOf(v).MethodByName(member)
	if !method.IsValid() {
		return nil, dbus.Error{Name: errUnknownMethod, Body: []any{"no such method " + member}}
	}

	t := method.Type()
	in := make([]reflect.Value, 0, t.NumIn())
	next := 0

	for i := 0; i < t.NumIn(); i++ {
		param := t.In(i)

		if param == senderType {
			in = append(in, reflect.ValueOf(dbus.Sender(sender)))
			continue
		}

		if next >= len(args) {
			return nil, dbus.Error{Name: errInvalidArgs, Body: []any{"too few arguments"}}
		}

		arg := reflect.ValueOf(args[next])
		next++

		if !arg.IsValid() || !arg.Type().AssignableTo(param) {
			return nil, dbus.Error{Name: errInvalidArgs, Body: []any{fmt.Sprintf("argument %d: expected %s", next-1, param)}}
		}

		in = append(in, arg)
	}

	if next != len(args) {
		return nil, dbus.Error{Name: errInvalidArgs, Body: []any{"too many arguments"}}
	}

	out := method.Call(in)
	if len(out) == 0 {
		return nil, nil
	}

	if dbusErr, ok := out[len(out)-1].Interface().(*dbus.Error); ok && dbusErr != nil {
		return nil, *dbusErr
	}

	body := make([]any, 0, len(out)-1)
	for _, value := range out[:len(out)-1] {
		body = append(body, value.Interface())
	}

	return body, nil
}

// absentObject fails every call with the given D-Bus error.
type absentObject struct {
	dest string
	path dbus.ObjectPath
	name string
}

func (o *absentObject) Call(method string, flags dbus.Flags, args ...any) *dbus.Call {
	return o.CallWithContext(context.Background(), method, flags, args...)
}

func (o *absentObject) CallWithContext(context.Context, string, dbus.Flags, ...any) *dbus.Call {
	return errorCall(o.name, o.dest+" is not on the bus")
}

func (o *absentObject) Go(method string, flags dbus.Flags, ch chan *dbus.Call, args ...any) *dbus.Call {
	return complete(o.Call(method, flags, args...), ch)
}

func (o *absentObject) GoWithContext(ctx context.Context, method string, flags dbus.Flags, ch chan *dbus.Call, args ...any) *dbus.Call {
	return complete(o.CallWithContext(ctx, method, flags, args...), ch)
}

func (o *absentObject) AddMatchSignal(string, string, ...dbus.MatchOption) *dbus.Call {
	return &dbus.Call{}
}

func (o *absentObject) RemoveMatchSignal(string, string, ...dbus.MatchOption) *dbus.Call {
	return &dbus.Call{}
}

func (o *absentObject) GetProperty(string) (dbus.Variant, error) {
	return dbus.Variant{}, o.CallWithContext(context.Background(), "", 0).Err
}

func (o *absentObject) StoreProperty(string, any) error {
	return o.CallWithContext(context.Background(), "", 0).Err
}

func (o *absentObject) SetProperty(string, any) error {
	return o.CallWithContext(context.Background(), "", 0).Err
}

func (o *absentObject) Destination() string   { return o.dest }
func (o *absentObject) Path() dbus.ObjectPath { return o.path }

// daemonObject answers the calls of the bus daemon used by this module.
type daemonObject struct {
	absentObject
	bus *Bus
}

func (o *daemonObject) Call(method string, flags dbus.Flags, args ...any) *dbus.Call {
	return o.CallWithContext(context.Background(), method, flags, args...)
}

func (o *daemonObject) CallWithContext(_ context.Context, method string, _ dbus.Flags, args ...any) *dbus.Call {
	if method != busName+".GetNameOwner" {
		return errorCall(errUnknownMethod, "no such method "+method)
	}

	if len(args) != 1 {
		return errorCall(errInvalidArgs, "expected one argument")
	}

	name, ok := args[0].(string)
	if !ok {
		return errorCall(errInvalidArgs, "expected a string")
	}

	owner, ok := o.bus.nameOwner(name)
	if !ok {
		return errorCall(errNameHasNoOwner, "no owner of "+name)
	}

	return &dbus.Call{Method: method, Args: args, Body: []any{owner}}
}

func (o *daemonObject) Go(method string, flags dbus.Flags, ch chan *dbus.Call, args ...any) *dbus.Call {
	return complete(o.Call(method, flags, args...), ch)
}

func (o *daemonObject) GoWithContext(ctx context.Context, method string, flags dbus.Flags, ch chan *dbus.Call, args ...any) *dbus.Call {
	return complete(o.CallWithContext(ctx, method, flags, args...), ch)
}
