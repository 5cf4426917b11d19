package systray

import (
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"go.uber.org/zap"
)

// watcherProperties implements org.freedesktop.DBus.Properties for the
// watcher object. Values are computed on every read, so the registry is never
// served from a stale copy.
type watcherProperties struct {
	w *Watcher
}

// Get implements org.freedesktop.DBus.Properties.Get.
func (p *watcherProperties) Get(iface, property string) (dbus.Variant, *dbus.Error) {
	if iface != StatusNotifierWatcherInterface {
		return dbus.Variant{}, unknownProperty(iface, property)
	}

	switch property {
	case "RegisteredStatusNotifierItems":
		registrations, err := p.w.registry.Registrations()
		if err != nil {
			p.w.logger.Error("Failed to read registry", zap.Error(err))
			p.w.fail(err)
			return dbus.Variant{}, dbus.MakeFailedError(err)
		}
		return dbus.MakeVariant(registrations), nil
	case "IsStatusNotifierHostRegistered":
		return dbus.MakeVariant(p.w.isHostRegistered()), nil
	case "ProtocolVersion":
		return dbus.MakeVariant(WatcherProtocolVersion), nil
	}

	return dbus.Variant{}, unknownProperty(iface, property)
}

// GetAll implements org.freedesktop.DBus.Properties.GetAll.
func (p *watcherProperties) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != StatusNotifierWatcherInterface {
		return nil, dbus.NewError(dbusErrUnknownInterface, []any{"unknown interface " + iface})
	}

	props := make(map[string]dbus.Variant, 3)

	for _, name := range []string{"RegisteredStatusNotifierItems", "IsStatusNotifierHostRegistered", "ProtocolVersion"} {
		value, err := p.Get(iface, name)
		if err != nil {
			return nil, err
		}
		props[name] = value
	}

	return props, nil
}

// Set implements org.freedesktop.DBus.Properties.Set. All watcher properties
// are read-only.
func (p *watcherProperties) Set(iface, property string, _ dbus.Variant) *dbus.Error {
	if iface != StatusNotifierWatcherInterface {
		return unknownProperty(iface, property)
	}

	return dbus.NewError(dbusErrPropertyReadOnly, []any{"property " + property + " is read-only"})
}

func unknownProperty(iface, property string) *dbus.Error {
	return dbus.NewError(dbusErrUnknownProperty, []any{"unknown property " + iface + "." + property})
}

// emitPropertiesChanged emits org.freedesktop.DBus.Properties.PropertiesChanged
// with the current value of property.
func (w *Watcher) emitPropertiesChanged(property string) {
	value, dbusErr := (&watcherProperties{w: w}).Get(StatusNotifierWatcherInterface, property)
	if dbusErr != nil {
		return
	}

	err := w.conn.Emit(
		StatusNotifierWatcherPath,
		propertiesInterface+".PropertiesChanged",
		StatusNotifierWatcherInterface,
		map[string]dbus.Variant{property: value},
		[]string{},
	)
	if err != nil {
		w.logger.Warn("Failed to emit PropertiesChanged", zap.String("property", property), zap.Error(err))
	}
}

// watcherIntrospection describes the watcher object.
func watcherIntrospection() *introspect.Node {
	return &introspect.Node{
		Name: StatusNotifierWatcherPath,
		Interfaces: []introspect.Interface{
			{
				Name: StatusNotifierWatcherInterface,
				Methods: []introspect.Method{
					{
						Name: "RegisterStatusNotifierItem",
						Args: []introspect.Arg{{Name: "service", Type: "s", Direction: "in"}},
					},
					{
						Name: "RegisterStatusNotifierHost",
						Args: []introspect.Arg{{Name: "service", Type: "s", Direction: "in"}},
					},
				},
				Signals: []introspect.Signal{
					{Name: signalItemRegistered, Args: []introspect.Arg{{Type: "s"}}},
					{Name: signalItemUnregistered, Args: []introspect.Arg{{Type: "s"}}},
					{Name: signalHostRegistered},
					{Name: signalHostUnregistered},
				},
				Properties: []introspect.Property{
					{Name: "RegisteredStatusNotifierItems", Type: "as", Access: "read"},
					{Name: "IsStatusNotifierHostRegistered", Type: "b", Access: "read"},
					{Name: "ProtocolVersion", Type: "y", Access: "read"},
				},
			},
			{
				Name: propertiesInterface,
				Methods: []introspect.Method{
					{
						Name: "Get",
						Args: []introspect.Arg{
							{Name: "interface", Type: "s", Direction: "in"},
							{Name: "property", Type: "s", Direction: "in"},
							{Name: "value", Type: "v", Direction: "out"},
						},
					},
					{
						Name: "GetAll",
						Args: []introspect.Arg{
							{Name: "interface", Type: "s", Direction: "in"},
							{Name: "properties", Type: "a{sv}", Direction: "out"},
						},
					},
					{
						Name: "Set",
						Args: []introspect.Arg{
							{Name: "interface", Type: "s", Direction: "in"},
							{Name: "property", Type: "s", Direction: "in"},
							{Name: "value", Type: "v", Direction: "in"},
						},
					},
				},
				Signals: []introspect.Signal{
					{
						Name: "PropertiesChanged",
						Args: []introspect.Arg{
							{Name: "interface", Type: "s"},
							{Name: "changed", Type: "a{sv}"},
							{Name: "invalidated", Type: "as"},
						},
					},
				},
			},
		},
	}
}
