package systray

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

// RegisteredItem is an entry of the watcher registry.
type RegisteredItem struct {
	// Service is the argument the application passed to
	// RegisterStatusNotifierItem.
	Service string

	// Sender is the unique bus name of the connection that registered the item.
	Sender string
}

// Registration returns the registration string of the item, as exposed by the
// RegisteredStatusNotifierItems property.
func (ri RegisteredItem) Registration() string {
	// Registry.Add rejects items whose service does not normalize.
	path, _ := NormalizeServicePath(ri.Service)
	return ri.Sender + string(path)
}

// ItemReference addresses a StatusNotifierItem object on the bus.
type ItemReference struct {
	Destination string
	Path        dbus.ObjectPath
}

func (ref ItemReference) String() string {
	return ref.Destination + string(ref.Path)
}

// NormalizeServicePath returns the object path of an item from the service
// argument of RegisterStatusNotifierItem:
//
//   - "/org/ayatana/NotificationItem/app" is an object path and is used as is;
//   - "org.kde.StatusNotifierItem-42-1" is a bus name, the item lives at
//     [StatusNotifierItemPath];
//   - "app1" is a single path element and becomes "/app1".
//
// Any other value, including one that contains "/" anywhere but at the start,
// is rejected.
func NormalizeServicePath(service string) (dbus.ObjectPath, error) {
	switch {
	case service == "":
		return "", fmt.Errorf("%w: empty service", ErrInvalidRegistration)
	case strings.HasPrefix(service, "/"):
		path := dbus.ObjectPath(service)
		if !path.IsValid() {
			return "", fmt.Errorf("%w: invalid object path %q", ErrInvalidRegistration, service)
		}
		return path, nil
	case strings.Contains(service, "/"):
		return "", fmt.Errorf("%w: service %q contains a path separator", ErrInvalidRegistration, service)
	case isValidBusName(service):
		return StatusNotifierItemPath, nil
	}

	path := dbus.ObjectPath("/" + service)
	if !path.IsValid() {
		return "", fmt.Errorf("%w: invalid service %q", ErrInvalidRegistration, service)
	}

	return path, nil
}

// EncodeRegistration returns the registration string for an item registered
// by sender with the given service argument.
//
// Format of the registration string is "<sender><objectPath>", e.g.
// ":1.185/StatusNotifierItem". Bus names cannot contain "/", so the first "/"
// always separates the two parts.
func EncodeRegistration(sender, service string) (string, error) {
	if !isValidBusName(sender) {
		return "", fmt.Errorf("%w: invalid sender %q", ErrInvalidRegistration, sender)
	}

	path, err := NormalizeServicePath(service)
	if err != nil {
		return "", err
	}

	return sender + string(path), nil
}

// ParseRegistration splits a registration string into bus name and object
// path.
//
// A registration string without a path, as produced by some external
// watchers, addresses [StatusNotifierItemPath] on the given bus name.
func ParseRegistration(registration string) (ItemReference, error) {
	destination, path, ok := strings.Cut(registration, "/")

	if !isValidBusName(destination) {
		return ItemReference{}, fmt.Errorf("%w: invalid bus name in %q", ErrInvalidRegistration, registration)
	}

	if !ok {
		return ItemReference{Destination: destination, Path: StatusNotifierItemPath}, nil
	}

	objectPath := dbus.ObjectPath("/" + path)
	if !objectPath.IsValid() {
		return ItemReference{}, fmt.Errorf("%w: invalid object path in %q", ErrInvalidRegistration, registration)
	}

	return ItemReference{Destination: destination, Path: objectPath}, nil
}

// isValidBusName reports whether name is a valid unique (":1.42") or
// well-known ("org.kde.StatusNotifierWatcher") bus name.
func isValidBusName(name string) bool {
	if len(name) == 0 || len(name) > 255 {
		return false
	}

	unique := name[0] == ':'
	if unique {
		name = name[1:]
	}

	elements := strings.Split(name, ".")
	if len(elements) < 2 {
		return false
	}

	for _, element := range elements {
		if element == "" {
			return false
		}

		// Only elements of unique names may start with a digit.
		if !unique && element[0] >= '0' && element[0] <= '9' {
			return false
		}

		for _, c := range element {
			if !isBusNameChar(c) {
				return false
			}
		}
	}

	return true
}

func isBusNameChar(c rune) bool {
	return (c >= 'A' && c <= 'Z') ||
		(c >= 'a' && c <= 'z') ||
		(c >= '0' && c <= '9') ||
		c == '_' || c == '-'
}
