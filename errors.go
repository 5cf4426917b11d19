package systray

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// Error kinds reported by remote calls. A [CallError] always unwraps to exactly
// one of them, so callers can match with [errors.Is].
var (
	// ErrTransport means the bus itself failed: closed connection, broken
	// socket, failure to send.
	ErrTransport = errors.New("bus transport failure")

	// ErrObjectAbsent means no object answers at the addressed name and path.
	ErrObjectAbsent = errors.New("remote object absent")

	// ErrPropertyAbsent means the object exists but does not have the property.
	ErrPropertyAbsent = errors.New("remote property absent")

	// ErrUnsupported means the object exists but does not implement the method.
	ErrUnsupported = errors.New("remote method not supported")

	// ErrMalformedReply means the object answered with unexpected arguments.
	ErrMalformedReply = errors.New("malformed reply")

	// ErrTimeout means the remote peer did not answer within the call timeout.
	ErrTimeout = errors.New("remote call timed out")

	// ErrRemote is any other error reported by the remote peer.
	ErrRemote = errors.New("remote call failed")
)

// Local errors.
var (
	ErrInvalidRegistration = errors.New("invalid registration string")
	ErrOutOfRange          = errors.New("item index out of range")
	ErrNameTaken           = errors.New("bus name already taken")
	ErrRegistryPoisoned    = errors.New("item registry poisoned")
	ErrWatcherNotReady     = errors.New("watcher not ready")
	ErrClosed              = errors.New("closed")
)

// D-Bus error names used for classification and replies.
const (
	dbusErrServiceUnknown   = "org.freedesktop.DBus.Error.ServiceUnknown"
	dbusErrNameHasNoOwner   = "org.freedesktop.DBus.Error.NameHasNoOwner"
	dbusErrUnknownObject    = "org.freedesktop.DBus.Error.UnknownObject"
	dbusErrUnknownInterface = "org.freedesktop.DBus.Error.UnknownInterface"
	dbusErrUnknownMethod    = "org.freedesktop.DBus.Error.UnknownMethod"
	dbusErrUnknownProperty  = "org.freedesktop.DBus.Error.UnknownProperty"
	dbusErrInvalidArgs      = "org.freedesktop.DBus.Error.InvalidArgs"
	dbusErrPropertyReadOnly = "org.freedesktop.DBus.Error.PropertyReadOnly"
	dbusErrNoReply          = "org.freedesktop.DBus.Error.NoReply"
	dbusErrTimeout          = "org.freedesktop.DBus.Error.Timeout"
	dbusErrTimedOut         = "org.freedesktop.DBus.Error.TimedOut"
	dbusErrFailed           = "org.freedesktop.DBus.Error.Failed"
)

// CallError describes a failed call against a remote object.
type CallError struct {
	// Destination and Path address the remote object.
	Destination string
	Path        dbus.ObjectPath

	// Member is the method or property involved, e.g. "Activate" or "Title".
	Member string

	// Kind is one of the Err* kinds above.
	Kind error

	// Err is the underlying cause.
	Err error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s %s%s %s: %v", e.Kind, e.Destination, e.Path, e.Member, e.Err)
}

// Unwrap exposes both the kind and the cause to [errors.Is] and [errors.As].
func (e *CallError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// IsTimeout reports whether err is a timeout, the only failure that is
// reasonable to retry as-is.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// classify maps an error returned by godbus to one of the error kinds.
// property selects the mapping of InvalidArgs, which property getters of most
// implementations return for unknown properties.
func classify(err error, property bool) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}

	var dbusErr dbus.Error
	if !errors.As(err, &dbusErr) {
		return ErrTransport
	}

	switch dbusErr.Name {
	case dbusErrNoReply, dbusErrTimeout, dbusErrTimedOut:
		return ErrTimeout
	case dbusErrServiceUnknown, dbusErrNameHasNoOwner, dbusErrUnknownObject, dbusErrUnknownInterface:
		return ErrObjectAbsent
	case dbusErrUnknownProperty:
		return ErrPropertyAbsent
	case dbusErrInvalidArgs:
		if property {
			return ErrPropertyAbsent
		}
		return ErrMalformedReply
	case dbusErrUnknownMethod:
		return ErrUnsupported
	default:
		return ErrRemote
	}
}
