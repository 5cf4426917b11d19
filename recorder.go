package systray

import "time"

// Recorder receives measurements from watchers, hosts, and items. It can be
// implemented to export metrics.
type Recorder interface {
	// ItemRegistered is called after an item was added to a watcher registry.
	ItemRegistered(item RegisteredItem)

	// ItemUnregistered is called after an item was removed from a watcher
	// registry.
	ItemUnregistered(item RegisteredItem)

	// RegistrySize is called with the number of registered items whenever it
	// changes.
	RegistrySize(n int)

	// ObserveCall is called after every remote call made by hosts and items.
	// err is nil on success.
	ObserveCall(member string, start time.Time, err error)
}

type nopRecorder struct{}

func (nopRecorder) ItemRegistered(RegisteredItem)        {}
func (nopRecorder) ItemUnregistered(RegisteredItem)      {}
func (nopRecorder) RegistrySize(int)                     {}
func (nopRecorder) ObserveCall(string, time.Time, error) {}
