// Package systray is a toolkit-agnostic implementation of the
// [StatusNotifierItem] specification. It provides the services a system tray
// is built from. This package does not provide capabilities for system tray
// applications (clients).
//
// # Usage
//
// System tray consists of [Watcher], [Host], and multiple [Item] instances:
//   - [Watcher] owns the org.kde.StatusNotifierWatcher name and keeps the
//     [Registry] of tray items. One watcher must be present on a D-Bus at a
//     time.
//   - [Host] reads the registry of the watcher (either [Watcher] or an
//     external implementation) and builds [Item] proxies from it.
//   - [Item] is a proxy of the application running in the system tray.
//
// When watcher and host run in the same process, a [Readiness] gate makes the
// host wait until the watcher owns its name:
//
//	ready := systray.NewReadiness(100 * time.Millisecond)
//	go func() {
//		if err := watcher.Listen(ready); err != nil {
//			log.Fatal(err)
//		}
//		watcher.Serve(ctx)
//	}()
//	if err := ready.Wait(ctx, 5*time.Second); err != nil {
//		log.Fatal(err)
//	}
//	items, err := host.Items()
//
// # Registration strings
//
// The RegisteredStatusNotifierItems property of [Watcher] lists items as
// "<sender><objectPath>", e.g. ":1.23/StatusNotifierItem". See
// [EncodeRegistration] and [ParseRegistration].
//
// [StatusNotifierItem]: https://www.freedesktop.org/wiki/Specifications/StatusNotifierItem/
package systray
