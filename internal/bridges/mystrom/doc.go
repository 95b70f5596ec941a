// Package mystrom implements the myStrom smart plug bridge for Gray Logic.
//
// myStrom plugs (Switch, Zero) expose an unauthenticated HTTP API on the
// local network. This package polls each configured plug, keeps one
// canonical status per device, renders it as switch and sensor entities,
// and executes relay commands received over MQTT or the HTTP API.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐          ┌──────────┐
//	│   Gray Logic    │   MQTT   │  myStrom Bridge │   HTTP   │  Plugs   │
//	│      Core       │◄────────►│   (this pkg)    │◄────────►│ /report  │
//	└─────────────────┘          └─────────────────┘          └──────────┘
//
// # Components
//
//   - Client: one device's HTTP endpoints (/report, /relay, /toggle,
//     /on, /off, /reboot). Never retries.
//   - Normalize: converts a raw report into an immutable Status where
//     every metric is either reported or absent.
//   - Coordinator: polls one device on a fixed interval, coalesces
//     concurrent refreshes into one request and notifies subscribers.
//   - Commands: resolves an entity id to its device, issues the command
//     and requests a refresh.
//   - Manager: the table of set-up devices and their entities.
//   - Bridge: MQTT state, command, ack and health topics.
//
// # Relay State
//
// The explicit relay flag wins. Without one a device is on when it draws
// power:
//
//	mystrom.Normalize(map[string]any{"relay": false, "power": 12.5}).IsOn() // false
//	mystrom.Normalize(map[string]any{"power": 12.5}).IsOn()                 // true
//
// # Errors
//
// Transport failures wrap ErrConnection, unusable responses wrap
// ErrProtocol and unknown entity references wrap ErrLookup. A failed poll
// is recorded on the coordinator and the last good status is kept.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package mystrom
