// Package api implements the HTTP REST API and WebSocket server for the
// myStrom bridge.
//
// This package provides:
//   - REST endpoints for listing, adding, refreshing and removing plugs
//   - entity state reads and service calls (turn_on, set_relay_state, ...)
//   - a WebSocket hub pushing entity.state_changed events
//   - optional HS256 bearer auth with ticket-based WebSocket auth
//   - an audit trail of device changes and service calls
//
// # Routes
//
//	GET    /api/v1/health
//	GET    /api/v1/devices
//	GET    /api/v1/devices/stats
//	GET    /api/v1/devices/{id}
//	POST   /api/v1/devices                 (auth)
//	DELETE /api/v1/devices/{id}            (auth)
//	POST   /api/v1/devices/{id}/refresh    (auth)
//	GET    /api/v1/entities
//	GET    /api/v1/entities/{entity_id}
//	POST   /api/v1/services/{service}      (auth)
//	POST   /api/v1/auth/ws-ticket          (auth)
//	GET    /api/v1/audit                   (auth)
//	GET    /api/v1/ws
//
// # Security
//
// With api.auth.jwt_secret unset every route is open, like the plugs'
// own local API. With a secret, mutating routes need a bearer token and
// WebSocket connections need a single-use ticket so the token never
// appears in a URL.
package api
