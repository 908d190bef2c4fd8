// Package myq is a client for the MyQ cloud service covering garage
// door openers, lamp modules, and gateways.
//
// The cloud has no push channel, so all state flows through polling.
// The client keeps a device cache keyed by serial number and merges
// poll results into it: a device's raw document is replaced only when
// the vendor last_update timestamp changes, while the local poll
// watermark advances on every cycle. Full polls closer together than
// DefaultStateUpdateInterval are served from cache.
//
// Authentication uses the vendor's OAuth authorization code flow with
// PKCE, driven headlessly against the hosted login page. Tokens are
// refreshed proactively in the background before they expire; an
// expired token forces a blocking reauthentication. A credential
// rejection latches the client into a failed state until credentials
// are changed, preventing vendor-side account lockout.
//
// All cloud calls outside the login flow share a single-flight gate so
// the vendor's aggressive rate limiting is never tripped by concurrent
// requests.
//
// Example:
//
//	api, err := myq.Login(ctx, "user@example.com", "secret")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for serial, door := range api.Covers() {
//	    fmt.Println(serial, door.DoorState())
//	}
package myq
