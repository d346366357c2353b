// Package registry tracks live client connections for the dispatch hub.
//
// A user may hold any number of concurrent connections (browser tabs,
// dashboard sessions). Each connection carries a mutable set of subscription
// groups used by the broadcast layer for fan-out. Nothing in this package is
// persisted; the registry is rebuilt naturally as clients reconnect.
//
// # Key Types
//
//   - Registry: concurrency-safe connection bookkeeping
//   - Connection: immutable snapshot of one live connection
//
// # Usage
//
//	reg := registry.New()
//	reg.SetLogger(log)
//
//	reg.RegisterClient("user-1", connID)
//	reg.Subscribe(connID, "Device_42", "Sensor_7")
//
//	for _, conn := range reg.FindByGroup("Device_42") {
//	    transport.SendToConnection(conn.ConnectionID, method, payload)
//	}
//
// # Thread Safety
//
// All methods are safe for concurrent use. Mutations race freely with
// disconnects by design: operations on unknown connection IDs are silent
// no-ops, and all queries return snapshots rather than live views.
package registry
