// Package api provides the HTTP and WebSocket surface of the dispatch hub.
//
// It exposes command submission and presence queries to clients, a
// WebSocket endpoint for client push (notifications, command responses,
// sensor data), and a second WebSocket endpoint carrying the bidirectional
// device streams.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread safety: all methods are safe for concurrent use.
package api
