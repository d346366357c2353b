// Package edge implements the field-device side of the dispatch protocol.
//
// A device runs one long-lived bidirectional stream to the hub. Outbound
// traffic (notifications, command responses) is funnelled through a
// NotifyQueue: a single-consumer hand-off queue feeding the stream's one
// writer. Inbound traffic (commands) is dispatched to a handler supplied by
// the device application.
//
// The Agent owns the connection lifecycle: dial, run both stream legs
// concurrently, and reconnect with exponential backoff when either fails.
package edge
