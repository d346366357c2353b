// Package dispatch owns the per-device command channel lifecycle for the
// dispatch hub.
//
// Each connected field device has exactly one Channel: a bounded FIFO of
// pending outbound messages paired with the device's live stream handle.
// The Coordinator registers channels on connect, replaces them atomically
// on reconnect (discarding the superseded queue), and tears them down on
// disconnect or stream fault.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                        Coordinator                           │
//	│                                                              │
//	│  RegisterChannel ──▶ channels[deviceID] = Channel            │
//	│  Enqueue ──────────▶ Channel.queue (bounded FIFO)            │
//	│  DequeueBlocking ◀── pump loop (one per device stream)       │
//	│  Unregister/Stop ──▶ done signal + queue discard             │
//	│  OnStatusChange ───▶ presence observers (activity log, MQTT) │
//	└──────────────────────────────────────────────────────────────┘
//
// The stream handler runs two concurrent legs per device: an inbound reader
// dispatching notifications and command responses, and an outbound pump
// draining the queue onto the stream. Either leg failing tears the channel
// down; the other devices are never affected.
//
// Messages are enqueued as MessageFunc thunks and materialised only when the
// pump dequeues them, so payloads can carry send-time data.
//
// # Thread Safety
//
// All Coordinator methods are safe for concurrent use. Teardown is
// idempotent; double-disconnects are harmless.
package dispatch
