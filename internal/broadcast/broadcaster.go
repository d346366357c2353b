package broadcast

import (
	"github.com/fieldgrid/dispatch-core/internal/registry"
)

// Logger defines the logging interface used by the Broadcaster.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// PushTransport is the external real-time delivery mechanism for client
// connections. The WebSocket hub implements it on the hub daemon; tests use
// fakes.
type PushTransport interface {
	SendToConnection(connectionID, method string, payload any) error
}

// Broadcaster performs group and connection addressed push fan-out.
//
// All methods are safe for concurrent use and never return delivery errors:
// a failed push to one recipient is logged and skipped.
type Broadcaster struct {
	registry  *registry.Registry
	transport PushTransport
	logger    Logger
}

// New creates a broadcaster resolving groups through reg and delivering
// through transport.
func New(reg *registry.Registry, transport PushTransport) *Broadcaster {
	return &Broadcaster{
		registry:  reg,
		transport: transport,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the broadcaster.
func (b *Broadcaster) SetLogger(logger Logger) {
	b.logger = logger
}

// PushToGroup delivers a push to every connection subscribed to the group.
// Returns the number of successful deliveries.
func (b *Broadcaster) PushToGroup(group, method string, payload any) int {
	conns := b.registry.FindByGroup(group)
	delivered := 0
	for _, conn := range conns {
		if err := b.transport.SendToConnection(conn.ConnectionID, method, payload); err != nil {
			b.logger.Warn("push delivery failed",
				"group", group,
				"connection_id", conn.ConnectionID,
				"method", method,
				"error", err,
			)
			continue
		}
		delivered++
	}
	if delivered > 0 {
		b.logger.Debug("group push delivered", "group", group, "method", method, "recipients", delivered)
	}
	return delivered
}

// PushToConnection delivers a push to a single connection. Used for
// device-to-user command response routing. A failure is logged, not
// returned; the caller treats delivery as best-effort.
func (b *Broadcaster) PushToConnection(connectionID, method string, payload any) bool {
	if err := b.transport.SendToConnection(connectionID, method, payload); err != nil {
		b.logger.Warn("push delivery failed",
			"connection_id", connectionID,
			"method", method,
			"error", err,
		)
		return false
	}
	return true
}

// PushForEntity derives the group name from an entity's kind and ID and
// pushes to that group. Returns the number of successful deliveries.
func (b *Broadcaster) PushForEntity(kind Kind, id, method string, payload any) int {
	return b.PushToGroup(GroupName(kind, id), method, payload)
}
