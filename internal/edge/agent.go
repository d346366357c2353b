package edge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/fieldgrid/dispatch-core/internal/dispatch"
	"github.com/fieldgrid/dispatch-core/internal/infrastructure/config"
)

// Logger defines the logging interface used by the Agent.
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

// CommandHandler is invoked for every command the hub delivers.
// Handlers run on the stream's read leg and should not block for long.
type CommandHandler func(cmd dispatch.Command)

// dialTimeout bounds the WebSocket handshake.
const dialTimeout = 10 * time.Second

// Agent maintains the device's bidirectional stream to the hub.
//
// It dials the hub's device endpoint, runs the inbound (commands) and
// outbound (notifications) legs concurrently, and reconnects with
// exponential backoff when either leg fails. The device simply re-registers
// on reconnect; the hub replaces the previous channel.
type Agent struct {
	cfg     config.AgentConfig
	queue   *NotifyQueue
	handler CommandHandler
	logger  Logger
}

// NewAgent creates an agent for the configured device.
// The handler receives every command delivered by the hub.
func NewAgent(cfg config.AgentConfig, handler CommandHandler) *Agent {
	return &Agent{
		cfg:     cfg,
		queue:   NewNotifyQueue(),
		handler: handler,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the agent.
func (a *Agent) SetLogger(logger Logger) {
	a.logger = logger
}

// Queue exposes the outbound notify queue, mainly for tests and for
// callers that need Clear/Len.
func (a *Agent) Queue() *NotifyQueue {
	return a.queue
}

// Notify queues a device event for delivery to the hub. The timestamp is
// stamped at send time, when the stream writer materialises the message.
func (a *Agent) Notify(event string, data map[string]any) {
	deviceID := a.cfg.DeviceID
	a.queue.Produce(func() (dispatch.DeviceMessage, error) {
		return dispatch.DeviceMessage{
			Type: dispatch.TypeNotification,
			Notification: &dispatch.Notification{
				DeviceID:  deviceID,
				Event:     event,
				Data:      data,
				Timestamp: time.Now().UTC(),
			},
		}, nil
	})
}

// Respond queues a command response addressed to the submitting client
// connection.
func (a *Agent) Respond(connectionID, text string) {
	deviceID := a.cfg.DeviceID
	a.queue.Produce(func() (dispatch.DeviceMessage, error) {
		return dispatch.DeviceMessage{
			Type: dispatch.TypeCommandResponse,
			CommandResponse: &dispatch.CommandResponse{
				DeviceID:     deviceID,
				ConnectionID: connectionID,
				Text:         text,
			},
		}, nil
	})
}

// Run connects to the hub and serves the stream until the context is
// cancelled. Connection failures trigger reconnection with exponential
// backoff, reset after each successful session.
func (a *Agent) Run(ctx context.Context) error {
	if a.cfg.HubURL == "" {
		return fmt.Errorf("agent: hub_url is required")
	}
	if a.cfg.DeviceID == "" {
		return fmt.Errorf("agent: device_id is required")
	}

	delay := time.Duration(a.cfg.ReconnectDelay) * time.Second
	maxDelay := time.Duration(a.cfg.MaxDelay) * time.Second

	for {
		err := a.connectAndServe(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			a.logger.Warn("stream session ended", "error", err, "retry_in", delay)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// connectAndServe dials the hub and runs both stream legs until one fails
// or the context is cancelled.
func (a *Agent) connectAndServe(ctx context.Context) error {
	url := fmt.Sprintf("%s/api/v1/ws/device?device_id=%s", a.cfg.HubURL, a.cfg.DeviceID)
	header := http.Header{}
	if a.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+a.cfg.Token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dialling hub (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dialling hub: %w", err)
	}
	defer conn.Close() //nolint:errcheck // Best-effort close on all exit paths

	a.logger.Info("connected to hub", "device_id", a.cfg.DeviceID, "hub", a.cfg.HubURL)

	g, gctx := errgroup.WithContext(ctx)

	// Closing the connection unblocks the read leg when the other leg or
	// the parent context brings the group down.
	g.Go(func() error {
		<-gctx.Done()
		conn.Close() //nolint:errcheck // Unblocks the reader
		return nil
	})

	// Inbound leg: commands from the hub.
	g.Go(func() error {
		for {
			var msg dispatch.ServerMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return fmt.Errorf("reading from hub: %w", err)
			}
			if msg.Type == dispatch.TypeCommand && msg.Command != nil {
				a.logger.Debug("command received", "command_id", msg.Command.ID, "name", msg.Command.Name)
				a.handler(*msg.Command)
			}
		}
	})

	// Outbound leg: notifications from the queue.
	g.Go(func() error {
		for {
			fn, err := a.queue.Consume(gctx)
			if err != nil {
				if errors.Is(err, ErrQueueStopped) {
					return nil
				}
				return err
			}
			msg, err := fn()
			if err != nil {
				a.logger.Warn("building notification failed", "error", err)
				continue
			}
			if err := conn.WriteJSON(msg); err != nil {
				return fmt.Errorf("writing to hub: %w", err)
			}
		}
	})

	return g.Wait()
}
