package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fieldgrid/dispatch-core/internal/broadcast"
	"github.com/fieldgrid/dispatch-core/internal/dispatch"
)

// wsStream adapts a device's WebSocket connection to dispatch.Stream.
// gorilla/websocket allows one concurrent writer; the mutex serialises
// the pump's messages with protocol-level pings.
type wsStream struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (s *wsStream) Send(msg dispatch.ServerMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	//nolint:errcheck // Best-effort deadline; write error caught below
	s.conn.SetWriteDeadline(time.Now().Add(deviceWriteTimeout))
	return s.conn.WriteJSON(msg)
}

func (s *wsStream) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

func (s *wsStream) ping() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	//nolint:errcheck // Best-effort deadline; write error caught below
	s.conn.SetWriteDeadline(time.Now().Add(deviceWriteTimeout))
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}

// deviceWriteTimeout bounds a single outbound write on a device stream.
const deviceWriteTimeout = 10 * time.Second

// handleDeviceWebSocket upgrades a field device's connection and serves its
// bidirectional stream.
//
// The channel registered here replaces any previous channel for the same
// device ID: a reconnecting device always wins, and the stale handler's
// teardown only affects its own dead channel.
func (s *Server) handleDeviceWebSocket(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		writeBadRequest(w, "device_id query parameter is required")
		return
	}

	token := r.URL.Query().Get("token")
	if t, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		token = t
	}
	if !s.validDeviceToken(token) {
		writeUnauthorized(w, "invalid device token")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("device websocket upgrade failed", "device_id", deviceID, "error", err)
		return
	}

	stream := &wsStream{conn: conn}
	ch := s.coordinator.RegisterChannel(deviceID, stream)

	ctx, cancel := context.WithCancel(context.Background())
	go s.deviceWritePump(ctx, cancel, deviceID, ch, stream)
	s.deviceReadLoop(deviceID, conn)

	// Read leg ended: tear down. If this channel was already replaced by a
	// reconnect, Unregister only stops the dead channel and the device
	// stays online through its successor.
	cancel()
	s.coordinator.Unregister(deviceID, ch)
	conn.Close() //nolint:errcheck // Teardown path
}

// deviceWritePump delivers queued messages to the device, interleaved with
// keepalive pings. It exits when the channel dies (stop or replacement),
// the context is cancelled, or a write fails.
func (s *Server) deviceWritePump(ctx context.Context, cancel context.CancelFunc, deviceID string, ch *dispatch.Channel, stream *wsStream) {
	defer cancel()

	pingInterval := time.Duration(s.wsCfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := stream.ping(); err != nil {
				s.logger.Debug("device ping failed", "device_id", deviceID, "error", err)
				return
			}
			continue
		default:
		}

		dequeueCtx, dequeueCancel := context.WithTimeout(ctx, pingInterval)
		fn, err := ch.Dequeue(dequeueCtx)
		dequeueCancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				continue // idle: loop around for the keepalive tick
			}
			return
		}

		msg, err := fn()
		if err != nil {
			s.logger.Warn("building device message failed", "device_id", deviceID, "error", err)
			continue
		}
		if err := stream.Send(msg); err != nil {
			s.logger.Warn("device stream write failed", "device_id", deviceID, "error", err)
			return
		}
	}
}

// deviceReadLoop consumes device-to-hub messages until the stream fails.
// Notifications fan out to the device's group; command responses route back
// to the submitting client connection.
func (s *Server) deviceReadLoop(deviceID string, conn *websocket.Conn) {
	conn.SetReadLimit(int64(s.wsCfg.MaxMessageSize))
	pongWait := time.Duration(s.wsCfg.PingInterval+s.wsCfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg dispatch.DeviceMessage
		if err := conn.ReadJSON(&msg); err != nil {
			s.logger.Debug("device stream closed", "device_id", deviceID, "error", err)
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		conn.SetReadDeadline(time.Now().Add(pongWait))

		switch msg.Type {
		case dispatch.TypeNotification:
			if msg.Notification == nil {
				continue
			}
			n := *msg.Notification
			if n.DeviceID == "" {
				n.DeviceID = deviceID
			}
			s.broadcaster.PushForEntity(broadcast.KindDevice, n.DeviceID, MethodNotify, n)

		case dispatch.TypeCommandResponse:
			if msg.CommandResponse == nil || msg.CommandResponse.ConnectionID == "" {
				continue
			}
			cr := *msg.CommandResponse
			if cr.DeviceID == "" {
				cr.DeviceID = deviceID
			}
			s.broadcaster.PushToConnection(cr.ConnectionID, MethodClientMessage, cr)

		default:
			s.logger.Warn("unknown device message type", "device_id", deviceID, "type", msg.Type)
		}
	}
}
