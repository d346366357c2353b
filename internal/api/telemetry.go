package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/fieldgrid/dispatch-core/internal/infrastructure/mqtt"
	"github.com/fieldgrid/dispatch-core/internal/telemetry"
)

// ingestTelemetryRequest is the body for POST /telemetry.
type ingestTelemetryRequest struct {
	Readings []telemetry.Reading `json:"readings"`
}

// handleIngestTelemetry accepts a batch of sensor readings.
//
// Every reading is persisted to the time-series store (full history, even
// out-of-order); live fan-out goes through the deduplicator, which drops
// records at or below each sensor's watermark.
func (s *Server) handleIngestTelemetry(w http.ResponseWriter, r *http.Request) {
	var req ingestTelemetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.Readings) == 0 {
		writeBadRequest(w, "readings must not be empty")
		return
	}
	for _, reading := range req.Readings {
		if reading.SensorID == "" {
			writeBadRequest(w, "every reading requires a sensor_id")
			return
		}
		if reading.Timestamp.IsZero() {
			writeBadRequest(w, "every reading requires a timestamp")
			return
		}
	}

	s.persistReadings(req.Readings)
	s.dedup.Process(req.Readings)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted": len(req.Readings),
	})
}

// persistReadings writes readings to InfluxDB. Non-blocking; a nil client
// (disabled integration) is a no-op.
func (s *Server) persistReadings(readings []telemetry.Reading) {
	if s.influx == nil {
		return
	}
	for _, reading := range readings {
		s.influx.WriteSensorReading(reading.SensorID, reading.Value, reading.Timestamp)
	}
}

// mqttReading is the payload published on dispatch/telemetry/{sensorID}.
// The sensor ID comes from the topic.
type mqttReading struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// subscribeTelemetry wires the MQTT telemetry ingest path: readings
// published by field gateways flow through the same persist-then-dedupe
// pipeline as the HTTP endpoint.
func (s *Server) subscribeTelemetry() error {
	if s.mqtt == nil {
		return nil // MQTT not configured; broker ingest disabled
	}

	topic := mqtt.Topics{}.AllTelemetry()
	s.logger.Info("subscribing to telemetry ingest", "topic", topic)

	return s.mqtt.Subscribe(topic, 1, func(t string, payload []byte) error {
		sensorID, ok := mqtt.SensorFromTelemetryTopic(t)
		if !ok || sensorID == "" {
			return nil
		}

		var in mqttReading
		if err := json.Unmarshal(payload, &in); err != nil {
			s.logger.Warn("unparseable telemetry payload", "topic", t, "error", err)
			return nil
		}
		if in.Timestamp.IsZero() {
			in.Timestamp = time.Now().UTC()
		}

		readings := []telemetry.Reading{{
			SensorID:  sensorID,
			Timestamp: in.Timestamp,
			Value:     in.Value,
		}}
		s.persistReadings(readings)
		s.dedup.Process(readings)
		return nil
	})
}
