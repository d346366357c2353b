package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteSensorReading records a single sensor reading with its original
// timestamp. Non-blocking; the point is batched and sent asynchronously.
// Readings arriving out of order are written as-is: the time-series store
// keeps the full history, deduplication applies only to live fan-out.
func (c *Client) WriteSensorReading(sensorID string, value float64, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"sensor_readings",
		map[string]string{"sensor_id": sensorID},
		map[string]interface{}{"value": value},
		timestamp,
	)
	c.writeAPI.WritePoint(point)
}

// WriteDeviceEvent records a device lifecycle event (online, offline) for
// availability reporting.
func (c *Client) WriteDeviceEvent(deviceID string, event string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_events",
		map[string]string{"device_id": deviceID, "event": event},
		map[string]interface{}{"count": 1},
		time.Now(),
	)
	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point for measurements that don't fit the
// helpers above.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}
