package telemetry

import (
	"sort"
	"sync"
	"time"

	"github.com/fieldgrid/dispatch-core/internal/broadcast"
)

// Logger defines the logging interface used by the Deduplicator.
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

// Reading is one sensor observation.
type Reading struct {
	SensorID  string    `json:"sensor_id"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Pusher delivers a sensor's accepted readings to its subscription group.
// Implemented by broadcast.Broadcaster.
type Pusher interface {
	PushForEntity(kind broadcast.Kind, id, method string, payload any) int
}

// SensorDataMethod is the push method name carrying accepted readings.
const SensorDataMethod = "SensorData"

// DefaultWatermarkWindow is how far back a freshly seen sensor's watermark
// is initialised when no window is configured.
const DefaultWatermarkWindow = 5 * time.Minute

// Deduplicator is a per-sensor high-watermark filter in front of group
// fan-out.
//
// Invariants:
//   - A reading with a timestamp at or below the sensor's watermark is
//     never forwarded.
//   - Watermarks are monotonically non-decreasing.
//   - A push failure for one sensor's group never prevents processing of
//     the remaining sensors in the same batch.
//
// All methods are safe for concurrent use.
type Deduplicator struct {
	mu     sync.Mutex
	marks  map[string]time.Time
	window time.Duration
	pusher Pusher
	logger Logger

	// now is the clock source, replaceable in tests.
	now func() time.Time
}

// NewDeduplicator creates a deduplicator forwarding accepted readings
// through pusher. A non-positive window falls back to
// DefaultWatermarkWindow.
func NewDeduplicator(pusher Pusher, window time.Duration) *Deduplicator {
	if window <= 0 {
		window = DefaultWatermarkWindow
	}
	return &Deduplicator{
		marks:  make(map[string]time.Time),
		window: window,
		pusher: pusher,
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the deduplicator.
func (d *Deduplicator) SetLogger(logger Logger) {
	d.logger = logger
}

// Process filters a batch of readings against per-sensor watermarks and
// fans out the survivors, one push per sensor, newest reading first.
// An empty or nil batch is a no-op. Ordering is only enforced within a
// sensor's own stream; readings for different sensors are independent.
func (d *Deduplicator) Process(batch []Reading) {
	if len(batch) == 0 {
		return
	}

	bySensor := make(map[string][]Reading)
	for _, r := range batch {
		if r.SensorID == "" {
			continue
		}
		bySensor[r.SensorID] = append(bySensor[r.SensorID], r)
	}

	for sensorID, readings := range bySensor {
		d.processSensor(sensorID, readings)
	}
}

// processSensor applies the watermark to one sensor's slice of the batch.
func (d *Deduplicator) processSensor(sensorID string, readings []Reading) {
	d.mu.Lock()
	mark, ok := d.marks[sensorID]
	if !ok {
		mark = d.now().Add(-d.window)
		d.marks[sensorID] = mark
	}

	kept := readings[:0]
	maxSeen := mark
	for _, r := range readings {
		if r.Timestamp.After(mark) {
			kept = append(kept, r)
		}
		if r.Timestamp.After(maxSeen) {
			maxSeen = r.Timestamp
		}
	}

	// Advance before releasing the lock so a concurrent batch for the same
	// sensor cannot re-forward what this batch already accepted.
	d.marks[sensorID] = maxSeen
	d.mu.Unlock()

	if len(kept) == 0 {
		d.logger.Debug("telemetry batch fully deduplicated", "sensor_id", sensorID, "dropped", len(readings))
		return
	}

	// Newest first.
	sort.Slice(kept, func(i, j int) bool {
		return kept[i].Timestamp.After(kept[j].Timestamp)
	})

	delivered := d.pusher.PushForEntity(broadcast.KindSensor, sensorID, SensorDataMethod, kept)
	d.logger.Debug("telemetry forwarded",
		"sensor_id", sensorID,
		"accepted", len(kept),
		"dropped", len(readings)-len(kept),
		"recipients", delivered,
	)
}

// Watermark returns the current watermark for a sensor. The second return
// value reports whether the sensor has been seen.
func (d *Deduplicator) Watermark(sensorID string) (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	mark, ok := d.marks[sensorID]
	return mark, ok
}

// SensorCount returns the number of sensors with a tracked watermark.
func (d *Deduplicator) SensorCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.marks)
}
