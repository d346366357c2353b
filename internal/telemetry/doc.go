// Package telemetry filters and orders bursts of sensor readings before
// live fan-out to dashboard clients.
//
// Field gateways deliver telemetry in batches that may contain duplicates,
// replays, and out-of-order records. The Deduplicator keeps one watermark
// per sensor: the highest event timestamp already forwarded. Records at or
// below the watermark are dropped; survivors are sorted newest-first (the
// most recent observation is the most relevant one for a live dashboard)
// and pushed to the sensor's group.
//
// Watermarks are process-local and lazily initialised to "now minus the
// configured window", so replayed historical batches are dropped too. A
// restart resets them; the worst case is one redundant fan-out per sensor.
package telemetry
