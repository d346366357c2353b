// Package broadcast fans out push notifications to dashboard clients by
// subscription group.
//
// Groups are virtual pub/sub topics derived from an entity's kind and ID
// (for example "Device_42" or "Sensor_7"); nothing about a group is stored.
// The Broadcaster resolves a group to its subscribed connections through the
// connection registry and pushes to each one through the PushTransport.
//
// Delivery failures are isolated per recipient: one dead connection never
// aborts delivery to its siblings, and failures are logged, not returned.
package broadcast
