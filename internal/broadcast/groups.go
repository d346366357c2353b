package broadcast

import "fmt"

// Kind identifies the entity type a group is derived from.
type Kind string

// Entity kinds with live subscription groups.
const (
	KindDevice Kind = "Device"
	KindSensor Kind = "Sensor"
)

// GroupName derives the virtual group name for an entity.
//
// Example: GroupName(KindDevice, "42") == "Device_42"
func GroupName(kind Kind, id string) string {
	return fmt.Sprintf("%s_%s", kind, id)
}
