package model

// DeviceMode selects which Matter parent a device attaches to (spec §3
// "Device/Endpoint").
type DeviceMode string

const (
	// ModeDefault attaches under the owning plugin's aggregator.
	ModeDefault DeviceMode = ""
	// ModeMatter attaches directly under the shared Matterbridge server
	// node, bypassing the aggregator (bridge mode only).
	ModeMatter DeviceMode = "matter"
	// ModeServer stands the device up on its own server node.
	ModeServer DeviceMode = "server"
)

// DeviceType is a Matter device-type code + cluster revision pair.
type DeviceType struct {
	Code     uint32
	Revision uint16
}

// Device is the in-memory record the Endpoint Registry holds for one
// bridged device (spec §3 "Device/Endpoint").
type Device struct {
	// StorageKey is the unique key within the owning plugin; collisions
	// across plugins are rejected with ErrDuplicateKey.
	StorageKey string

	Plugin string

	DeviceTypes []DeviceType
	Tags        []string

	// Number is the stable numeric endpoint address assigned by the
	// Matter engine on first attach. Zero means "not yet assigned".
	Number uint32
	// NumberPersisted tracks whether Number has been durably written;
	// the cleanup orchestrator refuses to close a server node that has
	// any endpoint with Number != 0 and NumberPersisted == false.
	NumberPersisted bool

	Mode DeviceMode

	// ParentKey is set for composed (child) endpoints.
	ParentKey string

	// Composed is true for aggregator-owning plugins' devices (the
	// signal the Plugin Manager uses to infer DynamicPlatform vs
	// AccessoryPlatform).
	Composed bool

	Attributes map[string]map[string]interface{} // cluster -> attribute -> value
}

// HasCluster reports whether the device has ever had an attribute value
// recorded for the given cluster id.
func (d *Device) HasCluster(cluster string) bool {
	_, ok := d.Attributes[cluster]
	return ok
}
