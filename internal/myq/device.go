package myq

import (
	"sync"
	"time"
)

// deviceJSON is the raw device document returned by the devices endpoint.
// The state block is kept as a loose map because the cloud adds and
// removes attributes between firmware versions.
type deviceJSON struct {
	SerialNumber   string         `json:"serial_number"`
	Name           string         `json:"name"`
	DeviceFamily   string         `json:"device_family"`
	DeviceType     string         `json:"device_type"`
	DeviceModel    string         `json:"device_model"`
	ParentDeviceID string         `json:"parent_device_serial_number"`
	Href           string         `json:"href"`
	State          map[string]any `json:"state"`
}

// Device is the base representation of one MyQ device. GarageDoor and
// Lamp wrap it with family-specific operations.
//
// Thread Safety: All methods are safe for concurrent use.
type Device struct {
	api       *API
	accountID string

	mu          sync.RWMutex
	raw         deviceJSON
	stateUpdate time.Time
}

func newDevice(api *API, accountID string, raw deviceJSON) *Device {
	return &Device{
		api:         api,
		accountID:   accountID,
		raw:         raw,
		stateUpdate: time.Now(),
	}
}

// SerialNumber returns the device serial, the stable identity used for
// addressing and command endpoints.
func (d *Device) SerialNumber() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.raw.SerialNumber
}

// Name returns the user-assigned device name.
func (d *Device) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.raw.Name
}

// Family returns the device family (garagedoor, lamp, gateway).
func (d *Device) Family() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.raw.DeviceFamily
}

// DeviceType returns the vendor device type string.
func (d *Device) DeviceType() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.raw.DeviceType
}

// AccountID returns the cloud account this device belongs to.
func (d *Device) AccountID() string {
	return d.accountID
}

// Online reports whether the cloud considers the device reachable.
func (d *Device) Online() bool {
	v, ok := d.StateAttribute("online").(bool)
	return ok && v
}

// StateAttribute returns a single attribute from the raw state block,
// or nil when absent.
func (d *Device) StateAttribute(key string) any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.raw.State == nil {
		return nil
	}
	return d.raw.State[key]
}

// stateString returns a state attribute as a string, or "" when the
// attribute is absent or not a string.
func (d *Device) stateString(key string) string {
	s, _ := d.StateAttribute(key).(string)
	return s
}

// LastUpdate returns the vendor-reported last_update timestamp, or the
// zero time when absent or unparseable.
func (d *Device) LastUpdate() time.Time {
	raw := d.stateString("last_update")
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// StateUpdate returns the local time of the last poll that covered this
// device, whether or not the poll changed the cached state.
func (d *Device) StateUpdate() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.stateUpdate
}

// RawState returns a copy of the raw state block for diagnostics.
func (d *Device) RawState() map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]any, len(d.raw.State))
	for k, v := range d.raw.State {
		out[k] = v
	}
	return out
}

// applyUpdate merges a freshly polled document into the device.
//
// The cached document is replaced only when the vendor last_update
// timestamp differs, so attributes patched locally between polls (for
// example the optimistic door_state after a command) survive a poll
// that carries no new information. The stateUpdate watermark advances
// on every call regardless.
func (d *Device) applyUpdate(raw deviceJSON, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if rawLastUpdate(raw) != rawLastUpdate(d.raw) {
		d.raw = raw
	}
	d.stateUpdate = at
}

// setStateAttribute patches a single attribute in the cached state.
// Used for optimistic state after commands.
func (d *Device) setStateAttribute(key string, value any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.raw.State == nil {
		d.raw.State = make(map[string]any)
	}
	d.raw.State[key] = value
}

func rawLastUpdate(raw deviceJSON) string {
	if raw.State == nil {
		return ""
	}
	s, _ := raw.State["last_update"].(string)
	return s
}
