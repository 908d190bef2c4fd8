package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteDoorState records a garage door state transition.
//
// The write is non-blocking; data is batched and sent asynchronously.
// States are recorded both as a string field and as a numeric open
// fraction (closed=0, open=1, intermediate states=0.5) so dashboards
// can graph door position over time.
//
// Parameters:
//   - serial: Device serial number (e.g., "GW1234567890")
//   - name: Human-readable device name
//   - state: Door state (closed, closing, open, opening, stopped, ...)
//
// Example:
//
//	client.WriteDoorState("GW1234567890", "Main Garage", "open")
func (c *Client) WriteDoorState(serial string, name string, state string) {
	c.WritePoint("door_state",
		map[string]string{
			"serial": serial,
			"name":   name,
		},
		map[string]interface{}{
			"state":         state,
			"open_fraction": doorOpenFraction(state),
		})
}

// doorOpenFraction maps a door state to a graphable position value.
func doorOpenFraction(state string) float64 {
	switch state {
	case "closed":
		return 0
	case "open":
		return 1
	default:
		return 0.5
	}
}

// WriteLampState records a lamp on/off transition.
//
// Parameters:
//   - serial: Device serial number
//   - name: Human-readable device name
//   - on: Whether the lamp is on
func (c *Client) WriteLampState(serial string, name string, on bool) {
	value := 0.0
	if on {
		value = 1.0
	}

	c.WritePoint("lamp_state",
		map[string]string{
			"serial": serial,
			"name":   name,
		},
		map[string]interface{}{
			"on":    on,
			"value": value,
		})
}

// WriteCommandResult records the outcome of a device command.
//
// Used for tracking command reliability and cloud round-trip latency.
//
// Parameters:
//   - serial: Device serial number
//   - command: Command name (open, close, turnon, turnoff)
//   - confirmed: Whether the device reached the expected state
//   - duration: Time from dispatch to confirmation (or timeout)
func (c *Client) WriteCommandResult(serial string, command string, confirmed bool, duration time.Duration) {
	c.WritePoint("command_result",
		map[string]string{
			"serial":  serial,
			"command": command,
		},
		map[string]interface{}{
			"confirmed":   confirmed,
			"duration_ms": duration.Milliseconds(),
		})
}

// WritePollCycle records poll cycle statistics for health monitoring.
//
// Parameters:
//   - deviceCount: Number of devices seen by the poll
//   - duration: Wall time of the poll round trip
func (c *Client) WritePollCycle(deviceCount int, duration time.Duration) {
	c.WritePoint("poll_cycle",
		map[string]string{},
		map[string]interface{}{
			"device_count": deviceCount,
			"duration_ms":  duration.Milliseconds(),
		})
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "hub-01"},
//	    map[string]interface{}{"cpu_percent": 45.2, "memory_mb": 512})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
