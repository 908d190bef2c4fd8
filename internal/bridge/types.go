package bridge

import (
	"time"
)

// CurrentSchemaVersion is the binding schema generation. Bindings
// persisted by older builds are upgraded in place when loaded.
const CurrentSchemaVersion = 2

// BindingKind distinguishes what the binding controls.
type BindingKind string

const (
	KindOpener BindingKind = "opener"
	KindLamp   BindingKind = "lamp"
)

// SensorKind describes how a paired sensor's boolean value maps to the
// physical door position.
type SensorKind string

const (
	// SensorContact is a plain contact input: true means the input is
	// active, which reads as door open unless inverted.
	SensorContact SensorKind = "contact"

	// SensorLock is a lock style sensor: true means locked, and a
	// locked door is a closed door.
	SensorLock SensorKind = "lock"

	// SensorMultiIO is a multi-input module's binary channel, which
	// reports the opposite polarity of a plain contact.
	SensorMultiIO SensorKind = "multiio"
)

// Binding pairs one cloud device with its hub-side representation: a
// stable ID, an optional verification sensor, and the last states the
// engine published.
type Binding struct {
	// ID is the hub-assigned binding identifier.
	ID string `json:"id"`

	// Name is the display name, seeded from the cloud device name.
	Name string `json:"name"`

	// Kind is opener or lamp.
	Kind BindingKind `json:"kind"`

	// Serial is the cloud device serial number this binding addresses.
	Serial string `json:"serial"`

	// SensorID is the external sensor paired for position
	// verification, empty when none is paired.
	SensorID string `json:"sensor_id,omitempty"`

	// SensorKind describes the paired sensor's polarity semantics.
	SensorKind SensorKind `json:"sensor_kind,omitempty"`

	// InvertedSensor flips the sensor reading on top of the kind's
	// native polarity.
	InvertedSensor bool `json:"inverted_sensor"`

	// OnOffState is the device's last binary state under lock
	// polarity: true means closed for openers, on for lamps.
	OnOffState bool `json:"on_off_state"`

	// DoorStatus is the last door state string published for this
	// binding. Empty for lamps.
	DoorStatus string `json:"door_status,omitempty"`

	// LampStatus is the last lamp state string published for this
	// binding. Empty for openers.
	LampStatus string `json:"lamp_status,omitempty"`

	// SchemaVersion records which binding schema wrote this record.
	SchemaVersion int `json:"schema_version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Trigger fires when a binding's sensor disagrees with the opener's
// reported position. Triggers fire in ascending ID order.
type Trigger struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	BindingID string    `json:"binding_id"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks binding fields before persistence.
func (b *Binding) Validate() error {
	if b.ID == "" {
		return ErrInvalidBinding
	}
	if b.Serial == "" {
		return ErrInvalidBinding
	}
	switch b.Kind {
	case KindOpener, KindLamp:
	default:
		return ErrInvalidBinding
	}
	if b.SensorID != "" {
		switch b.SensorKind {
		case SensorContact, SensorLock, SensorMultiIO:
		default:
			return ErrInvalidBinding
		}
	}
	return nil
}

// SensorClosed normalizes a raw sensor value into "door is closed"
// according to the sensor kind and inversion flag.
//
// Lock sensors report true for locked, and locked means closed.
// Multi-input binary channels report inverted polarity relative to a
// plain contact, where true means open.
func (b *Binding) SensorClosed(raw bool) bool {
	value := raw
	if b.InvertedSensor {
		value = !value
	}

	switch b.SensorKind {
	case SensorLock:
		return value
	case SensorMultiIO:
		return value
	default:
		return !value
	}
}
