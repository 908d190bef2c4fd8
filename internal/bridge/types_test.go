package bridge

import "testing"

func TestSensorClosed(t *testing.T) {
	tests := []struct {
		name     string
		kind     SensorKind
		inverted bool
		raw      bool
		want     bool
	}{
		// Plain contact: true means active, reads as open.
		{name: "contact active", kind: SensorContact, raw: true, want: false},
		{name: "contact inactive", kind: SensorContact, raw: false, want: true},
		{name: "contact active inverted", kind: SensorContact, inverted: true, raw: true, want: true},

		// Lock: true means locked, and locked means closed.
		{name: "lock locked", kind: SensorLock, raw: true, want: true},
		{name: "lock unlocked", kind: SensorLock, raw: false, want: false},
		{name: "lock locked inverted", kind: SensorLock, inverted: true, raw: true, want: false},

		// Multi-input binary channel: opposite polarity of a contact.
		{name: "multiio active", kind: SensorMultiIO, raw: true, want: true},
		{name: "multiio inactive", kind: SensorMultiIO, raw: false, want: false},
		{name: "multiio active inverted", kind: SensorMultiIO, inverted: true, raw: true, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &Binding{SensorKind: tt.kind, InvertedSensor: tt.inverted}
			if got := b.SensorClosed(tt.raw); got != tt.want {
				t.Errorf("SensorClosed(%v) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestBindingValidate(t *testing.T) {
	valid := Binding{ID: "b-1", Name: "Door", Kind: KindOpener, Serial: "GW1"}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() on valid binding = %v", err)
	}

	withSensor := valid
	withSensor.SensorID = "contact-01"
	if err := withSensor.Validate(); err == nil {
		t.Error("Validate() accepted a sensor without a kind")
	}
	withSensor.SensorKind = SensorLock
	if err := withSensor.Validate(); err != nil {
		t.Errorf("Validate() rejected lock sensor: %v", err)
	}
}
