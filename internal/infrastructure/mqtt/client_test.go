package mqtt

import (
	"errors"
	"strings"
	"testing"
)

// =============================================================================
// Validation Tests (no broker required)
// =============================================================================

func TestPublishValidation(t *testing.T) {
	c := &Client{}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{
			name:    "empty topic",
			topic:   "",
			payload: []byte("{}"),
			qos:     1,
			wantErr: ErrInvalidTopic,
		},
		{
			name:    "invalid qos",
			topic:   "myqsync/state/GW1",
			payload: []byte("{}"),
			qos:     3,
			wantErr: ErrInvalidQoS,
		},
		{
			name:    "oversized payload",
			topic:   "myqsync/state/GW1",
			payload: make([]byte, maxPayloadSize+1),
			qos:     1,
			wantErr: ErrPublishFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := &Client{}

	if err := c.Subscribe("", 1, func(string, []byte) error { return nil }); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty topic) error = %v, want ErrInvalidTopic", err)
	}

	if err := c.Subscribe("myqsync/command/+", 3, func(string, []byte) error { return nil }); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(invalid qos) error = %v, want ErrInvalidQoS", err)
	}

	if err := c.Subscribe("myqsync/command/+", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) error = %v, want ErrSubscribeFailed", err)
	}
}

func TestUnsubscribeValidation(t *testing.T) {
	c := &Client{}

	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(empty topic) error = %v, want ErrInvalidTopic", err)
	}
}

// =============================================================================
// Topic Builder Tests
// =============================================================================

func TestTopics(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name     string
		build    func() string
		expected string
	}{
		{
			name:     "device state",
			build:    func() string { return topics.DeviceState("GW1234567890") },
			expected: "myqsync/state/GW1234567890",
		},
		{
			name:     "device command",
			build:    func() string { return topics.DeviceCommand("GW1234567890") },
			expected: "myqsync/command/GW1234567890",
		},
		{
			name:     "all device commands",
			build:    func() string { return topics.AllDeviceCommands() },
			expected: "myqsync/command/+",
		},
		{
			name:     "sensor state",
			build:    func() string { return topics.SensorState("door-contact-01") },
			expected: "myqsync/sensor/door-contact-01",
		},
		{
			name:     "all sensor states",
			build:    func() string { return topics.AllSensorStates() },
			expected: "myqsync/sensor/+",
		},
		{
			name:     "trigger event",
			build:    func() string { return topics.TriggerEvent(42) },
			expected: "myqsync/event/trigger/42",
		},
		{
			name:     "system status",
			build:    func() string { return topics.SystemStatus() },
			expected: "myqsync/system/status",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.build(); got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestStatusPayloads(t *testing.T) {
	online := buildOnlinePayload("myqsync-test")
	if !strings.Contains(online, `"status":"online"`) {
		t.Errorf("online payload missing status: %s", online)
	}
	if !strings.Contains(online, "myqsync-test") {
		t.Errorf("online payload missing client id: %s", online)
	}

	offline := buildOfflinePayload("myqsync-test")
	if !strings.Contains(offline, `"status":"offline"`) {
		t.Errorf("offline payload missing status: %s", offline)
	}
	if !strings.Contains(offline, "graceful_shutdown") {
		t.Errorf("offline payload missing reason: %s", offline)
	}
}
