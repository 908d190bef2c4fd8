package mqtt

import (
	"fmt"
)

// maxPayloadSize caps outgoing messages at 1MB, in line with typical
// broker limits.
const maxPayloadSize = 1 << 20

// Publish sends a payload to a topic and waits for the broker's
// acknowledgment, bounded by the publish timeout.
//
// Retained should be true for state topics, where a new subscriber
// needs the current value immediately, and false for commands and
// events, which must not replay.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}
