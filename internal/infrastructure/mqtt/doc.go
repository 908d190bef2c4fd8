// Package mqtt provides MQTT client connectivity for myq-sync.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// myq-sync uses MQTT as the message bus connecting the sync engine to the
// host automation system. The engine publishes remote device state and
// trigger events; the host publishes commands and local sensor changes.
//
//	Host automation system ↔ MQTT Broker ↔ myq-sync engine ↔ MyQ cloud
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all inbound device commands
//	err = client.Subscribe(mqtt.Topics{}.AllDeviceCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish a state delta
//	topic := mqtt.Topics{}.DeviceState("GW1234567890")
//	client.Publish(topic, []byte(`{"door_state":"closed"}`), 1, true)
package mqtt
