// Package influxdb provides InfluxDB connectivity for myq-sync.
//
// It wraps the official influxdb-client-go v2 library with helpers for
// recording device state history: door transitions, lamp toggles,
// command outcomes, and poll cycle statistics.
//
// Writes are non-blocking and batched; errors surface through an
// asynchronous callback set with SetOnError. The integration is
// optional and controlled by the influxdb.enabled config flag.
//
// Example:
//
//	client, err := influxdb.Connect(config.InfluxDBConfig{
//	    Enabled: true,
//	    URL:     "http://localhost:8086",
//	    Token:   "my-token",
//	    Org:     "home",
//	    Bucket:  "myqsync",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteDoorState("GW1234567890", "Main Garage", "open")
package influxdb
