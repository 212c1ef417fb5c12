// Package mqtt provides MQTT client connectivity for rtlamr2mqtt.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - The Home Assistant status subscription
//   - Last Will and Testament (LWT) for offline detection
//
// # Topics
//
// All topics hang off the configured base topic, except discovery which
// uses the Home Assistant discovery prefix:
//
//	{base}/status                         online / offline (also the LWT)
//	{base}/{meter_id}/state               {"reading": ..., "lastseen": ...}
//	{base}/{meter_id}/attributes          decoder message fields
//	{discovery}/device/{meter_id}/config  device discovery payload
//
// Every message is sent with QoS 1 and is not retained.
//
// # Security Considerations
//
//   - TLS is opt-in (mqtt.tls_enabled) with optional CA and client certificate
//   - tls_insecure disables server verification for self-signed brokers
//   - Credentials are taken from the config file or environment
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(cfg.MQTT.HAStatusTopic, 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Home Assistant status: %s", payload)
//	        return nil
//	    })
//
//	client.PublishOnline()
package mqtt
