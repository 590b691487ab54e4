// Package mqtt provides MQTT publishing for the CorePost event bus.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Event publishing with QoS guarantees
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// CorePost publishes device lifecycle and panic-state events so that
// monitoring dashboards and alerting tooling can react without polling
// the HTTP API. The backend never subscribes; MQTT is strictly an
// outbound notification channel and the system keeps working when the
// broker is unavailable.
//
//	CorePost Backend → MQTT Broker → Dashboards / Alerting
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Event payloads carry device identifiers and states, never tokens
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.PanicEvent()
//	client.PublishEvent(topic, []byte(`{"device_id":"a3f9...","state":"locked"}`))
package mqtt
