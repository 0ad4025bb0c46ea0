// Package mqtt provides MQTT client connectivity for cgateweb.
//
// This package manages:
//   - Connection to the configured broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// cgateweb uses MQTT as the boundary between the C-Gate TCP bridge and the
// rest of the home automation stack (Home Assistant, other MQTT clients).
//
//	C-Gate ↔ cgateweb ↔ MQTT Broker ↔ Home Assistant / other clients
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.WriteCommandWildcard(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	topic := mqtt.Topics{}.ReadState(254, 56, 4)
//	client.Publish(topic, []byte("on"), 1, true)
package mqtt
