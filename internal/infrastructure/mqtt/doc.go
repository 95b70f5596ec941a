// Package mqtt provides the broker connection used by the myStrom bridge
// to publish entity state, receive commands, and report health.
//
//	myStrom devices (HTTP) <-> bridge <-> MQTT broker <-> Gray Logic Core
//
// Features:
//   - Auto-reconnect with configured backoff; subscriptions restored on reconnect
//   - Retained online/offline status with Last Will for crash detection
//   - Handler panic recovery
//
// Usage:
//
//	topics := mqtt.Topics{}
//	client, err := mqtt.Connect(cfg.MQTT, topics.BridgeHealth("mystrom"))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(topics.BridgeCommands("mystrom"), 1,
//	    func(topic string, payload []byte) error {
//	        return handle(mqtt.EntityFromTopic(topic), payload)
//	    })
package mqtt
