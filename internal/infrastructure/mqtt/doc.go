// Package mqtt wraps the paho client for the protect-sync daemon.
//
// MQTT is the daemon's fan-out side. The bridge publishes canonical
// device state and event facts here, and whatever automation platform
// sits on the other side of the broker sends commands back:
//
//	Protect Controller → protect-sync → MQTT Broker ↔ Automation Consumers
//
// Topic layout:
//
//	protectsync/device/{id}/state   retained device state
//	protectsync/nvr/state           retained storage stats
//	protectsync/event/{type}        transient event facts
//	protectsync/command/{kind}      inbound command requests
//	protectsync/ack/{request_id}    command acknowledgements
//	protectsync/system/status       daemon online/offline (retained + LWT)
//
// The wrapper adds what the raw paho client leaves to the caller:
// subscriptions are tracked and replayed after every reconnect, message
// handlers are panic-isolated so a bad payload cannot take down paho's
// router goroutine, and a retained Last Will on the system status topic
// lets consumers tell a crashed daemon from a stopped one.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Accept inbound commands
//	err = client.Subscribe(mqtt.Topics{}.AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish a device state update
//	topic := mqtt.Topics{}.DeviceState("66b1ab8f0267ba03e40b8bdd")
//	client.PublishRetained(topic, stateJSON)
//
// Enable TLS (cfg.Broker.TLS) for anything beyond a loopback broker;
// anonymous access exists for local development only.
package mqtt
