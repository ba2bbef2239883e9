// Package mqtt provides MQTT client connectivity for meshgate.
//
// MQTT is the bus between meshgate and the mesh stack daemon. The stack
// reports driver link changes and interface bootstrap status, answers
// requests meshgate sends it, and meshgate publishes the border router
// state for operators and other services.
//
//	mesh stack daemon ↔ MQTT broker ↔ meshgate
//
// # Topic layout
//
//	meshgate/stack/driver/{id}/status      stack → meshgate
//	meshgate/stack/interface/{id}/status   stack → meshgate
//	meshgate/stack/request/{op}            meshgate → stack
//	meshgate/stack/response/{request_id}   stack → meshgate
//	meshgate/router/state                  retained snapshot
//	meshgate/router/event/{kind}           transitions
//	meshgate/router/command/{command}      operator commands
//	meshgate/system/status                 retained, last will
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllStackInterfaceStatus(), 1,
//	    func(topic string, payload []byte) error {
//	        id, err := mqtt.ParseInterfaceStatusTopic(topic)
//	        ...
//	    })
package mqtt
