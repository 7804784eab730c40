// Package mqtt connects the gateway to the device MQTT broker.
//
// Devices publish telemetry samples as JSON on
// suntec/devices/{deviceId}/state. The gateway subscribes to the
// wildcard pattern, persists each sample and fans it out to live
// subscribers (see internal/telemetry).
//
// The client reconnects automatically and restores its subscriptions. A
// retained status message on suntec/system/status, backed by a Last Will,
// lets other consumers see whether the gateway is online.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllDeviceStates(), 1,
//	    func(topic string, payload []byte) error {
//	        id, _ := mqtt.DeviceIDFromTopic(mqtt.Topics{}.AllDeviceStates(), topic)
//	        return handle(id, payload)
//	    })
package mqtt
