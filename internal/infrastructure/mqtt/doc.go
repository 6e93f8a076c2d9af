// Package mqtt publishes RoomLink session state and device feedback to an
// MQTT broker.
//
// Topics:
//
//	roomlink/system/status              online/offline (retained, last will)
//	roomlink/session/<id>/state         session projection JSON (retained)
//	roomlink/session/<id>/event         feedback events from the device
//
// The client reconnects with paho's exponential backoff. Callers register
// SetOnConnect to republish retained state after a broker restart.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	err = client.PublishJSON(mqtt.Topics{}.SessionState(id), projection, true)
//
// Payloads never contain device passwords: callers publish projections,
// not credentials.
package mqtt
