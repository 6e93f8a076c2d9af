package mqtt

import "strings"

// TopicPrefix is the root of every topic this service publishes.
const TopicPrefix = "roomlink"

// Topics builds RoomLink topic names.
//
//	mqtt.Topics{}.SessionState("6f1c...")  // roomlink/session/6f1c.../state
type Topics struct{}

// SystemStatus carries the service's online/offline status (retained, and
// the broker's last will).
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// SessionState carries the retained projection of one session.
func (Topics) SessionState(sessionID string) string {
	return TopicPrefix + "/session/" + sessionID + "/state"
}

// SessionEvent carries feedback events received from one device.
func (Topics) SessionEvent(sessionID string) string {
	return TopicPrefix + "/session/" + sessionID + "/event"
}

// AllSessionStates matches every session state topic.
func (Topics) AllSessionStates() string {
	return TopicPrefix + "/session/+/state"
}

// validPublishTopic rejects empty topics and wildcards, which brokers refuse
// on publish.
func validPublishTopic(topic string) bool {
	return topic != "" && !strings.ContainsAny(topic, "+#")
}
