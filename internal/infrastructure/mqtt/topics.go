package mqtt

import "fmt"

// Topic layout published by the state relay:
//
//	lumen/system/status            — service online/offline (retained, LWT)
//	lumen/state/lights/{id}        — full light state on change (retained)
//	lumen/state/motion/{id}        — full motion zone state on change (retained)
const (
	// TopicSystemStatus carries the service online/offline status.
	TopicSystemStatus = "lumen/system/status"

	topicLightState  = "lumen/state/lights/%s"
	topicMotionState = "lumen/state/motion/%s"
)

// LightStateTopic returns the state topic for a light ID.
func LightStateTopic(id string) string {
	return fmt.Sprintf(topicLightState, id)
}

// MotionStateTopic returns the state topic for a motion zone ID.
func MotionStateTopic(id string) string {
	return fmt.Sprintf(topicMotionState, id)
}
