package mqtt

import "fmt"

// Topic scheme used by the HYQW cloud broker (FMQ):
//
//	FMQ/{project_code}/{device_sn}/UPLOAD/2002   state pushes, cloud → adapter
//	FMQ/{project_code}/{device_sn}/DOWN/2001     commands, cloud → gateway device
//	SERVER/BROADCAST                             broker-local liveness broadcast
const (
	// TopicPrefixFMQ is the base for all per-site topics.
	TopicPrefixFMQ = "FMQ"

	// uploadSegment is the channel segment for state pushes.
	uploadSegment = "UPLOAD/2002"

	// downSegment is the channel segment for downstream commands.
	downSegment = "DOWN/2001"

	// serverBroadcastTopic is the broker-wide liveness broadcast topic.
	serverBroadcastTopic = "SERVER/BROADCAST"
)

// Topics builds broker topic names for one site.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{ProjectCode: "SH-485-V22", DeviceSN: "SN-001"}
//	topics.StateUpload() // "FMQ/SH-485-V22/SN-001/UPLOAD/2002"
type Topics struct {
	ProjectCode string
	DeviceSN    string
}

// StateUpload returns the topic carrying device state pushes for this site.
func (t Topics) StateUpload() string {
	return fmt.Sprintf("%s/%s/%s/%s", TopicPrefixFMQ, t.ProjectCode, t.DeviceSN, uploadSegment)
}

// CommandDown returns the topic carrying downstream commands for this site.
// Subscribed only when command recording is enabled.
func (t Topics) CommandDown() string {
	return fmt.Sprintf("%s/%s/%s/%s", TopicPrefixFMQ, t.ProjectCode, t.DeviceSN, downSegment)
}

// ServerBroadcast returns the broker-wide liveness broadcast topic.
func (Topics) ServerBroadcast() string {
	return serverBroadcastTopic
}

// AllSiteTopics returns a pattern matching every topic for this site.
// Use with caution - this receives ALL site traffic.
//
// Pattern: FMQ/{project_code}/{device_sn}/#
func (t Topics) AllSiteTopics() string {
	return fmt.Sprintf("%s/%s/%s/#", TopicPrefixFMQ, t.ProjectCode, t.DeviceSN)
}
