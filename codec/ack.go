package codec

import "regexp"

// Ack is a correlated response to a previously sent command.
type Ack struct {
	Command string
	Status  string
	Detail  string
}

var ackPattern = regexp.MustCompile(`^ACK:(\w+):(\w+)(?::(.*))?$`)

// ParseAck matches the acknowledgment pattern. It is checked before format
// dispatch on every frame; a match never reaches the telemetry decoders.
func ParseAck(line string) (Ack, bool) {
	m := ackPattern.FindStringSubmatch(line)
	if m == nil {
		return Ack{}, false
	}
	return Ack{
		Command: m[1],
		Status:  m[2],
		Detail:  m[3],
	}, true
}
