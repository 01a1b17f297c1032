package eventbus

import "fmt"

const (
	// SubjectPrefix is the canonical prefix for saga traffic.
	SubjectPrefix = "sagabank.v1"
)

// RequestSubject returns the subject a participant consumes requests on.
func RequestSubject(participant string) string {
	return fmt.Sprintf("%s.request.%s", SubjectPrefix, sanitizeSegment(participant))
}

// ReplySubject returns the subject an initiator consumes replies on.
func ReplySubject(initiator string) string {
	return fmt.Sprintf("%s.reply.%s", SubjectPrefix, sanitizeSegment(initiator))
}

// SignalSubject returns the subject a participant consumes commit and
// rollback signals on.
func SignalSubject(participant string) string {
	return fmt.Sprintf("%s.signal.%s", SubjectPrefix, sanitizeSegment(participant))
}

// ParticipantWildcard matches every request and signal subject for one
// participant.
func ParticipantWildcard(participant string) string {
	return fmt.Sprintf("%s.*.%s", SubjectPrefix, sanitizeSegment(participant))
}

func sanitizeSegment(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
