package domain

// EventType discriminates push-channel messages.
type EventType string

const (
	EventConnected       EventType = "connected"
	EventQuestionChanged EventType = "question_changed"
	EventResponseSaved   EventType = "response_saved"
	EventSessionEnded    EventType = "session_ended"
	EventError           EventType = "error"

	// EventStudentResponse is the only client-to-server message.
	EventStudentResponse EventType = "student_response"
)

// Event is a session-scoped notification fanned out by the hub.
type Event struct {
	Type       EventType `json:"type"`
	SessionID  int64     `json:"sessionId"`
	QuestionID *int64    `json:"questionId"`
}
