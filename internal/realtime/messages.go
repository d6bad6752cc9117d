package realtime

import (
	"bytes"
	"encoding/json"
)

// Inbound message types.
const (
	TypeJoin              = "join"
	TypeStartRecording    = "start_recording"
	TypeStopRecording     = "stop_recording"
	TypeEndMeeting        = "end_meeting"
	TypeCompleteAudioFile = "complete_audio_file"
)

// Outbound event types.
const (
	EventJoined                  = "joined"
	EventRecordingStarted        = "recording_started"
	EventRecordingAlreadyStarted = "recording_already_started"
	EventRecordingStopped        = "recording_stopped"
	EventMeetingEnded            = "meeting_ended"
	EventPDFLink                 = "pdf_link"
	EventPDFError                = "pdf_error"
	EventIntermediateSummary     = "intermediate_summary"
	EventSummaryError            = "summary_error"
	EventUploadError             = "upload_error"
	EventError                   = "error"
)

// Inbound is a structured client message.
type Inbound struct {
	Type      string `json:"type"`
	MeetingID string `json:"meetingId" validate:"omitempty,identifier"`
	UserID    string `json:"userId" validate:"omitempty,identifier"`
	Size      int64  `json:"size" validate:"gte=0"`
}

// ParseInbound decodes payload as a structured message. ok is false when the
// payload is not a JSON object, in which case it carries raw audio.
func ParseInbound(payload []byte) (Inbound, bool) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Inbound{}, false
	}
	var msg Inbound
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return Inbound{}, false
	}
	return msg, true
}

// Typed reports the outbound event type.
type Typed interface {
	EventType() string
}

// JoinedEvent acknowledges a join to the joining connection.
type JoinedEvent struct {
	Type         string   `json:"type"`
	MeetingID    string   `json:"meetingId"`
	Participants []string `json:"participants"`
	IsRecording  bool     `json:"isRecording"`
}

func (e JoinedEvent) EventType() string { return e.Type }

// RecordingStartedEvent announces a new recording to a meeting.
type RecordingStartedEvent struct {
	Type        string `json:"type"`
	MeetingID   string `json:"meetingId"`
	AutoStarted bool   `json:"autoStarted"`
	StartedBy   string `json:"startedBy,omitempty"`
	Message     string `json:"message"`
}

func (e RecordingStartedEvent) EventType() string { return e.Type }

// StatusEvent carries lifecycle notices without further payload.
type StatusEvent struct {
	Type      string `json:"type"`
	MeetingID string `json:"meetingId,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (e StatusEvent) EventType() string { return e.Type }

// SummaryEvent delivers a summary fetched from the summary service.
type SummaryEvent struct {
	Type        string          `json:"type"`
	MeetingID   string          `json:"meetingId"`
	Title       string          `json:"title"`
	CreatedAt   string          `json:"createdAt,omitempty"`
	SummaryText string          `json:"summaryText"`
	PDFLinks    json.RawMessage `json:"pdfLinks,omitempty"`
}

func (e SummaryEvent) EventType() string { return e.Type }

// FailureEvent reports a collaborator failure to the meeting.
type FailureEvent struct {
	Type      string `json:"type"`
	MeetingID string `json:"meetingId"`
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
}

func (e FailureEvent) EventType() string { return e.Type }

func Joined(meetingID string, participants []string, recording bool) JoinedEvent {
	if participants == nil {
		participants = []string{}
	}
	return JoinedEvent{Type: EventJoined, MeetingID: meetingID, Participants: participants, IsRecording: recording}
}

func RecordingStarted(meetingID, startedBy string, auto bool) RecordingStartedEvent {
	message := "Recording started"
	if auto {
		message = "Recording started automatically"
	}
	return RecordingStartedEvent{
		Type:        EventRecordingStarted,
		MeetingID:   meetingID,
		AutoStarted: auto,
		StartedBy:   startedBy,
		Message:     message,
	}
}

func RecordingAlreadyStarted(meetingID string) StatusEvent {
	return StatusEvent{Type: EventRecordingAlreadyStarted, MeetingID: meetingID, Message: "Recording is already in progress"}
}

func RecordingStopped(meetingID string) StatusEvent {
	return StatusEvent{Type: EventRecordingStopped, MeetingID: meetingID}
}

func MeetingEnded(meetingID string) StatusEvent {
	return StatusEvent{Type: EventMeetingEnded, MeetingID: meetingID}
}

// Error is sent to a single connection when its message cannot be handled.
func Error(message string) StatusEvent {
	return StatusEvent{Type: EventError, Message: message}
}

func Failure(eventType, meetingID, message string, err error) FailureEvent {
	event := FailureEvent{Type: eventType, MeetingID: meetingID, Message: message}
	if err != nil {
		event.Error = err.Error()
	}
	return event
}

func eventType(event any) string {
	if typed, ok := event.(Typed); ok {
		return typed.EventType()
	}
	return "unknown"
}
