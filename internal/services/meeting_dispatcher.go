package services

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/charlesng35/meetrec/internal/monitoring"
	"github.com/charlesng35/meetrec/internal/realtime"
	"github.com/charlesng35/meetrec/pkg/logger"
	"github.com/charlesng35/meetrec/pkg/validator"
)

var _ realtime.Dispatcher = (*MeetingDispatcher)(nil)

// ConnectionHub is the part of the realtime hub the dispatcher drives.
type ConnectionHub interface {
	Bind(connID, meetingID, participantID string) bool
	Unbind(connID string) (realtime.Binding, bool)
	BindingOf(connID string) (realtime.Binding, bool)
	ParticipantConnections(meetingID, participantID string) int
	SendTo(connID string, event any) bool
}

// MeetingDispatcher translates websocket traffic into coordinator calls.
type MeetingDispatcher struct {
	coordinator *SessionCoordinator
	hub         ConnectionHub
	log         *zap.Logger
}

func NewMeetingDispatcher(coordinator *SessionCoordinator, hub ConnectionHub) (*MeetingDispatcher, error) {
	if coordinator == nil {
		return nil, errors.New("dispatcher: coordinator is required")
	}
	if hub == nil {
		return nil, errors.New("dispatcher: hub is required")
	}
	return &MeetingDispatcher{
		coordinator: coordinator,
		hub:         hub,
		log:         logger.WithModule("dispatcher"),
	}, nil
}

// HandleMessage runs joins and starts inline. Stop and end drain for a grace
// period, so they run in the background and the reader keeps accepting audio.
func (d *MeetingDispatcher) HandleMessage(ctx context.Context, connID string, msg realtime.Inbound) {
	if err := validator.ValidateStruct(msg); err != nil {
		d.hub.SendTo(connID, realtime.Error("invalid message: "+err.Error()))
		return
	}

	msgType := strings.ToLower(strings.TrimSpace(msg.Type))
	switch msgType {
	case realtime.TypeJoin:
		d.join(ctx, connID, msg)
	case realtime.TypeStartRecording:
		d.startRecording(ctx, connID, msg)
	case realtime.TypeStopRecording:
		if meetingID, ok := d.meetingFor(connID, msg); ok {
			d.background(func(ctx context.Context) {
				_ = d.coordinator.StopRecording(ctx, meetingID)
			})
		}
	case realtime.TypeEndMeeting:
		if meetingID, ok := d.meetingFor(connID, msg); ok {
			d.background(func(ctx context.Context) {
				_ = d.coordinator.EndMeeting(ctx, meetingID)
			})
		}
	case realtime.TypeCompleteAudioFile:
		monitoring.RecordMeetingEvent("complete_audio_file")
		d.log.Info("client reported complete audio file",
			zap.String("conn_id", connID),
			zap.String("meeting_id", msg.MeetingID),
			zap.Int64("size", msg.Size),
		)
	default:
		d.log.Warn("unknown message type", zap.String("conn_id", connID), zap.String("type", msg.Type))
	}
}

// HandleAudio queues a raw segment for the connection's meeting.
func (d *MeetingDispatcher) HandleAudio(ctx context.Context, connID string, payload []byte) {
	binding, ok := d.hub.BindingOf(connID)
	if !ok {
		d.log.Debug("audio from unbound connection dropped", zap.String("conn_id", connID), zap.Int("size", len(payload)))
		return
	}
	if _, err := d.coordinator.SegmentReceived(ctx, binding.MeetingID, payload); err != nil {
		d.log.Error("failed to store segment",
			zap.String("meeting_id", binding.MeetingID),
			zap.String("participant_id", binding.ParticipantID),
			zap.Error(err),
		)
	}
}

// Disconnect removes the participant of a closed connection unless another
// connection still carries the same participant.
func (d *MeetingDispatcher) Disconnect(ctx context.Context, connID string, binding realtime.Binding) {
	left := d.release(ctx, binding)
	d.log.Debug("connection released",
		zap.String("conn_id", connID),
		zap.String("meeting_id", binding.MeetingID),
		zap.Bool("left", left),
	)
}

// release leaves the meeting for binding once no connection is bound to it.
func (d *MeetingDispatcher) release(ctx context.Context, binding realtime.Binding) bool {
	if d.hub.ParticipantConnections(binding.MeetingID, binding.ParticipantID) > 0 {
		return false
	}
	d.coordinator.Leave(ctx, binding.MeetingID, binding.ParticipantID)
	return true
}

func (d *MeetingDispatcher) join(ctx context.Context, connID string, msg realtime.Inbound) {
	if msg.MeetingID == "" || msg.UserID == "" {
		d.hub.SendTo(connID, realtime.Error("meetingId and userId are required"))
		return
	}

	current := realtime.Binding{MeetingID: msg.MeetingID, ParticipantID: msg.UserID}
	previous, rebinding := d.hub.BindingOf(connID)
	// Bound before joining so the joiner receives recording_started.
	d.hub.Bind(connID, msg.MeetingID, msg.UserID)
	if rebinding && previous != current {
		d.release(ctx, previous)
	}

	result, err := d.coordinator.Join(ctx, msg.MeetingID, msg.UserID)
	if err != nil {
		d.hub.Unbind(connID)
		d.hub.SendTo(connID, realtime.Error(joinErrorMessage(err)))
		return
	}
	d.hub.SendTo(connID, realtime.Joined(result.MeetingID, result.Participants, result.IsRecording))
}

func (d *MeetingDispatcher) startRecording(ctx context.Context, connID string, msg realtime.Inbound) {
	meetingID, ok := d.meetingFor(connID, msg)
	if !ok {
		return
	}
	startedBy := msg.UserID
	if binding, bound := d.hub.BindingOf(connID); bound && startedBy == "" {
		startedBy = binding.ParticipantID
	}

	started, err := d.coordinator.StartRecording(ctx, meetingID, startedBy, false)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		d.hub.SendTo(connID, realtime.Error("meeting not found"))
	case err != nil:
		d.hub.SendTo(connID, realtime.Error("failed to start recording"))
	case !started:
		d.hub.SendTo(connID, realtime.RecordingAlreadyStarted(meetingID))
	}
}

// meetingFor resolves the target meeting from the message or the binding.
func (d *MeetingDispatcher) meetingFor(connID string, msg realtime.Inbound) (string, bool) {
	if msg.MeetingID != "" {
		return msg.MeetingID, true
	}
	if binding, ok := d.hub.BindingOf(connID); ok {
		return binding.MeetingID, true
	}
	d.hub.SendTo(connID, realtime.Error("meetingId is required"))
	return "", false
}

func (d *MeetingDispatcher) background(fn func(ctx context.Context)) {
	if !d.coordinator.RunDetached(fn) {
		d.log.Warn("coordinator closed, dropping request")
	}
}

func joinErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrMeetingFull):
		return "meeting is full"
	case errors.Is(err, ErrMeetingEnded):
		return "meeting has ended"
	default:
		return "failed to join meeting"
	}
}
