package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/meetrec/internal/models"
	"github.com/charlesng35/meetrec/internal/services"
	appErrors "github.com/charlesng35/meetrec/pkg/errors"
	"github.com/charlesng35/meetrec/pkg/response"
)

// SessionDirectory exposes live meeting sessions.
type SessionDirectory interface {
	ListAll() []services.SessionSnapshot
	Get(meetingID string) (*services.MeetingSession, bool)
}

// RecordingLister lists catalogued recordings of a meeting.
type RecordingLister interface {
	ListByMeeting(ctx context.Context, meetingID string) ([]models.MeetingRecording, error)
}

// MeetingHandler serves read-only meeting state.
type MeetingHandler struct {
	sessions   SessionDirectory
	recordings RecordingLister
}

// NewMeetingHandler builds a MeetingHandler. recordings may be nil when the
// catalog is disabled.
func NewMeetingHandler(sessions SessionDirectory, recordings RecordingLister) (*MeetingHandler, error) {
	if sessions == nil {
		return nil, errors.New("meeting handler: session directory is required")
	}
	return &MeetingHandler{sessions: sessions, recordings: recordings}, nil
}

// GET /api/meetings
func (h *MeetingHandler) List(c *gin.Context) {
	snapshots := h.sessions.ListAll()
	total := len(snapshots)
	if limit := parseIntQuery(c, "limit", 0); limit > 0 && limit < total {
		snapshots = snapshots[:limit]
	}
	response.List(c, snapshots, total)
}

// GET /api/meetings/:meetingID
func (h *MeetingHandler) Get(c *gin.Context) {
	meetingID, ok := meetingParam(c)
	if !ok {
		return
	}
	session, found := h.sessions.Get(meetingID)
	if !found {
		response.Error(c, appErrors.ErrMeetingNotFound)
		return
	}
	response.Success(c, http.StatusOK, session.Snapshot())
}

type meetingFiles struct {
	MeetingID       string                    `json:"meetingId"`
	Live            bool                      `json:"live"`
	CumulativeFile  string                    `json:"cumulativeFile,omitempty"`
	PendingSegments int                       `json:"pendingSegments"`
	FinalizedFiles  []string                  `json:"finalizedFiles,omitempty"`
	Recordings      []models.MeetingRecording `json:"recordings"`
}

// GET /api/meetings/:meetingID/files
func (h *MeetingHandler) Files(c *gin.Context) {
	meetingID, ok := meetingParam(c)
	if !ok {
		return
	}

	files := meetingFiles{MeetingID: meetingID, Recordings: []models.MeetingRecording{}}
	if session, live := h.sessions.Get(meetingID); live {
		snapshot := session.Snapshot()
		files.Live = true
		files.CumulativeFile = snapshot.CumulativeFile
		files.PendingSegments = snapshot.PendingSegments
		files.FinalizedFiles = snapshot.FinalizedFiles
	}

	if h.recordings != nil {
		records, err := h.recordings.ListByMeeting(requestContext(c), meetingID)
		if err != nil {
			response.Error(c, appErrors.Wrap(err, "failed to list recordings"))
			return
		}
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].EndedAt.After(records[j].EndedAt)
		})
		files.Recordings = records
	}

	if !files.Live && len(files.Recordings) == 0 {
		response.Error(c, appErrors.ErrMeetingNotFound)
		return
	}
	response.Success(c, http.StatusOK, files)
}

func requestContext(c *gin.Context) context.Context {
	if c == nil || c.Request == nil {
		return context.Background()
	}
	return c.Request.Context()
}
