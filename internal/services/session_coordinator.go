package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/meetrec/internal/audio"
	"github.com/charlesng35/meetrec/internal/monitoring"
	"github.com/charlesng35/meetrec/internal/realtime"
	"github.com/charlesng35/meetrec/pkg/logger"
)

var (
	// ErrMeetingFull is returned by Join when the participant limit is reached.
	ErrMeetingFull = errors.New("meeting is full")
	// ErrMeetingEnded is returned by Join while the meeting is being torn down.
	ErrMeetingEnded = errors.New("meeting has ended")
	// ErrSessionNotFound is returned for operations that need a live session.
	ErrSessionNotFound = errors.New("meeting session not found")
	// ErrSummaryDisabled is returned when no summary provider is configured.
	ErrSummaryDisabled = errors.New("summary delivery is not configured")
	// ErrCoordinatorClosed is returned once Close has been called.
	ErrCoordinatorClosed = errors.New("session coordinator closed")
)

// Broadcaster fans events out to the connections of a meeting.
type Broadcaster interface {
	Broadcast(meetingID string, event any) int
}

// Prober validates that a stored segment carries audio.
type Prober interface {
	Probe(ctx context.Context, path string) (bool, error)
}

// CoordinatorConfig holds the timing and limits of the meeting lifecycle.
type CoordinatorConfig struct {
	AutoStartRecording bool
	MaxParticipants    int
	StopGrace          time.Duration
	EndGrace           time.Duration
	EndSettle          time.Duration
	MinSegmentBytes    int64
	SummaryDelay       time.Duration
	IntermediateUpload bool
}

// JoinResult is returned to the joining participant.
type JoinResult struct {
	MeetingID    string
	Participants []string
	IsRecording  bool
	// Flush is set when the join started a merge of a backlog.
	Flush *MergeTask
}

// CoordinatorOption customises a SessionCoordinator.
type CoordinatorOption func(*SessionCoordinator)

// WithSummaryProvider enables summary delivery.
func WithSummaryProvider(provider SummaryProvider) CoordinatorOption {
	return func(c *SessionCoordinator) {
		c.summaries = provider
	}
}

// WithRecordingUploader enables uploads of merged recordings.
func WithRecordingUploader(uploader RecordingUploader) CoordinatorOption {
	return func(c *SessionCoordinator) {
		c.uploader = uploader
	}
}

// WithRecordingCatalog enables persistence of finalized recordings.
func WithRecordingCatalog(catalog RecordingCatalog) CoordinatorOption {
	return func(c *SessionCoordinator) {
		c.catalog = catalog
	}
}

// WithCoordinatorClock injects the clock and the grace-period sleeper.
func WithCoordinatorClock(now func() time.Time, sleep func(context.Context, time.Duration)) CoordinatorOption {
	return func(c *SessionCoordinator) {
		if now != nil {
			c.now = now
		}
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// SessionCoordinator drives the per-meeting recording state machine.
type SessionCoordinator struct {
	registry    *SessionRegistry
	merger      *MergeEngine
	store       SegmentStore
	prober      Prober
	broadcaster Broadcaster
	cfg         CoordinatorConfig

	summaries SummaryProvider
	uploader  RecordingUploader
	catalog   RecordingCatalog

	now   func() time.Time
	sleep func(context.Context, time.Duration)
	log   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	lifecycleMu sync.Mutex
	closed      bool
	tasks       sync.WaitGroup
	timers      map[string]*time.Timer
}

func NewSessionCoordinator(
	registry *SessionRegistry,
	merger *MergeEngine,
	store SegmentStore,
	prober Prober,
	broadcaster Broadcaster,
	cfg CoordinatorConfig,
	opts ...CoordinatorOption,
) (*SessionCoordinator, error) {
	switch {
	case registry == nil:
		return nil, errors.New("coordinator: session registry is required")
	case merger == nil:
		return nil, errors.New("coordinator: merge engine is required")
	case store == nil:
		return nil, errors.New("coordinator: segment store is required")
	case prober == nil:
		return nil, errors.New("coordinator: prober is required")
	case broadcaster == nil:
		return nil, errors.New("coordinator: broadcaster is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &SessionCoordinator{
		registry:    registry,
		merger:      merger,
		store:       store,
		prober:      prober,
		broadcaster: broadcaster,
		cfg:         cfg,
		now:         time.Now,
		sleep:       sleepContext,
		log:         logger.WithModule("coordinator"),
		ctx:         ctx,
		cancel:      cancel,
		timers:      make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Registry exposes the session registry for read-only listings.
func (c *SessionCoordinator) Registry() *SessionRegistry {
	return c.registry
}

// Join adds participantID to the meeting, creating the session on first use.
// The first participant starts the recording when auto start is enabled.
func (c *SessionCoordinator) Join(ctx context.Context, meetingID, participantID string) (JoinResult, error) {
	meetingID = strings.TrimSpace(meetingID)
	participantID = strings.TrimSpace(participantID)
	if meetingID == "" || participantID == "" {
		return JoinResult{}, errors.New("coordinator: meeting id and participant id are required")
	}

	session, created := c.registry.GetOrCreate(meetingID)
	if created {
		monitoring.AdjustMeetingSessions(1)
		monitoring.RecordMeetingEvent("created")
		c.log.Info("meeting session created", zap.String("meeting_id", meetingID))
	}

	had, roster, err := session.addParticipant(participantID, c.cfg.MaxParticipants)
	if err != nil {
		c.log.Warn("join rejected",
			zap.String("meeting_id", meetingID),
			zap.String("participant_id", participantID),
			zap.Error(err),
		)
		return JoinResult{}, err
	}
	monitoring.RecordMeetingEvent("joined")
	c.log.Info("participant joined",
		zap.String("meeting_id", meetingID),
		zap.String("participant_id", participantID),
		zap.Int("participants", len(roster)),
	)

	if !had && c.cfg.AutoStartRecording {
		c.beginRecording(session, participantID, true)
		c.scheduleFinalSummary(meetingID)
	}

	result := JoinResult{
		MeetingID:    meetingID,
		Participants: roster,
		IsRecording:  session.IsRecording(),
	}
	if had && result.IsRecording && session.hasPending() {
		result.Flush = c.startMerge(session)
	}
	return result, nil
}

// Leave removes the participant. Recording continues even when the meeting
// becomes empty.
func (c *SessionCoordinator) Leave(_ context.Context, meetingID, participantID string) {
	session, ok := c.registry.Get(meetingID)
	if !ok {
		return
	}
	roster := session.removeParticipant(participantID)
	monitoring.RecordMeetingEvent("left")
	c.log.Info("participant left",
		zap.String("meeting_id", meetingID),
		zap.String("participant_id", participantID),
		zap.Int("participants", len(roster)),
	)
}

// StartRecording switches the meeting to recording. It returns false when the
// meeting was already recording.
func (c *SessionCoordinator) StartRecording(_ context.Context, meetingID, startedBy string, auto bool) (bool, error) {
	session, ok := c.registry.Get(meetingID)
	if !ok {
		return false, ErrSessionNotFound
	}
	return c.beginRecording(session, startedBy, auto), nil
}

func (c *SessionCoordinator) beginRecording(session *MeetingSession, startedBy string, auto bool) bool {
	if !session.startRecording() {
		c.log.Info("recording already in progress", zap.String("meeting_id", session.ID()))
		return false
	}
	monitoring.RecordMeetingEvent("recording_started")
	c.log.Info("recording started",
		zap.String("meeting_id", session.ID()),
		zap.String("started_by", startedBy),
		zap.Bool("auto", auto),
	)
	c.broadcaster.Broadcast(session.ID(), realtime.RecordingStarted(session.ID(), startedBy, auto))
	return true
}

// StopRecording waits for in-flight uploads, stops the recording and flushes
// what is pending before announcing the stop. A merge already running is
// waited for, and a concurrent caller returns once that flush resolved. The
// drain runs to completion even if ctx is cancelled.
func (c *SessionCoordinator) StopRecording(ctx context.Context, meetingID string) error {
	session, ok := c.registry.Get(meetingID)
	if !ok || !session.IsRecording() {
		return nil
	}
	ctx = context.WithoutCancel(ensureContext(ctx))

	c.sleep(ctx, c.cfg.StopGrace)
	changed, _ := session.stopRecording()
	c.drain(ctx, session)
	if !changed {
		return nil
	}

	monitoring.RecordMeetingEvent("recording_stopped")
	c.log.Info("recording stopped", zap.String("meeting_id", meetingID))
	c.broadcaster.Broadcast(meetingID, realtime.RecordingStopped(meetingID))
	return nil
}

// EndMeeting drains and finalizes the meeting, then removes its session.
// Ending an unknown meeting is a no-op.
func (c *SessionCoordinator) EndMeeting(ctx context.Context, meetingID string) error {
	session, ok := c.registry.Get(meetingID)
	if !ok {
		return nil
	}
	ctx = context.WithoutCancel(ensureContext(ctx))

	if session.IsRecording() {
		c.sleep(ctx, c.cfg.EndGrace)
		if changed, _ := session.stopRecording(); changed {
			c.drain(ctx, session)
			c.sleep(ctx, c.cfg.EndSettle)
		}
	}
	c.drain(ctx, session)

	finalized := c.finalize(session)
	snapshot := session.Snapshot()
	if !c.registry.remove(session) {
		return nil
	}
	c.cancelFinalSummary(meetingID)

	monitoring.AdjustMeetingSessions(-1)
	monitoring.RecordMeetingEnded(c.now().Sub(session.CreatedAt()))
	c.log.Info("meeting ended",
		zap.String("meeting_id", meetingID),
		zap.Strings("finalized", finalized),
	)

	endedAt := c.now().UTC()
	for _, path := range finalized {
		c.recordFinalized(ctx, FinalizedRecording{
			MeetingID:    meetingID,
			Path:         path,
			Codec:        audio.CodecOf(path),
			Participants: snapshot.Participants,
			StartedAt:    session.CreatedAt(),
			EndedAt:      endedAt,
		})
	}

	c.broadcaster.Broadcast(meetingID, realtime.MeetingEnded(meetingID))

	for _, path := range finalized {
		c.uploadDetached(meetingID, path, UploadStageFinal)
	}
	return nil
}

// SegmentReceived stores and validates one uploaded segment and queues it for
// the next merge. It returns false when the segment was discarded.
func (c *SessionCoordinator) SegmentReceived(ctx context.Context, meetingID string, data []byte) (bool, error) {
	size := int64(len(data))
	session, ok := c.registry.Get(meetingID)
	if !ok || !session.IsRecording() {
		monitoring.RecordSegment("rejected", size)
		c.log.Debug("segment ignored, meeting not recording", zap.String("meeting_id", meetingID))
		return false, nil
	}
	if size < c.cfg.MinSegmentBytes {
		monitoring.RecordSegment("undersized", size)
		c.log.Warn("segment too small",
			zap.String("meeting_id", meetingID),
			zap.Int64("size", size),
			zap.Int64("min_size", c.cfg.MinSegmentBytes),
		)
		return false, nil
	}

	if !session.admitArrival() {
		monitoring.RecordSegment("rejected", size)
		c.log.Debug("segment ignored, recording stopped", zap.String("meeting_id", meetingID))
		return false, nil
	}

	ctx = ensureContext(ctx)
	handle, err := c.store.Put(ctx, meetingID, data)
	if err != nil {
		session.dropArrival()
		monitoring.RecordSegment("failed", size)
		return false, err
	}

	valid, err := c.prober.Probe(ctx, handle)
	if err != nil || !valid {
		monitoring.RecordSegment("invalid", size)
		c.log.Warn("segment has no audio stream",
			zap.String("meeting_id", meetingID),
			zap.String("segment", handle),
			zap.Error(err),
		)
		session.dropArrival()
		c.discard(ctx, handle)
		return false, nil
	}

	if !session.acceptArrival(handle) {
		monitoring.RecordSegment("rejected", size)
		c.log.Info("segment arrived after meeting ended", zap.String("meeting_id", meetingID))
		c.discard(ctx, handle)
		return false, nil
	}

	monitoring.RecordSegment("accepted", size)
	c.log.Debug("segment queued",
		zap.String("meeting_id", meetingID),
		zap.String("segment", handle),
		zap.Int64("size", size),
	)
	return true, nil
}

// Flush starts a merge of the meeting's pending segments.
func (c *SessionCoordinator) Flush(_ context.Context, meetingID string) (*MergeTask, error) {
	session, ok := c.registry.Get(meetingID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return c.startMerge(session), nil
}

// DeliverFinalSummary fetches the final summary and broadcasts it to the
// meeting. Failures are broadcast as pdf_error. It returns the number of
// connections reached.
func (c *SessionCoordinator) DeliverFinalSummary(ctx context.Context, meetingID string) (int, error) {
	if c.summaries == nil {
		return 0, ErrSummaryDisabled
	}
	summary, err := c.summaries.FinalSummary(ensureContext(ctx), meetingID)
	if err != nil {
		monitoring.RecordCollaboratorCall("summary", "failure", err.Error())
		c.log.Error("final summary unavailable", zap.String("meeting_id", meetingID), zap.Error(err))
		reached := c.broadcaster.Broadcast(meetingID, realtime.Failure(realtime.EventPDFError, meetingID, "Failed to fetch meeting summary", err))
		return reached, err
	}
	monitoring.RecordCollaboratorCall("summary", "success", "")
	return c.broadcaster.Broadcast(meetingID, summaryEvent(realtime.EventPDFLink, meetingID, summary)), nil
}

// DeliverIntermediateSummary fetches the latest summary and broadcasts it.
func (c *SessionCoordinator) DeliverIntermediateSummary(ctx context.Context, meetingID string) (int, error) {
	if c.summaries == nil {
		return 0, ErrSummaryDisabled
	}
	summary, err := c.summaries.IntermediateSummary(ensureContext(ctx), meetingID)
	if err != nil {
		monitoring.RecordCollaboratorCall("summary", "failure", err.Error())
		c.log.Error("intermediate summary unavailable", zap.String("meeting_id", meetingID), zap.Error(err))
		reached := c.broadcaster.Broadcast(meetingID, realtime.Failure(realtime.EventSummaryError, meetingID, "Failed to fetch intermediate summary", err))
		return reached, err
	}
	monitoring.RecordCollaboratorCall("summary", "success", "")
	return c.broadcaster.Broadcast(meetingID, summaryEvent(realtime.EventIntermediateSummary, meetingID, summary)), nil
}

// RunDetached runs fn in the background and tracks it for Close. It returns
// false once the coordinator is closed.
func (c *SessionCoordinator) RunDetached(fn func(ctx context.Context)) bool {
	c.lifecycleMu.Lock()
	if c.closed {
		c.lifecycleMu.Unlock()
		return false
	}
	c.tasks.Add(1)
	c.lifecycleMu.Unlock()

	go func() {
		defer c.tasks.Done()
		fn(c.ctx)
	}()
	return true
}

// Close stops pending summary timers and waits for background work. When ctx
// expires first, running work is cancelled.
func (c *SessionCoordinator) Close(ctx context.Context) error {
	c.lifecycleMu.Lock()
	if c.closed {
		c.lifecycleMu.Unlock()
		return nil
	}
	c.closed = true
	for meetingID, timer := range c.timers {
		timer.Stop()
		delete(c.timers, meetingID)
	}
	c.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		c.tasks.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.cancel()
		return nil
	case <-ensureContext(ctx).Done():
		c.cancel()
		return ctx.Err()
	}
}

// startMerge runs a merge in the background. After Close the merge runs
// inline and the returned task is already complete.
func (c *SessionCoordinator) startMerge(session *MeetingSession) *MergeTask {
	task := newMergeTask(session.ID())
	run := func(ctx context.Context) {
		before := session.CumulativeFile()
		handle, ok := c.merger.Merge(ctx, session)
		if ok && handle != before && c.cfg.IntermediateUpload {
			c.uploadDetached(session.ID(), handle, UploadStageIntermediate)
		}
		task.complete(handle, ok)
	}
	if !c.RunDetached(run) {
		run(context.Background())
	}
	return task
}

func (c *SessionCoordinator) awaitMerge(ctx context.Context, session *MeetingSession) MergeResult {
	result, _ := c.startMerge(session).Wait(ctx)
	return result
}

// drain waits for admitted arrivals, then for a merge of everything pending.
// A merge already in flight holds mergeMu, so the new one starts after it.
func (c *SessionCoordinator) drain(ctx context.Context, session *MeetingSession) {
	session.awaitArrivals()
	c.awaitMerge(ctx, session)
}

// finalize marks the session ended under mergeMu so the retained file is the
// one the last merge produced.
func (c *SessionCoordinator) finalize(session *MeetingSession) []string {
	session.mergeMu.Lock()
	defer session.mergeMu.Unlock()
	return session.finalize()
}

func (c *SessionCoordinator) scheduleFinalSummary(meetingID string) {
	if c.summaries == nil || c.cfg.SummaryDelay <= 0 {
		return
	}

	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.closed {
		return
	}
	if _, scheduled := c.timers[meetingID]; scheduled {
		return
	}
	c.timers[meetingID] = time.AfterFunc(c.cfg.SummaryDelay, func() {
		c.lifecycleMu.Lock()
		delete(c.timers, meetingID)
		c.lifecycleMu.Unlock()

		c.RunDetached(func(ctx context.Context) {
			_, _ = c.DeliverFinalSummary(ctx, meetingID)
		})
	})
}

func (c *SessionCoordinator) cancelFinalSummary(meetingID string) {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if timer, ok := c.timers[meetingID]; ok {
		timer.Stop()
		delete(c.timers, meetingID)
	}
}

func (c *SessionCoordinator) recordFinalized(ctx context.Context, recording FinalizedRecording) {
	if c.catalog == nil {
		return
	}
	if err := c.catalog.RecordFinalized(ctx, recording); err != nil {
		monitoring.RecordCollaboratorCall("catalog", "failure", err.Error())
		c.log.Error("failed to catalog recording",
			zap.String("meeting_id", recording.MeetingID),
			zap.String("path", recording.Path),
			zap.Error(err),
		)
		return
	}
	monitoring.RecordCollaboratorCall("catalog", "success", "")
}

func (c *SessionCoordinator) uploadDetached(meetingID, path string, stage UploadStage) {
	if c.uploader == nil {
		return
	}
	c.RunDetached(func(ctx context.Context) {
		location, err := c.uploader.Upload(ctx, meetingID, path, stage)
		if err != nil {
			monitoring.RecordCollaboratorCall("upload", "failure", err.Error())
			c.log.Error("recording upload failed",
				zap.String("meeting_id", meetingID),
				zap.String("path", path),
				zap.String("stage", string(stage)),
				zap.Error(err),
			)
			c.broadcaster.Broadcast(meetingID, realtime.Failure(realtime.EventUploadError, meetingID, "Failed to upload recording", err))
			return
		}
		monitoring.RecordCollaboratorCall("upload", "success", "")
		c.log.Info("recording uploaded",
			zap.String("meeting_id", meetingID),
			zap.String("stage", string(stage)),
			zap.String("location", location),
		)
		if stage == UploadStageFinal && c.catalog != nil {
			if err := c.catalog.MarkUploaded(ctx, path, location); err != nil {
				c.log.Warn("failed to record upload location", zap.String("path", path), zap.Error(err))
			}
		}
	})
}

func (c *SessionCoordinator) discard(ctx context.Context, handle string) {
	if err := c.store.Delete(ctx, handle); err != nil {
		c.log.Warn("failed to remove segment", zap.String("segment", handle), zap.Error(err))
	}
}

func summaryEvent(eventType, meetingID string, summary Summary) realtime.SummaryEvent {
	return realtime.SummaryEvent{
		Type:        eventType,
		MeetingID:   meetingID,
		Title:       summary.Title,
		CreatedAt:   summary.CreatedAt,
		SummaryText: summary.SummaryText,
		PDFLinks:    summary.PDFLinks,
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
