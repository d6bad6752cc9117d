package services

import "context"

// MergeResult is the outcome of one merge.
type MergeResult struct {
	MeetingID string
	Handle    string
	OK        bool
}

// MergeTask is a merge running in the background. Callers either Wait for
// it or drop the task to detach.
type MergeTask struct {
	meetingID string
	done      chan struct{}
	result    MergeResult
}

func newMergeTask(meetingID string) *MergeTask {
	return &MergeTask{meetingID: meetingID, done: make(chan struct{})}
}

func (t *MergeTask) complete(handle string, ok bool) {
	t.result = MergeResult{MeetingID: t.meetingID, Handle: handle, OK: ok}
	close(t.done)
}

// MeetingID returns the meeting the task merges.
func (t *MergeTask) MeetingID() string {
	return t.meetingID
}

// Done is closed once the merge has finished.
func (t *MergeTask) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the merge finishes or ctx is done.
func (t *MergeTask) Wait(ctx context.Context) (MergeResult, error) {
	select {
	case <-t.done:
		return t.result, nil
	case <-ensureContext(ctx).Done():
		return MergeResult{MeetingID: t.meetingID}, ctx.Err()
	}
}
