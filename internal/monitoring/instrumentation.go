package monitoring

import (
	"strings"
	"time"
)

// ObserveAPILatency captures the HTTP request latency for the supplied route.
func ObserveAPILatency(method, path, status string, duration time.Duration) {
	module := ensureModule()
	if module == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "UNKNOWN"
	}
	path = sanitizePath(path)
	if path == "" {
		path = "unknown"
	}
	status = strings.TrimSpace(status)
	if status == "" {
		status = "unknown"
	}
	module.metrics.apiLatency.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// AdjustMeetingSessions moves the live meeting gauge by delta.
func AdjustMeetingSessions(delta int64) {
	module := ensureModule()
	if module == nil || delta == 0 {
		return
	}
	module.metrics.meetingSessions.Add(float64(delta))
	if module.stats.adjustMeetings(delta) < 0 {
		module.metrics.meetingSessions.Set(0)
	}
}

// RecordMeetingEvent counts a lifecycle event such as join or meeting_ended.
func RecordMeetingEvent(event string) {
	module := ensureModule()
	if module == nil {
		return
	}
	label := normalizeLabel(event)
	module.metrics.meetingEvents.WithLabelValues(label).Inc()
	module.stats.recordMeetingEvent(label)
}

// RecordMeetingEnded observes how long a meeting lived.
func RecordMeetingEnded(lifetime time.Duration) {
	module := ensureModule()
	if module == nil {
		return
	}
	observeDuration(module.metrics.meetingDuration, lifetime)
	module.stats.recordMeetingLifetime(lifetime)
}

// RecordSegment counts a segment by outcome (accepted, invalid, rejected, error).
func RecordSegment(result string, size int64) {
	module := ensureModule()
	if module == nil {
		return
	}
	label := normalizeLabel(result)
	module.metrics.segments.WithLabelValues(label).Inc()
	if label == "accepted" && size > 0 {
		module.metrics.segmentBytes.Add(float64(size))
	}
	module.stats.recordSegment(label)
}

// RecordMerge counts a merge outcome. Duration is observed only for merges
// that reached the encoder.
func RecordMerge(result, message string, segments int, duration time.Duration) {
	module := ensureModule()
	if module == nil {
		return
	}
	label := normalizeLabel(result)
	module.metrics.merges.WithLabelValues(label).Inc()
	if label != "noop" {
		observeDuration(module.metrics.mergeDuration, duration)
	}
	module.stats.recordMerge(label, strings.TrimSpace(message), segments, duration)
}

// RecordEncoderFallback counts a retry with the fallback codec.
func RecordEncoderFallback(operation, result string) {
	module := ensureModule()
	if module == nil {
		return
	}
	module.metrics.encoderFallbacks.WithLabelValues(normalizeLabel(operation), normalizeLabel(result)).Inc()
	module.stats.recordFallback()
}

// RecordCollaboratorCall counts a call to the summary service or uploader.
func RecordCollaboratorCall(collaborator, result, message string) {
	module := ensureModule()
	if module == nil {
		return
	}
	name := normalizeLabel(collaborator)
	label := normalizeLabel(result)
	module.metrics.collaboratorCalls.WithLabelValues(name, label).Inc()
	if label != "success" {
		module.metrics.collaboratorFailures.WithLabelValues(name).Inc()
		module.stats.recordCollaboratorFailure(FailureRecord{
			Stream:   name,
			Type:     label,
			Message:  strings.TrimSpace(message),
			Occurred: time.Now(),
		})
	}
}

// RecordRealtimeConnection adjusts the websocket connection gauge.
func RecordRealtimeConnection(delta int64) {
	module := ensureModule()
	if module == nil || delta == 0 {
		return
	}
	module.metrics.realtimeConnections.Add(float64(delta))
	if module.stats.recordRealtimeConnection(delta) < 0 {
		module.metrics.realtimeConnections.Set(0)
	}
}

// RecordRealtimeBroadcast counts an event fanned out to a meeting.
func RecordRealtimeBroadcast(event string) {
	module := ensureModule()
	if module == nil {
		return
	}
	label := normalizeLabel(event)
	module.metrics.realtimeBroadcasts.WithLabelValues(label).Inc()
	module.stats.recordRealtimeBroadcast()
}

// RecordRealtimeFailure snapshots a realtime failure occurrence.
func RecordRealtimeFailure(event, failureType, message string) {
	module := ensureModule()
	if module == nil {
		return
	}
	event = normalizeLabel(event)
	failureType = normalizeLabel(failureType)
	module.metrics.realtimeFailures.WithLabelValues(event, failureType).Inc()
	module.stats.recordRealtimeFailure(FailureRecord{
		Stream:   event,
		Type:     failureType,
		Message:  strings.TrimSpace(message),
		Occurred: time.Now(),
	})
}

// RecordMaintenanceRun records the completion of a maintenance job.
func RecordMaintenanceRun(job, result, message string, duration time.Duration) {
	module := ensureModule()
	if module == nil {
		return
	}
	jobID := normalizeLabel(job)
	result = normalizeLabel(result)
	module.metrics.maintenanceRuns.WithLabelValues(jobID, result).Inc()
	observeDuration(module.metrics.maintenanceDuration.WithLabelValues(jobID), duration)
	if result == "success" {
		module.metrics.maintenanceLastRun.WithLabelValues(jobID).Set(float64(time.Now().Unix()))
	}
	module.stats.maintenanceEntry(jobID).record(result, strings.TrimSpace(message), duration)
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return "unknown"
	}
	return value
}

func sanitizePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "/" {
		return "root"
	}
	path = strings.Trim(path, "/")
	return strings.ReplaceAll(path, " ", "_")
}
