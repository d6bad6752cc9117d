package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/meetrec/internal/audio"
	"github.com/charlesng35/meetrec/internal/monitoring"
	"github.com/charlesng35/meetrec/pkg/logger"
)

// MergeConfig selects the output encoding of merges.
type MergeConfig struct {
	Output        audio.EncodeOptions
	FallbackCodec string
	// Timeout bounds one whole merge. Zero means no bound beyond the encoder's own.
	Timeout time.Duration
}

// MergeEngine folds a session's pending segments into its cumulative recording.
type MergeEngine struct {
	store   SegmentStore
	encoder audio.Encoder
	cfg     MergeConfig
	now     func() time.Time
	log     *zap.Logger
}

// MergeOption customises a MergeEngine.
type MergeOption func(*MergeEngine)

// WithMergeClock overrides the clock used to time merges.
func WithMergeClock(now func() time.Time) MergeOption {
	return func(e *MergeEngine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewMergeEngine(store SegmentStore, encoder audio.Encoder, cfg MergeConfig, opts ...MergeOption) (*MergeEngine, error) {
	if store == nil {
		return nil, errors.New("merge engine: segment store is required")
	}
	if encoder == nil {
		return nil, errors.New("merge engine: encoder is required")
	}
	if cfg.Output.Codec == "" {
		return nil, errors.New("merge engine: output codec is required")
	}

	engine := &MergeEngine{
		store:   store,
		encoder: encoder,
		cfg:     cfg,
		now:     time.Now,
		log:     logger.WithModule("merge"),
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine, nil
}

// Merge flushes every unprocessed pending segment of session into a new
// cumulative file and returns its handle. Merges of the same session are
// serialised; a merge that finds nothing new returns the current cumulative
// handle without touching the encoder. Failures are logged and reported as
// ok=false with the session's cumulative file left unchanged.
func (e *MergeEngine) Merge(ctx context.Context, session *MeetingSession) (string, bool) {
	session.mergeMu.Lock()
	defer session.mergeMu.Unlock()

	log := e.log.With(zap.String("meeting_id", session.ID()))

	batch := session.takeUnprocessed()
	defer session.finishMerge()
	if len(batch) == 0 {
		current := session.CumulativeFile()
		monitoring.RecordMerge("noop", "", 0, 0)
		return current, current != ""
	}

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	started := e.now()
	handle, err := e.merge(ctx, session, batch)
	elapsed := e.now().Sub(started)
	if err != nil {
		log.Error("merge failed",
			zap.Int("segments", len(batch)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		monitoring.RecordMerge("failure", err.Error(), len(batch), elapsed)
		return "", false
	}

	log.Info("merge completed",
		zap.Int("segments", len(batch)),
		zap.String("cumulative", handle),
		zap.Duration("elapsed", elapsed),
	)
	monitoring.RecordMerge("success", "", len(batch), elapsed)
	return handle, true
}

func (e *MergeEngine) merge(ctx context.Context, session *MeetingSession, batch []string) (string, error) {
	meetingID := session.ID()

	valid := e.validate(ctx, meetingID, batch)
	if len(valid) == 0 {
		return "", fmt.Errorf("merge engine: none of %d segments passed validation", len(batch))
	}

	batchFile, err := e.encodeBatch(ctx, meetingID, valid)
	if err != nil {
		return "", err
	}

	prior := session.CumulativeFile()
	next := ""
	if prior != "" && e.store.Exists(ctx, prior) {
		next, err = e.fold(ctx, meetingID, prior, batchFile)
		e.discard(ctx, batchFile)
		if err != nil {
			return "", err
		}
	} else {
		if prior != "" {
			e.log.Warn("cumulative file missing, restarting from batch",
				zap.String("meeting_id", meetingID),
				zap.String("cumulative", prior),
			)
		}
		next, err = e.store.Promote(ctx, batchFile, meetingID)
		if err != nil {
			e.discard(ctx, batchFile)
			return "", fmt.Errorf("merge engine: promote batch: %w", err)
		}
	}

	if !e.store.Exists(ctx, next) {
		return "", fmt.Errorf("merge engine: cumulative file %s was not written", next)
	}

	session.setCumulative(next)
	for _, segment := range valid {
		e.discard(ctx, segment)
	}
	if prior != "" && prior != next {
		e.discard(ctx, prior)
	}
	return next, nil
}

// validate drops segments that vanished from the store or carry no audio.
func (e *MergeEngine) validate(ctx context.Context, meetingID string, batch []string) []string {
	valid := make([]string, 0, len(batch))
	for _, segment := range batch {
		if !e.store.Exists(ctx, segment) {
			e.log.Warn("segment missing at merge time",
				zap.String("meeting_id", meetingID),
				zap.String("segment", segment),
			)
			continue
		}
		ok, err := e.encoder.Probe(ctx, segment)
		if err != nil || !ok {
			e.log.Warn("segment failed validation",
				zap.String("meeting_id", meetingID),
				zap.String("segment", segment),
				zap.Error(err),
			)
			monitoring.RecordSegment("invalid", 0)
			e.discard(ctx, segment)
			continue
		}
		valid = append(valid, segment)
	}
	return valid
}

func (e *MergeEngine) encodeBatch(ctx context.Context, meetingID string, segments []string) (string, error) {
	operation := "concat"
	if len(segments) == 1 {
		operation = "transcode"
	}

	out, err := e.withFallback(ctx, meetingID, OutputBatch, operation, func(output string, opts audio.EncodeOptions) error {
		if len(segments) == 1 {
			return e.encoder.Transcode(ctx, segments[0], output, opts)
		}
		return e.encoder.Concat(ctx, segments, output, opts)
	})
	if err != nil {
		return "", fmt.Errorf("merge engine: encode batch of %d: %w", len(segments), err)
	}
	return out, nil
}

// fold appends batchFile to prior, prior content first.
func (e *MergeEngine) fold(ctx context.Context, meetingID, prior, batchFile string) (string, error) {
	out, err := e.withFallback(ctx, meetingID, OutputCumulative, "fold", func(output string, opts audio.EncodeOptions) error {
		return e.encoder.Concat(ctx, []string{prior, batchFile}, output, opts)
	})
	if err != nil {
		return "", fmt.Errorf("merge engine: fold into cumulative: %w", err)
	}
	return out, nil
}

// withFallback runs op with the primary codec, then once more with the
// fallback codec. Each attempt writes to a freshly allocated path and partial
// output of a failed attempt is removed.
func (e *MergeEngine) withFallback(ctx context.Context, meetingID string, kind OutputKind, operation string, op func(output string, opts audio.EncodeOptions) error) (string, error) {
	primary := e.cfg.Output
	output := e.store.Allocate(meetingID, kind, audio.Extension(primary.Codec))
	primaryErr := op(output, primary)
	if primaryErr == nil {
		return output, nil
	}
	e.discard(ctx, output)

	fallback := e.cfg.FallbackCodec
	if fallback == "" || fallback == primary.Codec || ctx.Err() != nil {
		return "", primaryErr
	}

	e.log.Warn("primary codec failed, retrying with fallback",
		zap.String("meeting_id", meetingID),
		zap.String("operation", operation),
		zap.String("codec", primary.Codec),
		zap.String("fallback_codec", fallback),
		zap.Error(primaryErr),
	)

	output = e.store.Allocate(meetingID, kind, audio.Extension(fallback))
	if err := op(output, primary.WithCodec(fallback)); err != nil {
		e.discard(ctx, output)
		monitoring.RecordEncoderFallback(operation, "failure")
		return "", multierr.Append(primaryErr, err)
	}
	monitoring.RecordEncoderFallback(operation, "success")
	return output, nil
}

func (e *MergeEngine) discard(ctx context.Context, handle string) {
	if err := e.store.Delete(ctx, handle); err != nil {
		e.log.Warn("failed to remove merge artifact", zap.String("path", handle), zap.Error(err))
	}
}
