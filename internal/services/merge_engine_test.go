package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/meetrec/internal/audio"
)

func TestMergeEngine_FirstMergePromotesBatch(t *testing.T) {
	store := newTestStore(t)
	encoder := newFakeEncoder()
	engine := newTestMergeEngine(t, store, encoder)
	session := newMeetingSession("m1", time.Now())

	first := queueSegment(t, store, session, "A|")
	second := queueSegment(t, store, session, "B|")

	handle, ok := engine.Merge(context.Background(), session)
	require.True(t, ok)
	require.Equal(t, handle, session.CumulativeFile())
	require.Equal(t, "A|B|", readFile(t, handle))
	require.Equal(t, []string{"concat"}, encoder.encodeCalls())
	require.Equal(t, ".mp3", filepath.Ext(handle))

	require.NoFileExists(t, first)
	require.NoFileExists(t, second)

	_, recordingsDir := store.Directories()
	require.Equal(t, []string{filepath.Base(handle)}, listDir(t, recordingsDir))
	require.Empty(t, session.PendingSegments())
}

func TestMergeEngine_SingleSegmentIsTranscoded(t *testing.T) {
	store := newTestStore(t)
	encoder := newFakeEncoder()
	engine := newTestMergeEngine(t, store, encoder)
	session := newMeetingSession("m1", time.Now())

	queueSegment(t, store, session, "only|")

	handle, ok := engine.Merge(context.Background(), session)
	require.True(t, ok)
	require.Equal(t, "only|", readFile(t, handle))
	require.Equal(t, []string{"transcode"}, encoder.encodeCalls())
}

func TestMergeEngine_RepeatedMergeIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	encoder := newFakeEncoder()
	engine := newTestMergeEngine(t, store, encoder)
	session := newMeetingSession("m1", time.Now())

	queueSegment(t, store, session, "A|")
	queueSegment(t, store, session, "B|")

	first, ok := engine.Merge(context.Background(), session)
	require.True(t, ok)
	calls := encoder.encodeCalls()

	second, ok := engine.Merge(context.Background(), session)
	require.True(t, ok)
	require.Equal(t, first, second)
	require.Equal(t, calls, encoder.encodeCalls())
}

func TestMergeEngine_EmptySessionReturnsNothing(t *testing.T) {
	engine := newTestMergeEngine(t, newTestStore(t), newFakeEncoder())
	session := newMeetingSession("m1", time.Now())

	handle, ok := engine.Merge(context.Background(), session)
	require.False(t, ok)
	require.Empty(t, handle)
}

func TestMergeEngine_FoldsPriorContentFirst(t *testing.T) {
	store := newTestStore(t)
	encoder := newFakeEncoder()
	engine := newTestMergeEngine(t, store, encoder)
	session := newMeetingSession("m1", time.Now())

	queueSegment(t, store, session, "A|")
	queueSegment(t, store, session, "B|")
	prior, ok := engine.Merge(context.Background(), session)
	require.True(t, ok)

	queueSegment(t, store, session, "C|")
	next, ok := engine.Merge(context.Background(), session)
	require.True(t, ok)
	require.NotEqual(t, prior, next)
	require.Equal(t, "A|B|C|", readFile(t, next))
	require.NoFileExists(t, prior)
	require.Equal(t, []string{"concat", "transcode", "concat"}, encoder.encodeCalls())

	_, recordingsDir := store.Directories()
	require.Equal(t, []string{filepath.Base(next)}, listDir(t, recordingsDir))
}

func TestMergeEngine_FallsBackToSecondaryCodec(t *testing.T) {
	store := newTestStore(t)
	encoder := newFakeEncoder()
	encoder.failCodec(audio.CodecMP3)
	engine := newTestMergeEngine(t, store, encoder)
	session := newMeetingSession("m1", time.Now())

	queueSegment(t, store, session, "A|")
	queueSegment(t, store, session, "B|")

	handle, ok := engine.Merge(context.Background(), session)
	require.True(t, ok)
	require.Equal(t, ".m4a", filepath.Ext(handle))
	require.Equal(t, "A|B|", readFile(t, handle))
	require.Equal(t, []string{audio.CodecMP3, audio.CodecAAC}, encoder.usedCodecs())

	_, recordingsDir := store.Directories()
	require.Len(t, listDir(t, recordingsDir), 1, "partial primary output is removed")
}

func TestMergeEngine_FailureLeavesCumulativeUntouched(t *testing.T) {
	store := newTestStore(t)
	encoder := newFakeEncoder()
	engine := newTestMergeEngine(t, store, encoder)
	session := newMeetingSession("m1", time.Now())

	queueSegment(t, store, session, "A|")
	prior, ok := engine.Merge(context.Background(), session)
	require.True(t, ok)

	encoder.failCodec(audio.CodecMP3)
	encoder.failCodec(audio.CodecAAC)
	failed := queueSegment(t, store, session, "B|")

	handle, ok := engine.Merge(context.Background(), session)
	require.False(t, ok)
	require.Empty(t, handle)
	require.Equal(t, prior, session.CumulativeFile())
	require.Equal(t, "A|", readFile(t, prior))

	snapshot := session.Snapshot()
	require.Zero(t, snapshot.PendingSegments)
	require.Equal(t, 2, snapshot.ProcessedSegments)

	// the failed segment is never offered again
	require.False(t, session.appendSegment(failed))
	again, ok := engine.Merge(context.Background(), session)
	require.True(t, ok)
	require.Equal(t, prior, again)

	_, recordingsDir := store.Directories()
	require.Equal(t, []string{filepath.Base(prior)}, listDir(t, recordingsDir))
}

func TestMergeEngine_DropsInvalidAndMissingSegments(t *testing.T) {
	store := newTestStore(t)
	encoder := newFakeEncoder()
	engine := newTestMergeEngine(t, store, encoder)
	session := newMeetingSession("m1", time.Now())

	invalid := queueSegment(t, store, session, "bad-header")
	missing := queueSegment(t, store, session, "gone|")
	require.NoError(t, os.Remove(missing))
	queueSegment(t, store, session, "A|")

	handle, ok := engine.Merge(context.Background(), session)
	require.True(t, ok)
	require.Equal(t, "A|", readFile(t, handle))
	require.NoFileExists(t, invalid)
	require.Equal(t, []string{"transcode"}, encoder.encodeCalls())
}

func TestMergeEngine_NothingValidFails(t *testing.T) {
	store := newTestStore(t)
	encoder := newFakeEncoder()
	engine := newTestMergeEngine(t, store, encoder)
	session := newMeetingSession("m1", time.Now())

	queueSegment(t, store, session, "bad-1")
	queueSegment(t, store, session, "bad-2")

	handle, ok := engine.Merge(context.Background(), session)
	require.False(t, ok)
	require.Empty(t, handle)
	require.Empty(t, session.CumulativeFile())
	require.Empty(t, encoder.encodeCalls())
}

func TestMergeEngine_RestartsWhenCumulativeVanished(t *testing.T) {
	store := newTestStore(t)
	encoder := newFakeEncoder()
	engine := newTestMergeEngine(t, store, encoder)
	session := newMeetingSession("m1", time.Now())

	queueSegment(t, store, session, "A|")
	prior, ok := engine.Merge(context.Background(), session)
	require.True(t, ok)
	require.NoError(t, os.Remove(prior))

	queueSegment(t, store, session, "B|")
	handle, ok := engine.Merge(context.Background(), session)
	require.True(t, ok)
	require.NotEqual(t, prior, handle)
	require.Equal(t, "B|", readFile(t, handle))
}

func TestMergeEngine_ConcurrentMergesFoldEachSegmentOnce(t *testing.T) {
	store := newTestStore(t)
	encoder := newFakeEncoder()
	encoder.delay = time.Millisecond
	engine := newTestMergeEngine(t, store, encoder)
	session := newMeetingSession("m1", time.Now())
	ctx := context.Background()

	const producers, perProducer = 4, 10

	var producersWG sync.WaitGroup
	for p := 0; p < producers; p++ {
		producersWG.Add(1)
		go func(p int) {
			defer producersWG.Done()
			for i := 0; i < perProducer; i++ {
				handle, err := store.Put(ctx, "m1", []byte(fmt.Sprintf("p%d-%02d|", p, i)))
				if err == nil {
					session.appendSegment(handle)
				}
			}
		}(p)
	}

	stop := make(chan struct{})
	var mergersWG sync.WaitGroup
	for m := 0; m < 4; m++ {
		mergersWG.Add(1)
		go func() {
			defer mergersWG.Done()
			for {
				select {
				case <-stop:
					return
				default:
					engine.Merge(ctx, session)
				}
			}
		}()
	}

	producersWG.Wait()
	close(stop)
	mergersWG.Wait()

	handle, ok := engine.Merge(ctx, session)
	require.True(t, ok)
	content := readFile(t, handle)

	for p := 0; p < producers; p++ {
		last := -1
		for i := 0; i < perProducer; i++ {
			token := fmt.Sprintf("p%d-%02d|", p, i)
			require.Equal(t, 1, strings.Count(content, token), "token %s", token)
			pos := strings.Index(content, token)
			require.Greater(t, pos, last, "tokens of one producer keep arrival order")
			last = pos
		}
	}
	require.Len(t, content, producers*perProducer*len("p0-00|"))
}
