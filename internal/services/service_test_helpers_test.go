package services

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/meetrec/internal/audio"
	"github.com/charlesng35/meetrec/internal/realtime"
)

// fakeEncoder concatenates file contents so tests can read merge order back
// from the output. Inputs starting with "bad" carry no audio.
type fakeEncoder struct {
	mu         sync.Mutex
	failCodecs map[string]bool
	calls      []string
	codecs     []string
	delay      time.Duration
	probeDelay time.Duration
}

func newFakeEncoder() *fakeEncoder {
	return &fakeEncoder{failCodecs: make(map[string]bool)}
}

func (f *fakeEncoder) failCodec(codec string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failCodecs[codec] = true
}

func (f *fakeEncoder) setDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

func (f *fakeEncoder) setProbeDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeDelay = d
}

func (f *fakeEncoder) encodeCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeEncoder) usedCodecs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.codecs...)
}

func (f *fakeEncoder) Probe(ctx context.Context, path string) (bool, error) {
	f.mu.Lock()
	delay := f.probeDelay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	return !bytes.HasPrefix(data, []byte("bad")), nil
}

func (f *fakeEncoder) Transcode(ctx context.Context, input, output string, opts audio.EncodeOptions) error {
	return f.encode(ctx, "transcode", []string{input}, output, opts)
}

func (f *fakeEncoder) Concat(ctx context.Context, inputs []string, output string, opts audio.EncodeOptions) error {
	return f.encode(ctx, "concat", inputs, output, opts)
}

func (f *fakeEncoder) encode(ctx context.Context, op string, inputs []string, output string, opts audio.EncodeOptions) error {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	f.codecs = append(f.codecs, opts.Codec)
	fail := f.failCodecs[opts.Codec]
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail {
		// leave partial output behind like a crashed encoder would
		_ = os.WriteFile(output, []byte("partial"), 0o600)
		return errors.New("encoder failed for " + opts.Codec)
	}

	var out bytes.Buffer
	for _, input := range inputs {
		data, err := os.ReadFile(input)
		if err != nil {
			return err
		}
		out.Write(data)
	}
	return os.WriteFile(output, out.Bytes(), 0o600)
}

type broadcastRecord struct {
	meetingID string
	event     any
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []broadcastRecord
}

func (b *recordingBroadcaster) Broadcast(meetingID string, event any) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, broadcastRecord{meetingID: meetingID, event: event})
	return 1
}

func (b *recordingBroadcaster) types(meetingID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []string
	for _, record := range b.events {
		if record.meetingID != meetingID {
			continue
		}
		if typed, ok := record.event.(realtime.Typed); ok {
			out = append(out, typed.EventType())
		}
	}
	return out
}

func (b *recordingBroadcaster) find(meetingID, eventType string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, record := range b.events {
		typed, ok := record.event.(realtime.Typed)
		if ok && record.meetingID == meetingID && typed.EventType() == eventType {
			return record.event, true
		}
	}
	return nil, false
}

func newTestStore(t *testing.T) *FilesystemSegmentStore {
	t.Helper()
	root := t.TempDir()
	store, err := NewFilesystemSegmentStore(root+"/segments", root+"/recordings")
	require.NoError(t, err)
	return store
}

func newTestMergeEngine(t *testing.T, store SegmentStore, encoder audio.Encoder) *MergeEngine {
	t.Helper()
	engine, err := NewMergeEngine(store, encoder, MergeConfig{
		Output:        audio.EncodeOptions{Codec: audio.CodecMP3, Bitrate: "128k", Channels: 1, SampleRate: 44100},
		FallbackCodec: audio.CodecAAC,
		Timeout:       5 * time.Second,
	})
	require.NoError(t, err)
	return engine
}

// queueSegment stores data and appends it to the session's pending queue.
func queueSegment(t *testing.T, store SegmentStore, session *MeetingSession, data string) string {
	t.Helper()
	handle, err := store.Put(context.Background(), session.ID(), []byte(data))
	require.NoError(t, err)
	require.True(t, session.appendSegment(handle))
	return handle
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func countContaining(names []string, fragment string) int {
	n := 0
	for _, name := range names {
		if strings.Contains(name, fragment) {
			n++
		}
	}
	return n
}
