package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/meetrec/pkg/logger"
)

// ErrTimeout marks an encoder call that exceeded its deadline.
var ErrTimeout = errors.New("audio: encoder timed out")

// Encoder validates, transcodes and concatenates audio files.
type Encoder interface {
	Probe(ctx context.Context, path string) (bool, error)
	Transcode(ctx context.Context, input, output string, opts EncodeOptions) error
	Concat(ctx context.Context, inputs []string, output string, opts EncodeOptions) error
}

// Runner executes an external command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, lastLine(stderr.String()))
	}
	return out, nil
}

// FFmpegEncoder drives the ffmpeg and ffprobe binaries.
type FFmpegEncoder struct {
	ffmpeg  string
	ffprobe string
	timeout time.Duration
	runner  Runner
	log     *zap.Logger
}

// Option customises an FFmpegEncoder.
type Option func(*FFmpegEncoder)

// WithBinaries overrides the ffmpeg and ffprobe executables.
func WithBinaries(ffmpeg, ffprobe string) Option {
	return func(e *FFmpegEncoder) {
		if strings.TrimSpace(ffmpeg) != "" {
			e.ffmpeg = ffmpeg
		}
		if strings.TrimSpace(ffprobe) != "" {
			e.ffprobe = ffprobe
		}
	}
}

// WithTimeout bounds every encoder call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(e *FFmpegEncoder) {
		e.timeout = d
	}
}

// WithRunner swaps the command runner, mainly for tests.
func WithRunner(r Runner) Option {
	return func(e *FFmpegEncoder) {
		if r != nil {
			e.runner = r
		}
	}
}

// NewFFmpegEncoder constructs an encoder using binaries found on PATH by default.
func NewFFmpegEncoder(opts ...Option) *FFmpegEncoder {
	e := &FFmpegEncoder{
		ffmpeg:  "ffmpeg",
		ffprobe: "ffprobe",
		timeout: 2 * time.Minute,
		runner:  execRunner{},
		log:     logger.WithModule("audio"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Binaries returns the configured ffmpeg and ffprobe executables.
func (e *FFmpegEncoder) Binaries() (string, string) {
	return e.ffmpeg, e.ffprobe
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
	} `json:"streams"`
}

// Probe reports whether path contains at least one decodable audio stream.
// A file ffprobe cannot parse yields (false, nil).
func (e *FFmpegEncoder) Probe(ctx context.Context, path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		return false, fmt.Errorf("audio: probe %s: %w", path, err)
	}

	out, err := e.run(ctx, e.ffprobe,
		"-v", "error",
		"-show_entries", "stream=codec_type",
		"-of", "json",
		path,
	)
	if err != nil {
		if errors.Is(err, ErrTimeout) || ctx.Err() != nil {
			return false, err
		}
		e.log.Debug("probe rejected segment", zap.String("path", path), zap.Error(err))
		return false, nil
	}

	var parsed probeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return false, nil
	}
	for _, stream := range parsed.Streams {
		if stream.CodecType == "audio" {
			return true, nil
		}
	}
	return false, nil
}

// Transcode re-encodes a single input into output.
func (e *FFmpegEncoder) Transcode(ctx context.Context, input, output string, opts EncodeOptions) error {
	args := []string{"-hide_banner", "-nostdin", "-y", "-i", input, "-vn"}
	args = append(args, opts.outputArgs()...)
	args = append(args, output)

	if _, err := e.run(ctx, e.ffmpeg, args...); err != nil {
		return fmt.Errorf("audio: transcode with %s: %w", opts.Codec, err)
	}
	return nil
}

// Concat joins inputs, in order, into one encoded stream.
func (e *FFmpegEncoder) Concat(ctx context.Context, inputs []string, output string, opts EncodeOptions) error {
	if len(inputs) == 0 {
		return errors.New("audio: concat requires at least one input")
	}
	if len(inputs) == 1 {
		return e.Transcode(ctx, inputs[0], output, opts)
	}

	if _, err := e.run(ctx, e.ffmpeg, concatArgs(inputs, output, opts)...); err != nil {
		return fmt.Errorf("audio: concat %d inputs with %s: %w", len(inputs), opts.Codec, err)
	}
	return nil
}

func concatArgs(inputs []string, output string, opts EncodeOptions) []string {
	args := []string{"-hide_banner", "-nostdin", "-y"}
	var filter strings.Builder
	for i, input := range inputs {
		args = append(args, "-i", input)
		fmt.Fprintf(&filter, "[%d:a]", i)
	}
	fmt.Fprintf(&filter, "concat=n=%d:v=0:a=1[outa]", len(inputs))

	args = append(args, "-filter_complex", filter.String(), "-map", "[outa]")
	args = append(args, opts.outputArgs()...)
	return append(args, output)
}

func (e *FFmpegEncoder) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	out, err := e.runner.Run(ctx, name, args...)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, name, e.timeout)
		}
		return nil, err
	}
	return out, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.LastIndex(s, "\n"); idx >= 0 {
		return s[idx+1:]
	}
	return s
}

func itoa(v int) string {
	return strconv.Itoa(v)
}
