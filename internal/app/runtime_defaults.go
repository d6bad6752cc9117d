package app

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charlesng35/meetrec/internal/audio"
)

// ApplyRuntimeDefaults normalises values that depend on the runtime
// environment. The returned map names every key that was rewritten so callers
// can log the adjustment.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	adjusted := make(map[string]bool)

	dirs := map[string]*string{
		"storage.segments_dir":   &cfg.Storage.SegmentsDir,
		"storage.recordings_dir": &cfg.Storage.RecordingsDir,
	}
	for key, dir := range dirs {
		trimmed := strings.TrimSpace(*dir)
		if trimmed == "" {
			return nil, fmt.Errorf("%s must not be empty", key)
		}
		abs, err := filepath.Abs(trimmed)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", key, err)
		}
		if abs != *dir {
			*dir = abs
			adjusted[key] = true
		}
	}

	if !audio.KnownCodec(cfg.Audio.DefaultCodec) {
		return nil, fmt.Errorf("audio.default_codec %q is not supported", cfg.Audio.DefaultCodec)
	}
	if cfg.Audio.FallbackCodec == "" || cfg.Audio.FallbackCodec == cfg.Audio.DefaultCodec {
		cfg.Audio.FallbackCodec = audio.CodecAAC
		if cfg.Audio.DefaultCodec == audio.CodecAAC {
			cfg.Audio.FallbackCodec = audio.CodecMP3
		}
		adjusted["audio.fallback_codec"] = true
	}
	if !audio.KnownCodec(cfg.Audio.FallbackCodec) {
		return nil, fmt.Errorf("audio.fallback_codec %q is not supported", cfg.Audio.FallbackCodec)
	}

	if cfg.Audio.FFprobePath == "" && cfg.Audio.FFmpegPath != "" {
		dir := filepath.Dir(cfg.Audio.FFmpegPath)
		if dir == "." {
			cfg.Audio.FFprobePath = "ffprobe"
		} else {
			cfg.Audio.FFprobePath = filepath.Join(dir, "ffprobe")
		}
		adjusted["audio.ffprobe_path"] = true
	}

	if cfg.Audio.SegmentExt != "" && !strings.HasPrefix(cfg.Audio.SegmentExt, ".") {
		cfg.Audio.SegmentExt = "." + cfg.Audio.SegmentExt
		adjusted["audio.segment_ext"] = true
	}

	return adjusted, nil
}
