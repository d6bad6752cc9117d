package audio

import (
	"path/filepath"
	"strings"
)

const (
	CodecMP3  = "libmp3lame"
	CodecAAC  = "aac"
	CodecOpus = "libopus"
	CodecPCM  = "pcm_s16le"
)

var codecExtensions = map[string]string{
	CodecMP3:  ".mp3",
	CodecAAC:  ".m4a",
	CodecOpus: ".ogg",
	CodecPCM:  ".wav",
}

// KnownCodec reports whether codec has a container mapping.
func KnownCodec(codec string) bool {
	_, ok := codecExtensions[strings.TrimSpace(codec)]
	return ok
}

// Extension returns the file extension used for output encoded with codec.
// Unknown codecs fall back to the Matroska audio container.
func Extension(codec string) string {
	if ext, ok := codecExtensions[strings.TrimSpace(codec)]; ok {
		return ext
	}
	return ".mka"
}

// CodecOf returns the codec that produced path, judged by its extension, or
// "" when the extension is not one of ours.
func CodecOf(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	for codec, known := range codecExtensions {
		if known == ext {
			return codec
		}
	}
	return ""
}

// EncodeOptions describes the output stream of a transcode or concat.
type EncodeOptions struct {
	Codec      string
	Bitrate    string
	Channels   int
	SampleRate int
}

// WithCodec returns a copy of o targeting codec.
func (o EncodeOptions) WithCodec(codec string) EncodeOptions {
	o.Codec = codec
	return o
}

func (o EncodeOptions) outputArgs() []string {
	args := []string{"-c:a", o.Codec}
	if o.Bitrate != "" {
		args = append(args, "-b:a", o.Bitrate)
	}
	if o.Channels > 0 {
		args = append(args, "-ac", itoa(o.Channels))
	}
	if o.SampleRate > 0 {
		args = append(args, "-ar", itoa(o.SampleRate))
	}
	return args
}
