package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// UploadStage names the folder a recording is uploaded into.
type UploadStage string

const (
	UploadStageIntermediate UploadStage = "intermediate"
	UploadStageFinal        UploadStage = "final"
)

// RecordingUploader ships merged recordings to object storage.
type RecordingUploader interface {
	// Upload sends the file at path and returns its remote location.
	Upload(ctx context.Context, meetingID, path string, stage UploadStage) (string, error)
}

// HTTPUploaderConfig configures the HTTP PUT uploader.
type HTTPUploaderConfig struct {
	BaseURL string
	Bucket  string
	Timeout time.Duration
}

// HTTPUploader PUTs files to <base>/<bucket>/<stage>/<meeting>/<file>.
type HTTPUploader struct {
	baseURL string
	bucket  string
	client  *http.Client
}

func NewHTTPUploader(cfg HTTPUploaderConfig) (*HTTPUploader, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("uploader: base url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("uploader: invalid base url: %w", err)
	}
	bucket := strings.Trim(strings.TrimSpace(cfg.Bucket), "/")
	if bucket == "" {
		bucket = "recordings"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &HTTPUploader{
		baseURL: base,
		bucket:  bucket,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (u *HTTPUploader) Upload(ctx context.Context, meetingID, path string, stage UploadStage) (string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("uploader: open %s: %w", path, err)
	}
	defer fh.Close()

	info, err := fh.Stat()
	if err != nil {
		return "", fmt.Errorf("uploader: stat %s: %w", path, err)
	}

	location := u.location(meetingID, filepath.Base(path), stage)
	req, err := http.NewRequestWithContext(ensureContext(ctx), http.MethodPut, location, fh)
	if err != nil {
		return "", fmt.Errorf("uploader: create request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", contentTypeFor(path))

	res, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("uploader: send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", fmt.Errorf("uploader: status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, res.Body)
	return location, nil
}

func (u *HTTPUploader) location(meetingID, fileName string, stage UploadStage) string {
	return strings.Join([]string{
		u.baseURL,
		url.PathEscape(u.bucket),
		url.PathEscape(string(stage)),
		url.PathEscape(meetingID),
		url.PathEscape(fileName),
	}, "/")
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".webm":
		return "audio/webm"
	case ".wav":
		return "audio/wav"
	case ".ogg":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}
