package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

var (
	_ SegmentStore = (*FilesystemSegmentStore)(nil)
)

// OutputKind distinguishes the merge artifacts written to the recordings directory.
type OutputKind string

const (
	OutputBatch      OutputKind = "batch"
	OutputCumulative OutputKind = "cumulative"
)

// SegmentStore is durable scratch storage for uploaded segments and the
// files produced by merges. Handles are absolute file paths.
type SegmentStore interface {
	// Put persists one uploaded segment and returns its handle.
	Put(ctx context.Context, meetingID string, data []byte) (string, error)
	// Exists reports whether the handle still refers to a stored file.
	Exists(ctx context.Context, handle string) bool
	// Delete removes the handle. Missing files are not an error.
	Delete(ctx context.Context, handle string) error
	// Stat returns size and timestamp metadata for the handle.
	Stat(ctx context.Context, handle string) (SegmentFileInfo, error)
	// Allocate returns a fresh, unused path for a merge output.
	Allocate(meetingID string, kind OutputKind, ext string) string
	// Promote renames a batch file into a new cumulative file without re-encoding.
	Promote(ctx context.Context, handle, meetingID string) (string, error)
}

// SegmentFileInfo captures size and timestamp metadata for stored files.
type SegmentFileInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// FilesystemSegmentStore keeps segments in one directory and merge outputs in another.
type FilesystemSegmentStore struct {
	segmentsDir   string
	recordingsDir string
	segmentExt    string
	now           func() time.Time
}

// SegmentStoreOption customises a FilesystemSegmentStore.
type SegmentStoreOption func(*FilesystemSegmentStore)

// WithSegmentExtension sets the extension given to uploaded segments.
func WithSegmentExtension(ext string) SegmentStoreOption {
	return func(s *FilesystemSegmentStore) {
		ext = strings.TrimSpace(ext)
		if ext == "" {
			return
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		s.segmentExt = ext
	}
}

// WithSegmentClock overrides the clock used to timestamp file names.
func WithSegmentClock(now func() time.Time) SegmentStoreOption {
	return func(s *FilesystemSegmentStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewFilesystemSegmentStore creates both directories when missing.
func NewFilesystemSegmentStore(segmentsDir, recordingsDir string, opts ...SegmentStoreOption) (*FilesystemSegmentStore, error) {
	segmentsDir = strings.TrimSpace(segmentsDir)
	recordingsDir = strings.TrimSpace(recordingsDir)
	if segmentsDir == "" || recordingsDir == "" {
		return nil, errors.New("segment store: segments and recordings directories are required")
	}
	for _, dir := range []string{segmentsDir, recordingsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("segment store: ensure directory %s: %w", dir, err)
		}
	}

	store := &FilesystemSegmentStore{
		segmentsDir:   filepath.Clean(segmentsDir),
		recordingsDir: filepath.Clean(recordingsDir),
		segmentExt:    ".webm",
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Directories returns the segments and recordings directories.
func (s *FilesystemSegmentStore) Directories() (string, string) {
	return s.segmentsDir, s.recordingsDir
}

// Put writes data to a new segment file. The file is created exclusively so
// an existing segment is never overwritten.
func (s *FilesystemSegmentStore) Put(_ context.Context, meetingID string, data []byte) (string, error) {
	if s == nil {
		return "", errors.New("segment store: store not initialised")
	}
	if strings.TrimSpace(meetingID) == "" {
		return "", errors.New("segment store: meeting id is required")
	}

	path := filepath.Join(s.segmentsDir, s.fileName(meetingID, "", s.segmentExt))
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("segment store: create segment: %w", err)
	}

	_, writeErr := fh.Write(data)
	if err := multierr.Append(writeErr, fh.Sync()); err != nil {
		_ = fh.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("segment store: write segment: %w", err)
	}
	if err := fh.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("segment store: close segment: %w", err)
	}
	return path, nil
}

func (s *FilesystemSegmentStore) Exists(_ context.Context, handle string) bool {
	if s == nil || !s.owns(handle) {
		return false
	}
	info, err := os.Stat(handle)
	return err == nil && info.Mode().IsRegular()
}

func (s *FilesystemSegmentStore) Delete(_ context.Context, handle string) error {
	if s == nil {
		return errors.New("segment store: store not initialised")
	}
	if !s.owns(handle) {
		return fmt.Errorf("segment store: refusing to delete %q outside storage roots", handle)
	}
	if err := os.Remove(handle); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("segment store: delete file: %w", err)
	}
	return nil
}

func (s *FilesystemSegmentStore) Stat(_ context.Context, handle string) (SegmentFileInfo, error) {
	if s == nil {
		return SegmentFileInfo{}, errors.New("segment store: store not initialised")
	}
	info, err := os.Stat(handle)
	if err != nil {
		return SegmentFileInfo{}, fmt.Errorf("segment store: stat file: %w", err)
	}
	return SegmentFileInfo{
		Path:    handle,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// Allocate names a merge output after the meeting and the merge timestamp.
func (s *FilesystemSegmentStore) Allocate(meetingID string, kind OutputKind, ext string) string {
	return filepath.Join(s.recordingsDir, s.fileName(meetingID, string(kind), ext))
}

func (s *FilesystemSegmentStore) Promote(_ context.Context, handle, meetingID string) (string, error) {
	if !s.owns(handle) {
		return "", fmt.Errorf("segment store: cannot promote %q", handle)
	}
	target := s.Allocate(meetingID, OutputCumulative, filepath.Ext(handle))
	if _, err := os.Stat(target); err == nil {
		return "", fmt.Errorf("segment store: promote target %s already exists", target)
	}
	if err := os.Rename(handle, target); err != nil {
		return "", fmt.Errorf("segment store: promote: %w", err)
	}
	return target, nil
}

// PurgeStale removes scratch segments and orphaned batch files last modified
// before cutoff, skipping any handle in keep. It returns the number removed.
func (s *FilesystemSegmentStore) PurgeStale(ctx context.Context, cutoff time.Time, keep map[string]struct{}) (int, error) {
	removed := 0
	var errs error

	purge := func(dir string, match func(name string) bool) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("segment store: read %s: %w", dir, err))
			return
		}
		for _, entry := range entries {
			if ctx.Err() != nil {
				errs = multierr.Append(errs, ctx.Err())
				return
			}
			if entry.IsDir() || !match(entry.Name()) {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if _, live := keep[path]; live {
				continue
			}
			info, err := entry.Info()
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = multierr.Append(errs, fmt.Errorf("segment store: purge %s: %w", path, err))
				continue
			}
			removed++
		}
	}

	purge(s.segmentsDir, func(string) bool { return true })
	purge(s.recordingsDir, func(name string) bool {
		return strings.Contains(name, "_"+string(OutputBatch)+"_")
	})

	return removed, errs
}

func (s *FilesystemSegmentStore) fileName(meetingID, kind, ext string) string {
	parts := []string{sanitizePathFragment(meetingID)}
	if kind != "" {
		parts = append(parts, kind)
	}
	parts = append(parts,
		fmt.Sprintf("%d", s.now().UnixMilli()),
		strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
	)
	return strings.Join(parts, "_") + ext
}

func (s *FilesystemSegmentStore) owns(handle string) bool {
	if handle == "" || !filepath.IsAbs(handle) {
		return false
	}
	dir := filepath.Dir(filepath.Clean(handle))
	return dir == s.segmentsDir || dir == s.recordingsDir
}

func sanitizePathFragment(fragment string) string {
	fragment = strings.TrimSpace(fragment)
	fragment = strings.ReplaceAll(fragment, "..", "")
	fragment = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '-':
			return r
		default:
			return '-'
		}
	}, fragment)
	fragment = strings.Trim(fragment, "-")
	if fragment == "" {
		return "meeting"
	}
	return fragment
}
