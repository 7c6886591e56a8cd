// Package ingest implements the upload ingestion path: storage key validation,
// intake routing and canonical record building.
package ingest

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/whipbird/chorus-go/internal/conf"
)

// Storage key grammars, distinguished by segment count:
//
//	dropbox:  {projectId}/{deviceId}/{configId}/{isoTimestamp}.mp3
//	archive:  audio/{projectId}/{deviceId}/{configId}/{isoTimestamp}.mp3
//
// The timestamp in the filename carries underscores where colons belong,
// devices can't put colons in object names.
const (
	dropboxSegments = 4
	archiveSegments = 5

	// ArchiveRoot is the fixed first segment of canonical and quarantine keys.
	ArchiveRoot = "audio"
)

// Validation failures. These are properties of the bad data itself, never
// retried: callers log and drop.
var (
	ErrBadSegmentCount  = errors.New("key has wrong number of segments")
	ErrWrongRoot        = errors.New("key does not start with the archive root")
	ErrWrongExtension   = errors.New("filename has wrong extension")
	ErrWrongContentType = errors.New("object has wrong content type")
	ErrBadTimestamp     = errors.New("filename is not a valid timestamp")
)

// UploadPath is the decomposed tuple of a validated storage key.
type UploadPath struct {
	ProjectID string
	DeviceID  string
	ConfigID  string
	Filename  string
	Timestamp time.Time
}

// ParseUploadKey validates a first-stage dropbox key against the 4-segment
// grammar and returns its decomposed tuple.
func ParseUploadKey(key, contentType string, audio conf.AudioSettings) (*UploadPath, error) {
	parts := strings.Split(key, "/")
	if len(parts) != dropboxSegments {
		return nil, fmt.Errorf("%w: %q has %d segments, want %d", ErrBadSegmentCount, key, len(parts), dropboxSegments)
	}
	return parseSegments(parts[0], parts[1], parts[2], parts[3], contentType, audio)
}

// ParseArchiveKey validates a canonical, filter or quarantine area key against
// the 5-segment grammar and returns its decomposed tuple.
func ParseArchiveKey(key, contentType string, audio conf.AudioSettings) (*UploadPath, error) {
	parts := strings.Split(key, "/")
	if len(parts) != archiveSegments {
		return nil, fmt.Errorf("%w: %q has %d segments, want %d", ErrBadSegmentCount, key, len(parts), archiveSegments)
	}
	if parts[0] != ArchiveRoot {
		return nil, fmt.Errorf("%w: %q", ErrWrongRoot, key)
	}
	return parseSegments(parts[1], parts[2], parts[3], parts[4], contentType, audio)
}

func parseSegments(projectID, deviceID, configID, filename, contentType string, audio conf.AudioSettings) (*UploadPath, error) {
	if !strings.HasSuffix(filename, audio.Extension) {
		return nil, fmt.Errorf("%w: %q, want %s", ErrWrongExtension, filename, audio.Extension)
	}
	if contentType != audio.ContentType {
		return nil, fmt.Errorf("%w: %q, want %s", ErrWrongContentType, contentType, audio.ContentType)
	}

	timestamp, err := ParseFilenameTime(filename, audio.Extension)
	if err != nil {
		return nil, err
	}

	return &UploadPath{
		ProjectID: projectID,
		DeviceID:  deviceID,
		ConfigID:  configID,
		Filename:  filename,
		Timestamp: timestamp,
	}, nil
}

// ParseFilenameTime restores the literal colon substitutes in a filename stem
// and parses it as an ISO-8601 timestamp.
func ParseFilenameTime(filename, extension string) (time.Time, error) {
	stem := strings.TrimSuffix(filename, extension)
	iso := strings.ReplaceAll(stem, "_", ":")
	timestamp, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q (%q)", ErrBadTimestamp, stem, iso)
	}
	return timestamp, nil
}

// ArchiveKey renders the canonical 5-segment key for a validated upload.
func (p *UploadPath) ArchiveKey() string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", ArchiveRoot, p.ProjectID, p.DeviceID, p.ConfigID, p.Filename)
}
