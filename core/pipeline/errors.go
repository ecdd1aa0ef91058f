package pipeline

import (
	"errors"
	"fmt"
)

// ErrTrackNotFound reports a job referencing a missing track record (or one
// without an external identifier). The job is marked failed; the drain loop
// continues.
var ErrTrackNotFound = errors.New("track not found")

// DownloadError reports a failed or output-less download attempt.
type DownloadError struct {
	SourceID string
	Err      error
}

func (e *DownloadError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("download for %s produced no output file", e.SourceID)
	}
	return fmt.Sprintf("download failed for %s: %v", e.SourceID, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// EncodeError reports a failed HLS encode.
type EncodeError struct {
	SourceID string
	Err      error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode failed for %s: %v", e.SourceID, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// PersistError reports a failed track store write. The track may be left in
// PROCESSING until the next process call reconciles it from the filesystem.
type PersistError struct {
	Op  string
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s failed: %v", e.Op, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }
