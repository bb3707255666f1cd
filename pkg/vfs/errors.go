package vfs

import "errors"

var (
	// ErrPathEscape is returned when a virtual path would resolve outside
	// its root. Callers must not log the resolved filesystem path.
	ErrPathEscape = errors.New("path escapes storage root")

	// ErrNotFound is returned when a virtual path does not exist.
	ErrNotFound = errors.New("file not found")

	// ErrIsDirectory is returned when a file operation hits a directory.
	ErrIsDirectory = errors.New("path is a directory")

	// ErrNotDirectory is returned when a directory operation hits a file.
	ErrNotDirectory = errors.New("path is not a directory")
)
