package app

import "errors"

var (
	ErrBookNotFound   = errors.New("book not found")
	ErrFolderNotFound = errors.New("folder not found")
	ErrInvalidAction  = errors.New("invalid action")
	// ErrAdvanceInProgress indicates another page-advance batch currently
	// holds the per-book lock.
	ErrAdvanceInProgress = errors.New("page advance already in progress")
	ErrFileRequired      = errors.New("file is required")
	ErrUnsupportedFile   = errors.New("unsupported file type")
)
