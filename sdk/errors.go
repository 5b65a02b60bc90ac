package sdk

import (
	"errors"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("sdk is closed")

// ErrInboxNotConfigured is returned by Watch when no inbox directory is set.
var ErrInboxNotConfigured = errors.New("inbox directory is not configured")
