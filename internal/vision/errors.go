package vision

import "errors"

var (
	// ErrModelUnavailable means a detector or embedding model could not be loaded.
	// The tier is excluded for the whole run, never retried per frame.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrDecode means a frame or image could not be decoded.
	ErrDecode = errors.New("image decode failed")
)
