package tile

import (
	"errors"
	"fmt"
)

var (
	ErrNoURLTemplates     = errors.New("no urls defined for the tile source")
	ErrNoSourceConfigured = errors.New("no tile source configured")
)

// TransportError is a network or connection failure.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("fetch %s: %v", e.URL, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// HTTPStatusError is a response with a non-success status.
type HTTPStatusError struct {
	URL    string
	Status int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Status)
}

// DecodeError means the tile bytes did not decode to an image.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode tile: %v", e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// DiskIOError is a disk cache read, write or stat failure.
type DiskIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *DiskIOError) Error() string { return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err) }
func (e *DiskIOError) Unwrap() error { return e.Err }

// Kind classifies err into a short label for logs and metrics.
func Kind(err error) string {
	var (
		transport *TransportError
		status    *HTTPStatusError
		decode    *DecodeError
		disk      *DiskIOError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoURLTemplates), errors.Is(err, ErrNoSourceConfigured):
		return "config"
	case errors.As(err, &status):
		return "http_status"
	case errors.As(err, &transport):
		return "transport"
	case errors.As(err, &decode):
		return "decode"
	case errors.As(err, &disk):
		return "disk_io"
	default:
		return "unknown"
	}
}
