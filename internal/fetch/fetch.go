// Package fetch downloads tile bytes from HTTP(S) or file:// URLs.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"tileview/internal/tile"
)

// MaxTileBytes bounds the body read for a single tile.
const MaxTileBytes = 16 << 20

// ErrTooLarge is wrapped in the TransportError of a body over the limit.
var ErrTooLarge = errors.New("tile too large")

type Config struct {
	Timeout   time.Duration
	UserAgent string
	// MaxBytes defaults to MaxTileBytes.
	MaxBytes int64
}

// Result is the body of a successful fetch. Expires is zero when the
// response carried no expiry information.
type Result struct {
	Data    []byte
	Expires time.Time
}

type Fetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
	now       func() time.Time
}

func New(cfg Config) *Fetcher {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = MaxTileBytes
	}
	return &Fetcher{
		client:    &http.Client{Timeout: cfg.Timeout},
		userAgent: cfg.UserAgent,
		maxBytes:  cfg.MaxBytes,
		now:       time.Now,
	}
}

// Fetch retrieves rawURL. Only a 200 response with a body counts as
// success; everything else becomes a *tile.TransportError or
// *tile.HTTPStatusError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	if strings.HasPrefix(rawURL, "file://") {
		return f.fetchFile(rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &tile.TransportError{URL: rawURL, Err: err}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &tile.TransportError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &tile.HTTPStatusError{URL: rawURL, Status: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, &tile.TransportError{URL: rawURL, Err: err}
	}
	if int64(len(data)) > f.maxBytes {
		return nil, &tile.TransportError{URL: rawURL, Err: fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, f.maxBytes)}
	}
	if len(data) == 0 {
		return nil, &tile.TransportError{URL: rawURL, Err: fmt.Errorf("empty body")}
	}

	return &Result{Data: data, Expires: Expiry(resp.Header, f.now())}, nil
}

func (f *Fetcher) fetchFile(rawURL string) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &tile.TransportError{URL: rawURL, Err: err}
	}
	path := u.Path
	if u.Host != "" && u.Host != "localhost" {
		path = u.Host + u.Path
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, &tile.TransportError{URL: rawURL, Err: err}
	}
	if info.Size() > f.maxBytes {
		return nil, &tile.TransportError{URL: rawURL, Err: fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, f.maxBytes)}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &tile.TransportError{URL: rawURL, Err: err}
	}
	return &Result{Data: data}, nil
}

// Expiry derives the expiry time of a response from its Expires header,
// falling back to Cache-Control max-age. It returns the zero time when
// neither is usable.
func Expiry(h http.Header, now time.Time) time.Time {
	if v := h.Get("Expires"); v != "" {
		if t, err := http.ParseTime(v); err == nil {
			return t
		}
	}
	for _, directive := range strings.Split(h.Get("Cache-Control"), ",") {
		directive = strings.TrimSpace(directive)
		if v, ok := strings.CutPrefix(directive, "max-age="); ok {
			if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs >= 0 {
				return now.Add(time.Duration(secs) * time.Second)
			}
		}
	}
	return time.Time{}
}
