package asset

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	_ "golang.org/x/image/webp"
)

const (
	// DefaultDecodeTimeout bounds the wait for one remote image.
	DefaultDecodeTimeout = 8 * time.Second
	maxSourceSize        = 32 << 20
)

var ErrImageDecode = errors.New("image decode failed")

// DecodeError reports which source could not be turned into a bitmap.
type DecodeError struct {
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", shortSource(e.Source), e.Err)
}

func (e *DecodeError) Unwrap() []error { return []error{ErrImageDecode, e.Err} }

// Decoder turns element sources into bitmaps. Data URLs decode locally;
// remote sources are fetched with a CORS request first and a plain
// request as fallback.
type Decoder struct {
	client  *http.Client
	origin  string
	timeout time.Duration
}

type DecoderOption func(*Decoder)

func WithHTTPClient(c *http.Client) DecoderOption {
	return func(d *Decoder) { d.client = c }
}

// WithOrigin sets the Origin sent on the cross-origin attempt.
func WithOrigin(origin string) DecoderOption {
	return func(d *Decoder) { d.origin = origin }
}

func WithTimeout(t time.Duration) DecoderOption {
	return func(d *Decoder) { d.timeout = t }
}

func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{
		client:  http.DefaultClient,
		timeout: DefaultDecodeTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode loads src as an image. Failures are *DecodeError values matching
// ErrImageDecode.
func (d *Decoder) Decode(ctx context.Context, src string) (image.Image, error) {
	if strings.HasPrefix(src, "data:") {
		img, err := decodeDataURL(src)
		if err != nil {
			return nil, &DecodeError{Source: src, Err: err}
		}
		return img, nil
	}

	img, err := d.fetch(ctx, src, true)
	if err == nil {
		return img, nil
	}
	if ctx.Err() != nil {
		return nil, &DecodeError{Source: src, Err: err}
	}
	slog.Debug("retry asset without cors", "src", shortSource(src), "error", err)

	img, err = d.fetch(ctx, src, false)
	if err != nil {
		return nil, &DecodeError{Source: src, Err: err}
	}
	return img, nil
}

func (d *Decoder) fetch(ctx context.Context, src string, cors bool) (image.Image, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if cors && d.origin != "" {
		req.Header.Set("Origin", d.origin)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch: status %d", resp.StatusCode)
	}
	if cors && d.origin != "" {
		allow := resp.Header.Get("Access-Control-Allow-Origin")
		if allow != "*" && allow != d.origin {
			return nil, fmt.Errorf("fetch: origin %q not allowed", d.origin)
		}
	}

	img, _, err := image.Decode(io.LimitReader(resp.Body, maxSourceSize))
	if err != nil {
		return nil, err
	}
	return img, nil
}

// decodeDataURL parses data:[<mediatype>][;base64],<data>.
func decodeDataURL(src string) (image.Image, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(src, "data:"), ",")
	if !ok {
		return nil, errors.New("malformed data url")
	}

	var data []byte
	var err error
	if strings.HasSuffix(meta, ";base64") {
		data, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			data, err = base64.RawStdEncoding.DecodeString(payload)
		}
	} else {
		var s string
		s, err = url.PathUnescape(payload)
		data = []byte(s)
	}
	if err != nil {
		return nil, fmt.Errorf("data url payload: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return img, nil
}

// DataURL encodes data as a base64 data URL.
func DataURL(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func shortSource(src string) string {
	if strings.HasPrefix(src, "data:") {
		meta, _, _ := strings.Cut(src, ",")
		return meta + ",..."
	}
	return src
}
