package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Source is a decodable reference to the image picked by the user. Open
// returns the temporary handle the normalizer reads from; the caller closes it.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	Describe() string
}

// Releaser is implemented by sources that hold a resource beyond a single
// Open, such as a spooled temp file. The session releases it when the source
// is dropped.
type Releaser interface {
	Release() error
}

var ErrInvalidDataURL = errors.New("invalid data url")

// ErrSourceTooLarge is returned by reads past a source's byte limit.
var ErrSourceTooLarge = errors.New("source image too large")

// DefaultMaxSourceBytes caps remote sources when no limit is given.
const DefaultMaxSourceBytes int64 = 32 << 20

type BytesSource struct {
	Name string
	Data []byte
}

func (s BytesSource) Open(_ context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.Data)), nil
}

func (s BytesSource) Describe() string {
	if s.Name == "" {
		return fmt.Sprintf("blob(%d bytes)", len(s.Data))
	}
	return s.Name
}

type FileSource struct {
	Path string
}

func (s FileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open source file %s: %w", s.Path, err)
	}
	return f, nil
}

func (s FileSource) Describe() string {
	return s.Path
}

// TempFileSource owns a file created for the lifetime of one session source.
type TempFileSource struct {
	FileSource
	Size int64
}

// SpoolTempFile copies r into a new temp file under dir.
func SpoolTempFile(dir string, r io.Reader) (*TempFileSource, error) {
	f, err := os.CreateTemp(dir, "avatarcrop-source-*")
	if err != nil {
		return nil, fmt.Errorf("create temp source: %w", err)
	}

	n, err := io.Copy(f, r)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("spool temp source: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("close temp source: %w", err)
	}
	return &TempFileSource{FileSource: FileSource{Path: f.Name()}, Size: n}, nil
}

func (s *TempFileSource) Release() error {
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove temp source %s: %w", s.Path, err)
	}
	return nil
}

type DataURLSource struct {
	URL string
}

func (s DataURLSource) Open(_ context.Context) (io.ReadCloser, error) {
	data, _, err := decodeDataURL(s.URL)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s DataURLSource) Describe() string {
	mime, _, _ := strings.Cut(strings.TrimPrefix(s.URL, "data:"), ",")
	return "data:" + mime
}

// RemoteSource fetches the image over HTTP. The response body is the handle,
// and reading more than MaxBytes from it fails with ErrSourceTooLarge.
type RemoteSource struct {
	URL      string
	Client   *resty.Client
	MaxBytes int64
}

func NewRemoteSource(rawURL string, timeout time.Duration) RemoteSource {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return RemoteSource{
		URL:      rawURL,
		Client:   resty.New().SetTimeout(timeout),
		MaxBytes: DefaultMaxSourceBytes,
	}
}

func (s RemoteSource) Open(ctx context.Context) (io.ReadCloser, error) {
	client := s.Client
	if client == nil {
		client = resty.New()
	}

	resp, err := client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(s.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", s.URL, err)
	}

	body := resp.RawBody()
	if resp.IsError() {
		if body != nil {
			_ = body.Close()
		}
		return nil, fmt.Errorf("fetch %s: status=%d", s.URL, resp.StatusCode())
	}

	limit := s.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxSourceBytes
	}
	return &cappedBody{r: io.LimitReader(body, limit+1), c: body, left: limit}, nil
}

type cappedBody struct {
	r    io.Reader
	c    io.Closer
	left int64
}

func (b *cappedBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	b.left -= int64(n)
	if b.left < 0 {
		return n + int(b.left), ErrSourceTooLarge
	}
	return n, err
}

func (b *cappedBody) Close() error {
	return b.c.Close()
}

func (s RemoteSource) Describe() string {
	return s.URL
}

// ParseSource resolves a user-supplied reference: a data URL, an http(s)
// URL, or a local path. maxBytes caps remote downloads; zero means
// DefaultMaxSourceBytes.
func ParseSource(ref string, maxBytes int64) (Source, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errors.New("source reference is empty")
	}

	switch {
	case strings.HasPrefix(ref, "data:"):
		return DataURLSource{URL: ref}, nil
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		if _, err := url.ParseRequestURI(ref); err != nil {
			return nil, fmt.Errorf("parse source url: %w", err)
		}
		rs := NewRemoteSource(ref, 0)
		if maxBytes > 0 {
			rs.MaxBytes = maxBytes
		}
		return rs, nil
	default:
		return FileSource{Path: ref}, nil
	}
}

// ReleaseSource releases src if it holds a temporary resource.
func ReleaseSource(src Source) error {
	if r, ok := src.(Releaser); ok {
		return r.Release()
	}
	return nil
}

func decodeDataURL(in string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(in, "data:")
	if !ok {
		return nil, "", fmt.Errorf("%w: missing data: prefix", ErrInvalidDataURL)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", fmt.Errorf("%w: missing payload", ErrInvalidDataURL)
	}

	mime := meta
	isBase64 := false
	if m, found := strings.CutSuffix(meta, ";base64"); found {
		mime = m
		isBase64 = true
	}

	if !isBase64 {
		decoded, err := url.PathUnescape(payload)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
		}
		return []byte(decoded), mime, nil
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	return data, mime, nil
}
