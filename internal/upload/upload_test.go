package upload

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/dunamismax/avatarcrop/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFile() domain.File {
	return domain.ProcessedImage{
		Data:   []byte("RIFF\x00\x00\x00\x00WEBPVP8 payload"),
		Width:  domain.OutputSize,
		Height: domain.OutputSize,
		MIME:   domain.OutputMIME,
	}.File()
}

func TestObjectKey(t *testing.T) {
	key := objectKey("", testFile())
	parts := strings.Split(key, "/")
	require.Len(t, parts, 3)
	assert.Equal(t, "avatars", parts[0])
	assert.Len(t, parts[1], 36)
	assert.Equal(t, "image.webp", parts[2])

	assert.NotEqual(t, key, objectKey("", testFile()))
	assert.True(t, strings.HasPrefix(objectKey("/profiles/", domain.File{Name: "../evil name.webp"}), "profiles/"))
	assert.NotContains(t, objectKey("p", domain.File{Name: "../evil name.webp"}), "..")
}

func TestLocalUploader(t *testing.T) {
	dir := t.TempDir()
	u := &LocalUploader{Dir: dir, BaseURL: "http://127.0.0.1:8787/files"}

	result, err := u.Upload(context.Background(), testFile())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(result.URL, "http://127.0.0.1:8787/files/avatars/"))
	assert.True(t, strings.HasSuffix(result.URL, "/image.webp"))

	key := strings.TrimPrefix(result.URL, "http://127.0.0.1:8787/files/")
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(key)))
	require.NoError(t, err)
	assert.Equal(t, testFile().Data, data)
}

func TestLocalUploaderFileURL(t *testing.T) {
	u := &LocalUploader{Dir: t.TempDir()}

	result, err := u.Upload(context.Background(), testFile())
	require.NoError(t, err)

	parsed, err := url.Parse(result.URL)
	require.NoError(t, err)
	assert.Equal(t, "file", parsed.Scheme)
	_, err = os.Stat(filepath.FromSlash(parsed.Path))
	assert.NoError(t, err)
}

func TestLocalUploaderRejectsEmptyFile(t *testing.T) {
	u := &LocalUploader{Dir: t.TempDir()}
	_, err := u.Upload(context.Background(), domain.File{Name: "image.webp"})
	assert.Error(t, err)
}

func TestObjectStoreUploader(t *testing.T) {
	fake := &fakeObjectWriter{}
	u := &ObjectStoreUploader{Storage: fake, Prefix: "profiles"}

	result, err := u.Upload(context.Background(), testFile())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(fake.key, "profiles/"))
	assert.Equal(t, "image/webp", fake.contentType)
	assert.Equal(t, 7*24*time.Hour, fake.expiry)
	assert.Equal(t, "https://cdn.example/"+fake.key, result.URL)
}

func TestObjectStoreUploaderWriteFailure(t *testing.T) {
	u := &ObjectStoreUploader{Storage: &fakeObjectWriter{err: errors.New("bucket gone")}}

	_, err := u.Upload(context.Background(), testFile())
	assert.ErrorContains(t, err, "bucket gone")
}

func TestOSSUploader(t *testing.T) {
	fake := &fakeOSSBucket{}
	u := &OSSUploader{bucket: fake, domain: ossDomain(OSSConfig{Bucket: "media", Endpoint: "oss-cn-hangzhou.aliyuncs.com"})}

	result, err := u.Upload(context.Background(), testFile())
	require.NoError(t, err)
	assert.Equal(t, "https://media.oss-cn-hangzhou.aliyuncs.com/"+fake.key, result.URL)
	assert.Equal(t, testFile().Data, fake.data)
	assert.Len(t, fake.options, 2)
}

func TestOSSDomain(t *testing.T) {
	assert.Equal(t, "https://cdn.example", ossDomain(OSSConfig{Domain: "cdn.example/"}))
	assert.Equal(t, "http://cdn.example", ossDomain(OSSConfig{Domain: "http://cdn.example"}))
}

func TestHTTPUploader(t *testing.T) {
	var (
		gotAuth        string
		gotName        string
		gotContentType string
		gotBody        []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		f, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		gotName = header.Filename
		gotContentType, _, _ = mime.ParseMediaType(header.Header.Get("Content-Type"))
		gotBody, _ = io.ReadAll(f)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"url":"https://cdn.example/abc.webp"}]`))
	}))
	defer srv.Close()

	u, err := NewHTTPUploader(HTTPConfig{Endpoint: srv.URL, Token: "secret"})
	require.NoError(t, err)

	result, err := u.Upload(context.Background(), testFile())
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/abc.webp", result.URL)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "image.webp", gotName)
	assert.Equal(t, "image/webp", gotContentType)
	assert.Equal(t, testFile().Data, gotBody)
}

func TestHTTPUploaderNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusForbidden)
	}))
	defer srv.Close()

	u, err := NewHTTPUploader(HTTPConfig{Endpoint: srv.URL})
	require.NoError(t, err)

	_, err = u.Upload(context.Background(), testFile())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=403")
}

func TestParseUploadResponse(t *testing.T) {
	got, err := parseUploadResponse([]byte(` {"url":"https://a/b.webp"} `))
	require.NoError(t, err)
	assert.Equal(t, "https://a/b.webp", got)

	_, err = parseUploadResponse([]byte(`[]`))
	assert.Error(t, err)
	_, err = parseUploadResponse(nil)
	assert.Error(t, err)
	_, err = parseUploadResponse([]byte(`<html>`))
	assert.Error(t, err)
}

func TestNewSelectsBackend(t *testing.T) {
	u, err := New(context.Background(), Config{LocalDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalUploader{}, u)

	u, err = New(context.Background(), Config{Backend: "http", HTTP: HTTPConfig{Endpoint: "http://127.0.0.1:1/upload"}})
	require.NoError(t, err)
	assert.IsType(t, &HTTPUploader{}, u)

	_, err = New(context.Background(), Config{Backend: "ftp"})
	assert.Error(t, err)
}

type fakeObjectWriter struct {
	key         string
	contentType string
	expiry      time.Duration
	err         error
}

func (f *fakeObjectWriter) WriteObject(_ context.Context, key string, _ []byte, contentType string) error {
	if f.err != nil {
		return f.err
	}
	f.key = key
	f.contentType = contentType
	return nil
}

func (f *fakeObjectWriter) ObjectURL(_ context.Context, key string, expiry time.Duration) (string, error) {
	f.expiry = expiry
	return "https://cdn.example/" + key, nil
}

type fakeOSSBucket struct {
	key     string
	data    []byte
	options []oss.Option
}

func (f *fakeOSSBucket) PutObject(key string, r io.Reader, options ...oss.Option) error {
	f.key = key
	f.options = options
	var err error
	f.data, err = io.ReadAll(r)
	return err
}
