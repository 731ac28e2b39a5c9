package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "golang.org/x/image/webp"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()

	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("OTEL_TRACES_EXPORTER", "none")
	t.Setenv("AVATAR_STORE", "memory")
	t.Setenv("WEBHOOK_URL", "")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writePNG(t *testing.T, dir string, w, h int) string {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, G: uint8(x), B: uint8(y), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	path := filepath.Join(dir, "input.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestNormalizeCommand(t *testing.T) {
	dir := t.TempDir()
	src := writePNG(t, dir, 120, 80)
	out := filepath.Join(dir, "avatar.webp")

	_, err := runCmd(t, "normalize", src, "--crop", "20,0,80,80", "-o", out)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "webp", format)
	assert.Equal(t, 500, cfg.Width)
	assert.Equal(t, 500, cfg.Height)
}

func TestNormalizeCommandDefaultOutput(t *testing.T) {
	dir := t.TempDir()
	src := writePNG(t, dir, 40, 40)

	_, err := runCmd(t, "normalize", src, "--suggest", "center")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "input.webp"))
	assert.NoError(t, err)
}

func TestNormalizeCommandRejectsBadCrop(t *testing.T) {
	src := writePNG(t, t.TempDir(), 40, 40)
	_, err := runCmd(t, "normalize", src, "--crop", "1,2,3")
	assert.Error(t, err)
}

func TestDataURLCommand(t *testing.T) {
	dir := t.TempDir()
	src := writePNG(t, dir, 8, 8)

	out, err := runCmd(t, "dataurl", src)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "data:image/png;base64,"))

	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("hello"), 0o644))
	_, err = runCmd(t, "dataurl", txt)
	assert.Error(t, err)

	out, err = runCmd(t, "dataurl", "--any", txt)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "data:text/plain;base64,"))
}

func TestUploadCommandLocalBackend(t *testing.T) {
	dir := t.TempDir()
	src := writePNG(t, dir, 60, 60)
	t.Setenv("UPLOAD_BACKEND", "local")
	t.Setenv("UPLOAD_LOCAL_DIR", filepath.Join(dir, "uploads"))
	t.Setenv("UPLOAD_LOCAL_BASE_URL", "https://cdn.example")

	out, err := runCmd(t, "upload", src)
	require.NoError(t, err)

	url := strings.TrimSpace(out)
	require.True(t, strings.HasPrefix(url, "https://cdn.example/avatars/"), url)
	key := strings.TrimPrefix(url, "https://cdn.example/")
	_, err = os.Stat(filepath.Join(dir, "uploads", filepath.FromSlash(key)))
	assert.NoError(t, err)
}
