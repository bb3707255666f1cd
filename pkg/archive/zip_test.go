package archive_test

import (
	"archive/zip"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanshuttle/lanshuttle/pkg/archive"
	"github.com/lanshuttle/lanshuttle/pkg/vfs"
)

func setupTestBuilder(t *testing.T) (*archive.Builder, *vfs.View) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	view, err := vfs.NewWithFs(afero.NewMemMapFs(), "/srv/uploads", "/srv/downloads", logger)
	require.NoError(t, err)
	return archive.NewBuilder(view), view
}

func writeFile(t *testing.T, view *vfs.View, virtualPath, content string) {
	t.Helper()
	_, err := view.Write(vfs.RootDownloads, virtualPath, strings.NewReader(content))
	require.NoError(t, err)
}

func extractAll(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err, "Archive should be readable")

	out := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		out[f.Name] = string(content)
	}
	return out
}

func TestWriteZip_RoundTrip(t *testing.T) {
	builder, view := setupTestBuilder(t)
	writeFile(t, view, "a.txt", "alpha")
	writeFile(t, view, "b/c.txt", "charlie")

	var buf bytes.Buffer
	err := builder.WriteZip(&buf, vfs.RootDownloads, []string{"a.txt", "b"})
	require.NoError(t, err)

	got := extractAll(t, buf.Bytes())
	assert.Equal(t, map[string]string{
		"a.txt":   "alpha",
		"b/c.txt": "charlie",
	}, got)
}

func TestWriteZip_RecursesNestedDirectories(t *testing.T) {
	builder, view := setupTestBuilder(t)
	writeFile(t, view, "photos/2024/january/snow.jpg", "snow")
	writeFile(t, view, "photos/2024/trip.jpg", "trip")
	writeFile(t, view, "photos/readme.txt", "readme")

	var buf bytes.Buffer
	err := builder.WriteZip(&buf, vfs.RootDownloads, []string{"photos"})
	require.NoError(t, err)

	got := extractAll(t, buf.Bytes())
	assert.Equal(t, map[string]string{
		"photos/2024/january/snow.jpg": "snow",
		"photos/2024/trip.jpg":         "trip",
		"photos/readme.txt":            "readme",
	}, got)
}

func TestWriteZip_Deterministic(t *testing.T) {
	builder, view := setupTestBuilder(t)
	writeFile(t, view, "a.txt", "alpha")
	writeFile(t, view, "b/c.txt", "charlie")

	var first, second bytes.Buffer
	require.NoError(t, builder.WriteZip(&first, vfs.RootDownloads, []string{"a.txt", "b"}))
	require.NoError(t, builder.WriteZip(&second, vfs.RootDownloads, []string{"a.txt", "b"}))

	assert.Equal(t, first.Bytes(), second.Bytes(), "Same inputs should produce identical archives")
}

func TestWriteZip_EntryOrderFollowsInput(t *testing.T) {
	builder, view := setupTestBuilder(t)
	writeFile(t, view, "z.txt", "z")
	writeFile(t, view, "a.txt", "a")

	var buf bytes.Buffer
	require.NoError(t, builder.WriteZip(&buf, vfs.RootDownloads, []string{"z.txt", "a.txt"}))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	assert.Equal(t, "z.txt", zr.File[0].Name)
	assert.Equal(t, "a.txt", zr.File[1].Name)
}

func TestWriteZip_MissingSourceFails(t *testing.T) {
	builder, view := setupTestBuilder(t)
	writeFile(t, view, "present.txt", "here")

	var buf bytes.Buffer
	err := builder.WriteZip(&buf, vfs.RootDownloads, []string{"present.txt", "missing.txt"})
	assert.ErrorIs(t, err, vfs.ErrNotFound)
}

func TestWriteZip_RejectsEscapingPath(t *testing.T) {
	builder, _ := setupTestBuilder(t)

	var buf bytes.Buffer
	err := builder.WriteZip(&buf, vfs.RootDownloads, []string{"../secret"})
	assert.ErrorIs(t, err, vfs.ErrPathEscape)
}
