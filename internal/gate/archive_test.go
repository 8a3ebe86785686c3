package gate

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func buildTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestArchiveKind(t *testing.T) {
	tests := []struct {
		filename string
		kind     string
	}{
		{"bundle.zip", "zip"},
		{"bundle.tar", "tar"},
		{"bundle.tar.gz", "tar.gz"},
		{"bundle.tgz", "tar.gz"},
		{"bundle.tar.bz2", "tar.bz2"},
		{"bundle.tar.xz", "tar.xz"},
		{"report.pdf", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.kind, archiveKind(tt.filename), tt.filename)
	}
}

func TestExtractZip(t *testing.T) {
	data := buildZip(t, map[string]string{
		"a.pdf":      "%PDF-1.4 a",
		"docs/b.pdf": "%PDF-1.4 b",
		"docs/c.pdf": "%PDF-1.4 c",
		"empty-dir/": "",
	})

	entries, err := extractArchive("bundle.zip", data, 100)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	names := make(map[string]bool)
	for _, e := range entries {
		names[e.Name] = true
		assert.NotEmpty(t, e.Data)
	}
	// Member names are flattened to their base name.
	assert.True(t, names["a.pdf"] && names["b.pdf"] && names["c.pdf"])
}

func TestExtractTarGz(t *testing.T) {
	data := buildTarGz(t, map[string]string{
		"one.txt": "first",
		"two.txt": "second",
	})

	entries, err := extractArchive("bundle.tar.gz", data, 100)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestExtractArchive_TooManyEntries(t *testing.T) {
	data := buildZip(t, map[string]string{
		"a.txt": "a",
		"b.txt": "b",
		"c.txt": "c",
	})

	_, err := extractArchive("bundle.zip", data, 2)
	assert.ErrorIs(t, err, ErrTooManyEntries)
}

func TestExtractArchive_UnsupportedFormat(t *testing.T) {
	_, err := extractArchive("bundle.rar", []byte("Rar!"), 100)
	assert.Error(t, err)
}
