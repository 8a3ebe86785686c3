package gate

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"
)

// ErrTooManyEntries is returned when an archive exceeds the fan-out bound.
var ErrTooManyEntries = errors.New("archive has too many entries")

// maxEntryBytes bounds a single extracted member. Protects against
// decompression bombs hiding behind small archives.
const maxEntryBytes = 256 * 1024 * 1024

// archiveEntry is one extracted member file.
type archiveEntry struct {
	Name string
	Data []byte
}

// archiveKind recognizes the container format from the filename. The MIME
// type alone cannot distinguish tar.gz from plain gzip.
func archiveKind(filename string) string {
	name := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(name, ".zip"):
		return "zip"
	case strings.HasSuffix(name, ".tar"):
		return "tar"
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return "tar.gz"
	case strings.HasSuffix(name, ".tar.bz2"), strings.HasSuffix(name, ".tbz2"):
		return "tar.bz2"
	case strings.HasSuffix(name, ".tar.xz"), strings.HasSuffix(name, ".txz"):
		return "tar.xz"
	default:
		return ""
	}
}

// extractArchive expands the archive one level deep, up to maxEntries member
// files. Directories are skipped; nested archives are returned as plain
// entries, not recursed into.
func extractArchive(filename string, data []byte, maxEntries int) ([]archiveEntry, error) {
	switch archiveKind(filename) {
	case "zip":
		return extractZip(data, maxEntries)
	case "tar":
		return extractTar(bytes.NewReader(data), maxEntries)
	case "tar.gz":
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		defer gz.Close()
		return extractTar(gz, maxEntries)
	case "tar.bz2":
		bz, err := bzip2.NewReader(bytes.NewReader(data), nil)
		if err != nil {
			return nil, fmt.Errorf("opening bzip2 stream: %w", err)
		}
		defer bz.Close()
		return extractTar(bz, maxEntries)
	case "tar.xz":
		xr, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("opening xz stream: %w", err)
		}
		return extractTar(xr, maxEntries)
	default:
		return nil, fmt.Errorf("unsupported archive format: %s", filename)
	}
}

func extractZip(data []byte, maxEntries int) ([]archiveEntry, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening zip archive: %w", err)
	}

	var entries []archiveEntry
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if len(entries) >= maxEntries {
			return nil, fmt.Errorf("%w: more than %d files", ErrTooManyEntries, maxEntries)
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening zip member %s: %w", f.Name, err)
		}
		content, err := readEntry(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("reading zip member %s: %w", f.Name, err)
		}
		entries = append(entries, archiveEntry{Name: path.Base(f.Name), Data: content})
	}
	return entries, nil
}

func extractTar(r io.Reader, maxEntries int) ([]archiveEntry, error) {
	tr := tar.NewReader(r)

	var entries []archiveEntry
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading tar archive: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		if len(entries) >= maxEntries {
			return nil, fmt.Errorf("%w: more than %d files", ErrTooManyEntries, maxEntries)
		}

		content, err := readEntry(tr)
		if err != nil {
			return nil, fmt.Errorf("reading tar member %s: %w", header.Name, err)
		}
		entries = append(entries, archiveEntry{Name: path.Base(header.Name), Data: content})
	}
}

func readEntry(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxEntryBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxEntryBytes {
		return nil, fmt.Errorf("member exceeds %d bytes", maxEntryBytes)
	}
	return data, nil
}
