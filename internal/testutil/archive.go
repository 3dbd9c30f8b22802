package testutil

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

// Entry is one member of a test archive. Exactly one of Dir, Link or Body
// is meaningful.
type Entry struct {
	Name string
	Body string
	Mode int64
	Dir  bool
	Link string // symlink target
	Hard string // hardlink target
}

// File is a regular file entry.
func File(name, body string) Entry { return Entry{Name: name, Body: body, Mode: 0o644} }

// Exec is an executable file entry.
func Exec(name, body string) Entry { return Entry{Name: name, Body: body, Mode: 0o755} }

// Dir is a directory entry.
func Dir(name string) Entry { return Entry{Name: name, Dir: true, Mode: 0o755} }

// Symlink is a symbolic link entry.
func Symlink(name, target string) Entry { return Entry{Name: name, Link: target, Mode: 0o777} }

// TarGz builds a gzip-compressed tarball.
func TarGz(t *testing.T, entries ...Entry) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for _, e := range entries {
		hdr := &tar.Header{Name: e.Name, Mode: e.Mode}
		switch {
		case e.Dir:
			hdr.Typeflag = tar.TypeDir
		case e.Link != "":
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = e.Link
		case e.Hard != "":
			hdr.Typeflag = tar.TypeLink
			hdr.Linkname = e.Hard
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.Body))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write tar header %s: %v", e.Name, err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(e.Body)); err != nil {
				t.Fatalf("write tar body %s: %v", e.Name, err)
			}
		}
	}

	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// Zip builds a zip archive. Symlink entries are stored the way Info-ZIP
// stores them: mode bits mark the link and the body is the target.
func Zip(t *testing.T, entries ...Entry) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		fh := &zip.FileHeader{Name: e.Name, Method: zip.Deflate}
		body := e.Body
		switch {
		case e.Dir:
			if fh.Name[len(fh.Name)-1] != '/' {
				fh.Name += "/"
			}
			fh.SetMode(os.ModeDir | 0o755)
		case e.Link != "":
			fh.SetMode(os.ModeSymlink | 0o777)
			body = e.Link
		default:
			fh.SetMode(os.FileMode(e.Mode))
		}

		w, err := zw.CreateHeader(fh)
		if err != nil {
			t.Fatalf("create zip entry %s: %v", e.Name, err)
		}
		if !e.Dir {
			if _, err := w.Write([]byte(body)); err != nil {
				t.Fatalf("write zip entry %s: %v", e.Name, err)
			}
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// WriteFile writes data to dir/name and returns the path.
func WriteFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// SHA256Hex returns the hex digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
