package install

import (
	"archive/tar"
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/ZebulonRouseFrantzich/zvm/internal/errs"
)

// Format is an archive container.
type Format int

const (
	FormatUnknown Format = iota
	FormatTarGz
	FormatTarZst
	FormatTar
	FormatZip
)

// DetectFormat selects the format from an archive file name or URL.
func DetectFormat(name string) Format {
	name = strings.ToLower(name)
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return FormatTarGz
	case strings.HasSuffix(name, ".tar.zst"), strings.HasSuffix(name, ".tzst"):
		return FormatTarZst
	case strings.HasSuffix(name, ".tar"):
		return FormatTar
	case strings.HasSuffix(name, ".zip"):
		return FormatZip
	default:
		return FormatUnknown
	}
}

// Extract unpacks archivePath into destDir. Absolute names, ".." components
// and links whose target leaves destDir abort extraction with
// *errs.PathTraversalError. Files and directories are written through an
// *os.Root opened on destDir; symlinks are created after every other entry
// and each is followed through the extracted tree, so a chain of links
// cannot point outside. ctx is checked between entries.
func Extract(ctx context.Context, archivePath, destDir string, format Format) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create dest dir: %w", err)
	}
	root, err := os.OpenRoot(destDir)
	if err != nil {
		return fmt.Errorf("open dest dir: %w", err)
	}
	defer root.Close()

	x := &extractor{root: root, archive: archivePath}
	switch format {
	case FormatTarGz, FormatTarZst, FormatTar:
		err = x.tar(ctx, format)
	case FormatZip:
		err = x.zip(ctx)
	default:
		return fmt.Errorf("unsupported archive format: %s", filepath.Base(archivePath))
	}
	if err != nil {
		return err
	}
	return x.linkAll(ctx)
}

// extractor writes archive members below root.
type extractor struct {
	root    *os.Root
	archive string
	links   []pendingLink
}

// pendingLink is a symlink member held back until regular entries are written.
type pendingLink struct {
	name     string // as it appears in the archive
	rel      string // cleaned, relative to root
	linkname string
}

func (x *extractor) tar(ctx context.Context, format Format) error {
	archiveFile, err := os.Open(x.archive)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer archiveFile.Close()

	var r io.Reader = archiveFile
	switch format {
	case FormatTarGz:
		gzipReader, err := gzip.NewReader(archiveFile)
		if err != nil {
			return fmt.Errorf("create gzip reader: %w", err)
		}
		defer gzipReader.Close()
		r = gzipReader
	case FormatTarZst:
		zstdReader, err := zstd.NewReader(archiveFile)
		if err != nil {
			return fmt.Errorf("create zstd reader: %w", err)
		}
		defer zstdReader.Close()
		r = zstdReader
	}

	tarReader := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		header, err := tarReader.Next()
		if err == io.EOF {
			return nil
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			return &errs.PathTraversalError{Archive: x.archive, Entry: header.Name}
		}
		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}

		// pax global headers carry no file
		if header.Typeflag == tar.TypeXGlobalHeader {
			continue
		}

		rel, err := x.entryPath(header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := x.mkdir(rel); err != nil {
				return fmt.Errorf("create directory %s: %w", header.Name, err)
			}

		case tar.TypeReg:
			if err := x.writeFile(rel, tarReader, fileMode(header.Mode)); err != nil {
				return fmt.Errorf("extract %s: %w", header.Name, err)
			}

		case tar.TypeSymlink:
			if err := x.addLink(header.Name, rel, header.Linkname); err != nil {
				return err
			}

		case tar.TypeLink:
			source, err := x.entryPath(header.Linkname)
			if err != nil {
				return err
			}
			if err := x.mkdir(filepath.Dir(rel)); err != nil {
				return fmt.Errorf("create parent dir for %s: %w", header.Name, err)
			}
			if err := x.root.Link(source, rel); err != nil {
				return fmt.Errorf("create hardlink %s: %w", header.Name, err)
			}

		default:
			// devices, fifos and the like have no place in a toolchain
			continue
		}
	}
}

func (x *extractor) zip(ctx context.Context) error {
	zr, err := zip.OpenReader(x.archive)
	if errors.Is(err, zip.ErrInsecurePath) {
		zr.Close()
		return &errs.PathTraversalError{Archive: x.archive, Entry: "(zip)"}
	}
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := x.entryPath(f.Name)
		if err != nil {
			return err
		}

		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := x.mkdir(rel); err != nil {
				return fmt.Errorf("create directory %s: %w", f.Name, err)
			}

		case mode&os.ModeSymlink != 0:
			linkname, err := readZipEntry(f)
			if err != nil {
				return fmt.Errorf("read symlink %s: %w", f.Name, err)
			}
			if err := x.addLink(f.Name, rel, linkname); err != nil {
				return err
			}

		default:
			rc, err := f.Open()
			if err != nil {
				return fmt.Errorf("open %s: %w", f.Name, err)
			}
			err = x.writeFile(rel, rc, fileMode(int64(mode.Perm())))
			rc.Close()
			if err != nil {
				return fmt.Errorf("extract %s: %w", f.Name, err)
			}
		}
	}
	return nil
}

// entryPath maps an archive member name to a cleaned path relative to the root.
func (x *extractor) entryPath(name string) (string, error) {
	slashed := strings.ReplaceAll(name, `\`, "/")
	if slashed == "" || strings.HasPrefix(slashed, "/") || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", &errs.PathTraversalError{Archive: x.archive, Entry: name}
	}
	for _, part := range strings.Split(slashed, "/") {
		if part == ".." {
			return "", &errs.PathTraversalError{Archive: x.archive, Entry: name}
		}
	}
	return filepath.FromSlash(path.Clean(slashed)), nil
}

// addLink queues a symlink after the lexical checks that need no filesystem.
func (x *extractor) addLink(name, rel, linkname string) error {
	if linkname == "" || filepath.IsAbs(linkname) || strings.HasPrefix(linkname, "/") {
		return &errs.PathTraversalError{Archive: x.archive, Entry: name + " -> " + linkname}
	}
	if rel == "." {
		return &errs.PathTraversalError{Archive: x.archive, Entry: name + " -> " + linkname}
	}
	x.links = append(x.links, pendingLink{name: name, rel: rel, linkname: linkname})
	return nil
}

// linkAll creates the queued symlinks in archive order. Each is checked
// before it is created, and all are checked again afterwards because a
// later link can change where an earlier one resolves.
func (x *extractor) linkAll(ctx context.Context) error {
	for _, l := range x.links {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := x.checkLink(l.name, filepath.Dir(l.rel), l.linkname); err != nil {
			return err
		}
		if err := x.mkdir(filepath.Dir(l.rel)); err != nil {
			return fmt.Errorf("create parent dir for %s: %w", l.name, err)
		}
		if err := x.root.Remove(l.rel); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("create symlink %s: %w", l.name, err)
		}
		if err := x.root.Symlink(l.linkname, l.rel); err != nil {
			return fmt.Errorf("create symlink %s: %w", l.name, err)
		}
	}
	for _, l := range x.links {
		if err := x.checkLink(l.name, filepath.Dir(l.rel), l.linkname); err != nil {
			return err
		}
	}
	return nil
}

// maxLinkHops bounds link following, like the kernel's ELOOP limit.
const maxLinkHops = 40

// checkLink resolves linkname from dir the way the kernel would, following
// links already present in the tree, and fails if any step leaves the root.
// Components that do not exist yet are taken literally.
func (x *extractor) checkLink(name, dir, linkname string) error {
	escape := &errs.PathTraversalError{Archive: x.archive, Entry: name + " -> " + linkname}

	var cur []string
	rest := append(splitPath(dir), splitPath(linkname)...)
	hops := 0
	for len(rest) > 0 {
		part := rest[0]
		rest = rest[1:]

		switch part {
		case "", ".":
			continue
		case "..":
			if len(cur) == 0 {
				return escape
			}
			cur = cur[:len(cur)-1]
			continue
		}

		next := filepath.Join(append(cur, part)...)
		fi, err := x.root.Lstat(next)
		if err != nil || fi.Mode()&os.ModeSymlink == 0 {
			cur = append(cur, part)
			continue
		}

		hops++
		if hops > maxLinkHops {
			return escape
		}
		target, err := x.root.Readlink(next)
		if err != nil {
			return fmt.Errorf("read symlink %s: %w", next, err)
		}
		if target == "" || filepath.IsAbs(target) {
			return escape
		}
		rest = append(splitPath(target), rest...)
	}
	return nil
}

func splitPath(p string) []string {
	return strings.Split(filepath.ToSlash(p), "/")
}

func (x *extractor) mkdir(rel string) error {
	if rel == "." {
		return nil
	}
	return x.root.MkdirAll(rel, 0o755)
}

func (x *extractor) writeFile(rel string, r io.Reader, mode os.FileMode) error {
	if err := x.mkdir(filepath.Dir(rel)); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	outFile, err := x.root.OpenFile(rel, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(outFile, r); err != nil {
		outFile.Close()
		return err
	}
	return outFile.Close()
}

func readZipEntry(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, 4096))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func fileMode(mode int64) os.FileMode {
	perm := os.FileMode(mode) & 0o777
	if perm == 0 {
		return 0o644
	}
	return perm
}
