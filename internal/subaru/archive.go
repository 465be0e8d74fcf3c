package subaru

import (
	"archive/tar"
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
	"golang.org/x/sys/unix"
)

// Suffixes that name a conventional extraction directory once removed:
// foo-1.2.tar.xz extracts into foo-1.2.
var archiveExts = []string{".tar.xz", ".tar.gz", ".tgz", ".tar.bz2", ".tbz2", ".tar.zst", ".zip"}

// MIME markers of the archive formats the extractor can open. Ordered so the
// compound names win before "zip" gets a chance to match inside them.
var archiveMIMEMarkers = []string{"x-tar", "bzip2", "gzip", "xz", "zstd", "zip"}

// Extension fallback for when content sniffing comes up empty, longest
// suffix first.
var archiveExtMarkers = []struct {
	ext    string
	marker string
}{
	{".tar.bz2", "bzip2"},
	{".tar.zst", "zstd"},
	{".tar.gz", "gzip"},
	{".tar.xz", "xz"},
	{".tbz2", "bzip2"},
	{".tgz", "gzip"},
	{".tar", "x-tar"},
	{".zip", "zip"},
}

// detectArchiveMarker sniffs path and returns which supported archive family
// it belongs to, or "" when the content is not a supported archive. Files
// the sniffer cannot place fall back to their extension.
func detectArchiveMarker(path string) string {
	m, err := mimetype.DetectFile(path)
	if err != nil {
		debugf("mime detection failed for %s: %v", path, err)
	} else {
		for _, marker := range archiveMIMEMarkers {
			if strings.Contains(m.String(), marker) {
				return marker
			}
		}
	}
	for _, em := range archiveExtMarkers {
		if strings.HasSuffix(path, em.ext) {
			return em.marker
		}
	}
	return ""
}

func isArchiveFile(path string) bool {
	return detectArchiveMarker(path) != ""
}

// extractDirFor returns where an archive is conventionally extracted: its
// filename with the first recognized suffix removed, under destRoot.
func extractDirFor(destRoot, archivePath string) string {
	base := filepath.Base(archivePath)
	for _, ext := range archiveExts {
		if len(base) > len(ext) && strings.HasSuffix(base, ext) {
			base = base[:len(base)-len(ext)]
			break
		}
	}
	return filepath.Join(destRoot, base)
}

// extractArchive unpacks archivePath under destRoot, preserving the entry
// paths as recorded in the archive. Files that are not archives, carry
// NOEXTRACT in their name, or already have a non-empty extraction directory
// are skipped without error.
func extractArchive(archivePath, destRoot string) error {
	marker := detectArchiveMarker(archivePath)
	if marker == "" {
		cPrintln(colInfo, "Not an archive, skipping extraction:", archivePath)
		return nil
	}
	if strings.Contains(archivePath, "NOEXTRACT") {
		cPrintln(colInfo, "NOEXTRACT flag found; skipping extraction:", archivePath)
		return nil
	}
	if entries, err := os.ReadDir(extractDirFor(destRoot, archivePath)); err == nil && len(entries) > 0 {
		cPrintln(colInfo, "Archive already extracted, skipping:", archivePath)
		return nil
	}

	cPrintf(colArrow, "-> ")
	cPrintf(colSuccess, "Extracting %s\n", archivePath)

	if marker == "zip" {
		return extractZip(archivePath, destRoot)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive %s: %w", archivePath, err)
	}
	defer f.Close()

	var r io.Reader
	switch marker {
	case "x-tar":
		r = f
	case "gzip":
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("opening gzip stream %s: %w", archivePath, err)
		}
		defer gz.Close()
		r = gz
	case "bzip2":
		r = bzip2.NewReader(f)
	case "xz":
		xr, err := xz.NewReader(f)
		if err != nil {
			return fmt.Errorf("opening xz stream %s: %w", archivePath, err)
		}
		r = xr
	case "zstd":
		zr, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("opening zstd stream %s: %w", archivePath, err)
		}
		defer zr.Close()
		r = zr
	}

	if err := extractTarStream(r, destRoot, archivePath); err != nil {
		return err
	}
	cPrintln(colInfo, "Extracted", archivePath, "into", destRoot)
	return nil
}

func extractTarStream(r io.Reader, destRoot, archivePath string) error {
	cleanRoot := filepath.Clean(destRoot)
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar entry from %s: %w", archivePath, err)
		}
		if hdr.Typeflag == tar.TypeXGlobalHeader {
			continue
		}

		target := filepath.Join(cleanRoot, filepath.Clean(hdr.Name))
		if target != cleanRoot && !strings.HasPrefix(target, cleanRoot+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry escapes destination: %s", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return fmt.Errorf("creating directory %s: %w", target, err)
			}
			if err := os.Chmod(target, os.FileMode(hdr.Mode)); err != nil {
				debugf("chmod %s: %v", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("creating parent of %s: %w", target, err)
			}
			out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return fmt.Errorf("could not open for writing %s: %w", target, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("extracting %s: %w", hdr.Name, err)
			}
			if err := out.Close(); err != nil {
				return fmt.Errorf("closing %s: %w", target, err)
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("creating parent of %s: %w", target, err)
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("creating symlink %s -> %s: %w", target, hdr.Linkname, err)
			}
		case tar.TypeLink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("creating parent of %s: %w", target, err)
			}
			linkSource := filepath.Join(cleanRoot, filepath.Clean(hdr.Linkname))
			if err := os.Link(linkSource, target); err != nil {
				return fmt.Errorf("creating hard link %s -> %s: %w", target, linkSource, err)
			}
		default:
			debugf("skipping tar entry %s (type %c)", hdr.Name, hdr.Typeflag)
			continue
		}

		restoreOwnerAndTimes(target, hdr)
	}
}

// restoreOwnerAndTimes reapplies recorded ownership (when running as root)
// and timestamps, best-effort.
func restoreOwnerAndTimes(target string, hdr *tar.Header) {
	if os.Geteuid() == 0 {
		if err := os.Lchown(target, hdr.Uid, hdr.Gid); err != nil {
			debugf("lchown %s: %v", target, err)
		}
	}
	atime := hdr.AccessTime
	if atime.IsZero() {
		atime = hdr.ModTime
	}
	if hdr.Typeflag == tar.TypeSymlink {
		tv := []unix.Timeval{
			unix.NsecToTimeval(atime.UnixNano()),
			unix.NsecToTimeval(hdr.ModTime.UnixNano()),
		}
		if err := unix.Lutimes(target, tv); err != nil {
			debugf("lutimes %s: %v", target, err)
		}
	} else if !hdr.ModTime.IsZero() {
		if err := os.Chtimes(target, atime, hdr.ModTime); err != nil {
			debugf("chtimes %s: %v", target, err)
		}
	}
}

func extractZip(archivePath, destRoot string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("opening zip %s: %w", archivePath, err)
	}
	defer zr.Close()

	cleanRoot := filepath.Clean(destRoot)
	for _, zf := range zr.File {
		target := filepath.Join(cleanRoot, filepath.Clean(zf.Name))
		if target != cleanRoot && !strings.HasPrefix(target, cleanRoot+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry escapes destination: %s", zf.Name)
		}

		mode := zf.FileInfo().Mode()
		switch {
		case zf.FileInfo().IsDir():
			if err := os.MkdirAll(target, mode.Perm()); err != nil {
				return fmt.Errorf("creating directory %s: %w", target, err)
			}
		case mode&os.ModeSymlink != 0:
			rc, err := zf.Open()
			if err != nil {
				return fmt.Errorf("opening zip entry %s: %w", zf.Name, err)
			}
			linkTarget, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return fmt.Errorf("reading symlink entry %s: %w", zf.Name, err)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("creating parent of %s: %w", target, err)
			}
			if err := os.Symlink(string(linkTarget), target); err != nil {
				return fmt.Errorf("creating symlink %s: %w", target, err)
			}
		default:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("creating parent of %s: %w", target, err)
			}
			rc, err := zf.Open()
			if err != nil {
				return fmt.Errorf("opening zip entry %s: %w", zf.Name, err)
			}
			out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
			if err != nil {
				rc.Close()
				return fmt.Errorf("could not open for writing %s: %w", target, err)
			}
			_, cpErr := io.Copy(out, rc)
			rc.Close()
			if err := out.Close(); cpErr == nil {
				cpErr = err
			}
			if cpErr != nil {
				return fmt.Errorf("extracting %s: %w", zf.Name, cpErr)
			}
		}
	}
	cPrintln(colInfo, "Extracted", archivePath, "into", destRoot)
	return nil
}
