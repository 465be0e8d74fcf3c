package subaru

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"
	"lukechampine.com/blake3"
)

// packageMetadata is the metadata.yaml document placed at the root of every
// archive. dependencies is always emitted, the optional lists only when
// non-empty.
type packageMetadata struct {
	Name                 string   `yaml:"name"`
	Version              string   `yaml:"version"`
	Description          string   `yaml:"description"`
	Dependencies         []string `yaml:"dependencies"`
	Clashes              []string `yaml:"clashes,omitempty"`
	Gives                []string `yaml:"gives,omitempty"`
	OptionalDependencies []string `yaml:"optional_dependencies,omitempty"`
}

// packageArchive stages metadata and declared symlinks into stagedRoot, then
// writes the final compressed archive to outputFile. Returns the archive's
// BLAKE3 digest.
func packageArchive(stagedRoot string, meta packageMetadata, links []SymlinkSpec, outputFile string) (string, error) {
	if err := writeMetadata(stagedRoot, meta); err != nil {
		return "", err
	}
	if err := createSymlinks(stagedRoot, links); err != nil {
		return "", err
	}
	digest, err := writeArchive(stagedRoot, outputFile)
	if err != nil {
		return "", err
	}
	cPrintln(colInfo, "Successfully created archive:", outputFile)
	return digest, nil
}

func writeMetadata(stagedRoot string, meta packageMetadata) error {
	if meta.Dependencies == nil {
		meta.Dependencies = []string{}
	}
	data, err := yaml.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("encoding metadata for %s: %w", meta.Name, err)
	}
	metaPath := filepath.Join(stagedRoot, metadataFileName)
	if err := os.WriteFile(metaPath, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", metaPath, err)
	}
	cPrintln(colInfo, "Wrote metadata.yaml to", metaPath)
	return nil
}

// createSymlinks materializes the recipe's symlink declarations inside the
// staged tree. An already-occupied link path is skipped with a warning; any
// other failure is fatal.
func createSymlinks(stagedRoot string, links []SymlinkSpec) error {
	for _, l := range links {
		linkPath := filepath.Join(stagedRoot, filepath.FromSlash(l.Link))
		if _, err := os.Lstat(linkPath); err == nil {
			cPrintln(colWarn, "Symlink path "+linkPath+" already exists; skipping creation.")
			continue
		}
		if err := os.MkdirAll(filepath.Dir(linkPath), 0o755); err != nil {
			return fmt.Errorf("creating parent of %s: %w", linkPath, err)
		}
		if err := os.Symlink(l.Target, linkPath); err != nil {
			return fmt.Errorf("creating symlink %s -> %s: %w", linkPath, l.Target, err)
		}
		cPrintln(colInfo, "Created symlink: "+linkPath+" -> "+l.Target)
	}
	return nil
}

// archiveEntryName maps a staged path to its name in the archive:
// metadata.yaml and the hooks subtree keep their names, everything else
// lives under files/.
func archiveEntryName(rel string) string {
	switch {
	case rel == ".":
		return filesRootName
	case rel == metadataFileName:
		return metadataFileName
	case rel == hooksDirName || strings.HasPrefix(rel, hooksDirName+"/"):
		return rel
	default:
		return filesRootName + "/" + rel
	}
}

// writeArchive tars the staged tree with the package layout remapping,
// forcing root ownership on every entry, and compresses the stream with
// zstd tuned for ratio (long-range matching, best level). The digest of the
// compressed output is computed as it is written.
func writeArchive(stagedRoot, outputFile string) (string, error) {
	out, err := os.Create(outputFile)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", outputFile, err)
	}

	h := blake3.New(32, nil)
	zw, err := zstd.NewWriter(io.MultiWriter(out, h),
		zstd.WithEncoderLevel(zstd.SpeedBestCompression),
		zstd.WithWindowSize(128<<20))
	if err != nil {
		out.Close()
		return "", fmt.Errorf("initializing compressor: %w", err)
	}
	tw := tar.NewWriter(zw)

	walkErr := filepath.Walk(stagedRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(stagedRoot, path)
		if err != nil {
			return err
		}

		var link string
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}
		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = archiveEntryName(filepath.ToSlash(rel))
		if info.IsDir() && !strings.HasSuffix(hdr.Name, "/") {
			hdr.Name += "/"
		}
		hdr.Uid, hdr.Gid = 0, 0
		hdr.Uname, hdr.Gname = "root", "root"

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, cpErr := io.Copy(tw, f)
		f.Close()
		return cpErr
	})
	if walkErr != nil {
		tw.Close()
		zw.Close()
		out.Close()
		return "", fmt.Errorf("archiving %s: %w", stagedRoot, walkErr)
	}

	if err := tw.Close(); err != nil {
		zw.Close()
		out.Close()
		return "", fmt.Errorf("finalizing tar stream: %w", err)
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return "", fmt.Errorf("finalizing compression: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", outputFile, err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
