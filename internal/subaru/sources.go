package subaru

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// sourceResolver materializes every declared source into the recipe
// directory and records what it placed there so a --clean pass can remove
// it again.
type sourceResolver struct {
	ctx           context.Context
	cfg           *Config
	recipeDir     string
	intermediates []string
}

func newSourceResolver(ctx context.Context, cfg *Config, recipeDir string) *sourceResolver {
	return &sourceResolver{ctx: ctx, cfg: cfg, recipeDir: recipeDir}
}

// resolveAll processes sources in declaration order and stops at the first
// failure. Nothing fetched so far is rolled back.
func (r *sourceResolver) resolveAll(sources []string) error {
	for _, src := range sources {
		if err := r.resolve(src); err != nil {
			return err
		}
	}
	return nil
}

func (r *sourceResolver) resolve(src string) error {
	if strings.HasPrefix(src, "git+") {
		return r.resolveGit(strings.TrimPrefix(src, "git+"))
	}

	// name::URL downloads to an explicit filename. A declaration with an
	// empty half falls through to the plain rules below.
	if name, url, ok := strings.Cut(src, "::"); ok && name != "" && url != "" {
		if !strings.Contains(url, "://") {
			return fmt.Errorf("invalid custom URL syntax: %s", src)
		}
		dest := filepath.Join(r.recipeDir, name)
		if _, err := os.Stat(dest); err == nil {
			cPrintln(colInfo, "File already exists, skipping download:", name)
		} else if err := downloadFile(r.ctx, r.cfg, url, dest); err != nil {
			return fmt.Errorf("could not download %s: %w", url, err)
		}
		r.intermediates = append(r.intermediates, name)
		if isArchiveFile(dest) {
			return extractArchive(dest, r.recipeDir)
		}
		return nil
	}

	var filename string
	if strings.Contains(src, "://") {
		filename = src
		if i := strings.LastIndexByte(src, '/'); i >= 0 {
			filename = src[i+1:]
		}
		if filename == "" {
			filename = "source.tar"
		}
		dest := filepath.Join(r.recipeDir, filename)
		if _, err := os.Stat(dest); err == nil {
			cPrintln(colInfo, "File already exists, skipping download:", filename)
		} else if err := downloadFile(r.ctx, r.cfg, src, dest); err != nil {
			return fmt.Errorf("could not download %s: %w", src, err)
		}
	} else {
		srcPath := filepath.Join(r.recipeDir, src)
		if _, err := os.Stat(srcPath); err != nil {
			return fmt.Errorf("local source file does not exist: %s", srcPath)
		}
		filename = filepath.Base(srcPath)
		dest := filepath.Join(r.recipeDir, filename)
		if _, err := os.Stat(dest); err == nil {
			cPrintln(colInfo, "Local file already present:", filename)
		} else if err := copyFile(srcPath, dest); err != nil {
			return fmt.Errorf("failed to copy local file %s: %w", src, err)
		} else {
			cPrintln(colInfo, "Copied local file:", filename)
		}
	}

	r.intermediates = append(r.intermediates, filename)
	if dest := filepath.Join(r.recipeDir, filename); isArchiveFile(dest) {
		return extractArchive(dest, r.recipeDir)
	}
	return nil
}

// resolveGit clones a git+ source. An optional fragment after # or ? names
// the commit, branch, or tag to check out.
func (r *sourceResolver) resolveGit(spec string) error {
	url, ref := spec, ""
	if i := strings.IndexAny(spec, "#?"); i >= 0 {
		url, ref = spec[:i], spec[i+1:]
	}

	repoName := url
	if i := strings.LastIndexByte(url, '/'); i >= 0 {
		repoName = url[i+1:]
	}
	repoName = strings.TrimSuffix(repoName, ".git")

	dest := filepath.Join(r.recipeDir, repoName)
	if st, err := os.Stat(dest); err == nil {
		empty := true
		if st.IsDir() {
			entries, _ := os.ReadDir(dest)
			empty = len(entries) == 0
		} else {
			empty = st.Size() == 0
		}
		if !empty {
			cPrintln(colInfo, "Directory '"+repoName+"' already exists; skipping clone...")
			r.intermediates = append(r.intermediates, repoName)
			return nil
		}
	}

	cPrintf(colArrow, "-> ")
	cPrintf(colSuccess, "Cloning %s => %s\n", url, repoName)
	if err := cloneGitRepo(r.ctx, url, ref, dest); err != nil {
		return err
	}
	r.intermediates = append(r.intermediates, repoName)
	return nil
}
