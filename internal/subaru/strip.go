package subaru

import (
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// postProcessFiles strips binaries in the staged tree and removes libtool
// archives. Everything here is best-effort: a missing strip tool, a failed
// strip, or a failed removal is at most a warning, never a build failure.
func postProcessFiles(stagedRoot string, noStrip bool) {
	if noStrip {
		cPrintln(colInfo, "no-strip enabled; skipping binary stripping and .la/.a removal.")
		return
	}

	if _, err := exec.LookPath("strip"); err != nil {
		cPrintln(colWarn, "'strip' command not found. Binaries won't be stripped.")
	} else {
		stripBinaries(stagedRoot)
	}

	removeByExt(stagedRoot, ".la")
	removeByExt(stagedRoot, ".a")
}

// stripBinaries runs strip over every regular file except *.o objects, in
// parallel batches.
func stripBinaries(stagedRoot string) {
	cPrintf(colArrow, "-> ")
	cPrintf(colSuccess, "Stripping binaries in %s\n", stagedRoot)

	var paths []string
	filepath.WalkDir(stagedRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			debugf("walk %s: %v", path, err)
			return nil
		}
		if d.Type().IsRegular() && !strings.HasSuffix(d.Name(), ".o") {
			paths = append(paths, path)
		}
		return nil
	})
	if len(paths) == 0 {
		return
	}

	maxConcurrency := runtime.GOMAXPROCS(0) * 4
	if maxConcurrency < 8 {
		maxConcurrency = 8
	}
	concurrencyLimit := make(chan struct{}, maxConcurrency)

	var wg sync.WaitGroup
	var failedMu sync.Mutex
	failed := 0

	for _, path := range paths {
		wg.Add(1)
		concurrencyLimit <- struct{}{}
		go func(p string) {
			defer wg.Done()
			defer func() { <-concurrencyLimit }()

			cmd := exec.Command("strip", "--strip-unneeded", "--strip-debug", p)
			cmd.Stdout = io.Discard
			cmd.Stderr = io.Discard
			if err := cmd.Run(); err != nil {
				debugf("failed to strip %s: %v", p, err)
				failedMu.Lock()
				failed++
				failedMu.Unlock()
			}
		}(path)
	}
	wg.Wait()

	if failed > 0 {
		cPrintln(colWarn, "Strip returned non-zero for", failed, "file(s); check logs for potential errors.")
	} else {
		cPrintln(colInfo, "Finished stripping binaries for "+stagedRoot+".")
	}
}

// removeByExt removes every regular file under root carrying ext, without
// following symlinks.
func removeByExt(root, ext string) {
	removed := false
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			debugf("walk %s: %v", path, err)
			return nil
		}
		if !d.Type().IsRegular() || filepath.Ext(path) != ext {
			return nil
		}
		cPrintln(colInfo, "Removing", path)
		if err := os.Remove(path); err != nil {
			cPrintln(colWarn, "Failed to remove "+ext+" file "+path+":", err)
		} else {
			removed = true
		}
		return nil
	})
	if !removed {
		cPrintln(colInfo, "No "+ext+" files found in "+root+".")
	}
}
