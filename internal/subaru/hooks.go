package subaru

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// installHooks copies matching hook files from the recipe directory into the
// staged tree for pkgName. A hook whose filename starts with a digit lands
// under the universal hooks directory with its full name; the rest land in
// hooks/ renamed to their phase component. Copy failures are warnings.
func installHooks(recipeDir, stagedRoot, pkgName string, singlePackage bool) error {
	universalDir := filepath.Join(stagedRoot, filepath.FromSlash(universalHooksRel))
	if err := os.MkdirAll(universalDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", universalDir, err)
	}
	hooksDir := filepath.Join(stagedRoot, hooksDirName)
	if err := os.MkdirAll(hooksDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", hooksDir, err)
	}

	// Single-output recipes may omit the package prefix; multi-output
	// recipes must carry it so hooks stay unambiguous.
	quoted := regexp.QuoteMeta(pkgName)
	var pattern *regexp.Regexp
	if singlePackage {
		pattern = regexp.MustCompile(`(?i)^(` + quoted + `-)?(.+\.hook)$`)
	} else {
		pattern = regexp.MustCompile(`(?i)^` + quoted + `-(.+\.hook)$`)
	}

	entries, err := os.ReadDir(recipeDir)
	if err != nil {
		return fmt.Errorf("scanning %s for hooks: %w", recipeDir, err)
	}
	for _, entry := range entries {
		name := entry.Name()
		info, err := os.Stat(filepath.Join(recipeDir, name))
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		m := pattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}

		var dest string
		if name[0] >= '0' && name[0] <= '9' {
			dest = filepath.Join(universalDir, name)
		} else {
			phase := m[1]
			if singlePackage {
				phase = m[2]
			}
			dest = filepath.Join(hooksDir, phase)
		}

		if err := copyFile(filepath.Join(recipeDir, name), dest); err != nil {
			cPrintln(colWarn, "Failed to copy hook "+name+":", err)
			continue
		}
		cPrintln(colInfo, "Installed hook", name, "->", dest)
	}
	return nil
}
