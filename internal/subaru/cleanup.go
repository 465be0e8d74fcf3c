package subaru

import (
	"os"
	"path/filepath"
	"strings"
)

// cleanupBuildArtifacts removes the staging area and every recorded
// intermediate (downloads, clones, local copies), plus the extraction
// directory each archive implies. Failures are warnings; cleanup never
// fails a finished build.
func cleanupBuildArtifacts(recipeDir string, intermediates []string) {
	staging := filepath.Join(recipeDir, stagingDirName)
	if _, err := os.Stat(staging); err == nil {
		if err := os.RemoveAll(staging); err != nil {
			cPrintln(colWarn, "Failed to remove "+staging+":", err)
		} else {
			cPrintln(colInfo, "Removed directory:", staging)
		}
	}

	for _, rel := range intermediates {
		p := filepath.Join(recipeDir, rel)
		if filepath.IsAbs(rel) {
			p = rel
		}
		if _, err := os.Lstat(p); err == nil {
			if err := os.RemoveAll(p); err != nil {
				cPrintln(colWarn, "Failed to remove "+p+":", err)
			} else {
				cPrintln(colInfo, "Removed:", p)
			}
		}

		// An archive implies an extraction directory next to it.
		for _, ext := range archiveExts {
			if len(rel) > len(ext) && strings.HasSuffix(rel, ext) {
				dir := filepath.Join(recipeDir, rel[:len(rel)-len(ext)])
				if st, err := os.Stat(dir); err == nil && st.IsDir() {
					if err := os.RemoveAll(dir); err != nil {
						cPrintln(colWarn, "Failed to remove "+dir+":", err)
					} else {
						cPrintln(colInfo, "Removed extracted dir:", dir)
					}
				}
				break
			}
		}
	}
}
