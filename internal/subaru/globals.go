package subaru

import (
	"github.com/gookit/color"
)

// Fixed names of the on-disk format. The resolver/installer side of the
// toolchain relies on these staying stable.
const (
	recipeFileName    = "SUBUILD"
	archiveSuffix     = ".subaru"
	resumeFileName    = ".subaru_resume"
	metadataFileName  = "metadata.yaml"
	stagingDirName    = "packages"
	filesRootName     = "files"
	hooksDirName      = "hooks"
	universalHooksRel = "etc/subaru.d/universal-hooks"
)

// Global variables
var (
	Debug      bool
	ConfigFile = "/etc/subaru.conf"
	version    = "dev"     //default version; overridden at build time
	buildDate  = "unknown" // overridden at build time
)

// color helpers
var (
	colInfo    = color.Info // style provided by gookit/color
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
	colNote    = color.Tag("notice")
)
