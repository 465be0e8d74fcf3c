package subaru

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// SymlinkSpec is one "symlink:" declaration: a link path inside the staged
// tree and the target it points to.
type SymlinkSpec struct {
	Link   string
	Target string
}

// BuildPlan is the parsed form of a SUBUILD recipe. It is built once by
// ParseRecipe and read-only afterwards.
type BuildPlan struct {
	PackageNames        []string
	PackageDescriptions []string // index-aligned with PackageNames, may be shorter
	Version             string
	Description         string

	Dependencies      []string
	BuildDependencies []string
	SubpackageDeps    map[string][]string // additive to Dependencies, keyed by package name
	Clashes           []string
	Gives             []string
	OptionalDeps      []string

	Sources []string // raw declarations, classified later by the resolver

	Prepare         string
	Compile         string
	Verify          string
	GenericAssemble string
	AssembleFor     map[string]string // package-specific assemble, overrides the generic body

	Symlinks []SymlinkSpec
	Helpers  []string // verbatim helper function blocks, spliced ahead of every phase script
}

// AssembleScript returns the script body used to assemble pkg: the
// package-specific block when one exists, the generic assemble body
// otherwise.
func (p *BuildPlan) AssembleScript(pkg string) string {
	if body, ok := p.AssembleFor[pkg]; ok {
		return body
	}
	return p.GenericAssemble
}

// DependenciesFor returns the emitted dependency list for pkg: the global
// list followed by the package's own additions, order preserved, duplicates
// untouched.
func (p *BuildPlan) DependenciesFor(pkg string) []string {
	deps := make([]string, 0, len(p.Dependencies)+len(p.SubpackageDeps[pkg]))
	deps = append(deps, p.Dependencies...)
	deps = append(deps, p.SubpackageDeps[pkg]...)
	return deps
}

// DescriptionFor returns the description emitted for the package at index i,
// preferring the index-aligned per-package entry over the shared one.
func (p *BuildPlan) DescriptionFor(i int) string {
	if i < len(p.PackageDescriptions) {
		return p.PackageDescriptions[i]
	}
	return p.Description
}

var (
	rePackageNameArray  = regexp.MustCompile(`^package_name\s*=\s*\((.*)\)$`)
	rePackageNameSingle = regexp.MustCompile(`^package_name\s*=\s*"(.*)"$`)
	rePackageVersion    = regexp.MustCompile(`^package_version\s*=\s*"(.*)"$`)
	reDescription       = regexp.MustCompile(`^description\s*=\s*"(.*)"$`)
	reFuncOpen          = regexp.MustCompile(`^([_A-Za-z]\w*)\s*\(\)\s*\{$`)
	reQuoted            = regexp.MustCompile(`"([^"]*)"`)
)

var reservedPhases = map[string]bool{
	"prepare":  true,
	"compile":  true,
	"verify":   true,
	"assemble": true,
}

// Parenthesized global lists. Checked in this order, after the
// dependencies_<pkg> rule has had its chance.
var globalArrayOpeners = []struct {
	re   *regexp.Regexp
	kind arrayKind
}{
	{regexp.MustCompile(`^dependencies\s*=\s*\(`), arrDependencies},
	{regexp.MustCompile(`^build_dependencies\s*=\s*\(`), arrBuildDeps},
	{regexp.MustCompile(`^clashes\s*=\s*\(`), arrClashes},
	{regexp.MustCompile(`^gives\s*=\s*\(`), arrGives},
	{regexp.MustCompile(`^optional_dependencies\s*=\s*\(`), arrOptionalDeps},
}

type accState int

const (
	accIdle accState = iota
	accHelper
	accPhase
	accArray
)

type phaseKey int

const (
	phasePrepare phaseKey = iota
	phaseCompile
	phaseVerify
	phaseAssemble
	phaseAssembleFor
)

type arrayKind int

const (
	arrDescriptions arrayKind = iota
	arrSubpkgDeps
	arrDependencies
	arrBuildDeps
	arrClashes
	arrGives
	arrOptionalDeps
	arrSources
)

// recipeParser classifies one line at a time. Exactly one multi-line
// accumulator is active at any moment; a helper block opened inside a phase
// body suspends the phase and resumes it at the helper's closing brace.
type recipeParser struct {
	plan *BuildPlan

	state  accState
	resume accState // state to restore when a helper block closes

	phase        phaseKey
	specificName string // pkg name for an open assemble_<pkg> block

	// prepare/compile/verify/assemble keep accumulating across repeated
	// blocks; only the package-specific buffer resets on open.
	prepare  strings.Builder
	compile  strings.Builder
	verify   strings.Builder
	assemble strings.Builder
	specific strings.Builder

	helper strings.Builder

	array     strings.Builder
	arrayKind arrayKind
	arraySub  string // subpackage name for dependencies_<pkg>
}

func newRecipeParser() *recipeParser {
	return &recipeParser{
		plan: &BuildPlan{
			SubpackageDeps: make(map[string][]string),
			AssembleFor:    make(map[string]string),
		},
	}
}

// ParseRecipe reads and parses the recipe at path.
func ParseRecipe(path string) (*BuildPlan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening recipe %s: %w", path, err)
	}
	defer f.Close()
	plan, err := parseRecipe(f)
	if err != nil {
		return nil, fmt.Errorf("parsing recipe %s: %w", path, err)
	}
	return plan, nil
}

func parseRecipe(r io.Reader) (*BuildPlan, error) {
	p := newRecipeParser()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		p.feed(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading recipe: %w", err)
	}
	return p.finish(), nil
}

// feed classifies one line. The rules run top to bottom; the first one that
// consumes the line wins.
func (p *recipeParser) feed(raw string) {
	trimmed := strings.TrimSpace(raw)

	// An open helper block swallows every line, verbatim, up to its brace.
	if p.state == accHelper {
		p.helper.WriteString(raw)
		p.helper.WriteByte('\n')
		if trimmed == "}" {
			p.plan.Helpers = append(p.plan.Helpers, p.helper.String())
			p.helper.Reset()
			p.state = p.resume
			p.resume = accIdle
		}
		return
	}

	// An open parenthesized list swallows lines until its closing token.
	if p.state == accArray {
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			return
		}
		if i := strings.IndexByte(trimmed, ')'); i >= 0 {
			p.array.WriteString(" " + trimmed[:i])
			p.commitArray()
			p.state = accIdle
			return
		}
		p.array.WriteString(" " + trimmed)
		return
	}

	// Blank lines and comments are skipped outside script bodies and kept
	// verbatim inside them.
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		if p.state == accPhase {
			b := p.phaseBuilder()
			b.WriteString(raw)
			b.WriteByte('\n')
		}
		return
	}

	// Helper function opener. Runs before everything else so a function
	// named dependencies_foo() stays a shell helper, and so helpers defined
	// inside a phase body are lifted out of it (the phase resumes after the
	// helper's closing brace).
	if m := reFuncOpen.FindStringSubmatch(trimmed); m != nil {
		if name := m[1]; !reservedPhases[name] && !strings.HasPrefix(name, "assemble_") {
			p.resume = p.state
			p.state = accHelper
			p.helper.Reset()
			p.helper.WriteString(raw)
			p.helper.WriteByte('\n')
			return
		}
	}

	// package_name, single value or one-line list.
	if m := rePackageNameArray.FindStringSubmatch(trimmed); m != nil {
		p.plan.PackageNames = append(p.plan.PackageNames, extractQuoted(m[1])...)
		return
	}
	if m := rePackageNameSingle.FindStringSubmatch(trimmed); m != nil {
		p.plan.PackageNames = append(p.plan.PackageNames, m[1])
		return
	}

	// package_descriptions = ( "..." "..." ), possibly spanning lines.
	if strings.HasPrefix(trimmed, "package_descriptions") && strings.Contains(trimmed, "(") {
		p.openArray(arrDescriptions, "", trimmed)
		return
	}

	// dependencies_<pkg> = ( ... ). The helper rule above already claimed
	// dependencies_<pkg>() { ... } lines.
	if strings.HasPrefix(trimmed, "dependencies_") {
		if eq := strings.IndexByte(trimmed, '='); eq >= 0 {
			left := strings.TrimSpace(trimmed[:eq])
			sub := strings.TrimPrefix(left, "dependencies_")
			if strings.Contains(trimmed, "(") {
				p.openArray(arrSubpkgDeps, sub, trimmed)
			}
		}
		return
	}

	if m := rePackageVersion.FindStringSubmatch(trimmed); m != nil {
		p.plan.Version = m[1]
		return
	}
	if m := reDescription.FindStringSubmatch(trimmed); m != nil {
		p.plan.Description = m[1]
		return
	}

	for _, opener := range globalArrayOpeners {
		if opener.re.MatchString(trimmed) {
			p.openArray(opener.kind, "", trimmed)
			return
		}
	}

	if strings.HasPrefix(trimmed, "sources=") {
		if strings.Contains(trimmed, "(") {
			p.openArray(arrSources, "", trimmed)
		}
		return
	}

	// symlink: "link:target"
	if strings.HasPrefix(trimmed, "symlink:") {
		pair := strings.TrimSpace(trimmed[len("symlink:"):])
		if len(pair) >= 2 && pair[0] == '"' && pair[len(pair)-1] == '"' {
			pair = pair[1 : len(pair)-1]
		}
		if colon := strings.IndexByte(pair, ':'); colon >= 0 {
			link := strings.TrimSpace(pair[:colon])
			target := strings.TrimSpace(pair[colon+1:])
			if link != "" && target != "" {
				p.plan.Symlinks = append(p.plan.Symlinks, SymlinkSpec{Link: link, Target: target})
			}
		}
		return
	}

	// Phase openers.
	if strings.HasPrefix(trimmed, "prepare()") && strings.Contains(trimmed, "{") {
		p.state, p.phase = accPhase, phasePrepare
		return
	}
	if strings.HasPrefix(trimmed, "compile()") && strings.Contains(trimmed, "{") {
		p.state, p.phase = accPhase, phaseCompile
		return
	}
	if strings.HasPrefix(trimmed, "verify()") && strings.Contains(trimmed, "{") {
		p.state, p.phase = accPhase, phaseVerify
		return
	}
	if strings.HasPrefix(trimmed, "assemble()") && strings.Contains(trimmed, "{") {
		p.state, p.phase = accPhase, phaseAssemble
		return
	}
	if strings.HasPrefix(trimmed, "assemble_") && strings.Contains(trimmed, "()") && strings.Contains(trimmed, "{") {
		rest := trimmed[len("assemble_"):]
		if i := strings.Index(rest, "()"); i >= 0 {
			p.specificName = rest[:i]
			p.specific.Reset()
			p.state, p.phase = accPhase, phaseAssembleFor
			return
		}
	}

	// A lone closing brace ends the open phase block.
	if trimmed == "}" && p.state == accPhase {
		switch p.phase {
		case phaseAssemble:
			p.plan.GenericAssemble = p.assemble.String()
		case phaseAssembleFor:
			p.plan.AssembleFor[p.specificName] = p.specific.String()
		}
		p.state = accIdle
		return
	}

	// Anything else belongs verbatim to the open phase body, or is ignored.
	if p.state == accPhase {
		b := p.phaseBuilder()
		b.WriteString(raw)
		b.WriteByte('\n')
	}
}

func (p *recipeParser) phaseBuilder() *strings.Builder {
	switch p.phase {
	case phasePrepare:
		return &p.prepare
	case phaseCompile:
		return &p.compile
	case phaseVerify:
		return &p.verify
	case phaseAssemble:
		return &p.assemble
	default:
		return &p.specific
	}
}

// openArray starts accumulating a parenthesized list from the text after the
// opening parenthesis. Lists closing on the same line commit immediately.
func (p *recipeParser) openArray(kind arrayKind, sub, trimmed string) {
	rest := trimmed[strings.IndexByte(trimmed, '(')+1:]
	p.array.Reset()
	p.arrayKind, p.arraySub = kind, sub
	if i := strings.IndexByte(rest, ')'); i >= 0 {
		p.array.WriteString(rest[:i])
		p.commitArray()
		return
	}
	p.array.WriteString(rest)
	p.state = accArray
}

func (p *recipeParser) commitArray() {
	words := extractQuoted(p.array.String())
	switch p.arrayKind {
	case arrDescriptions:
		p.plan.PackageDescriptions = append(p.plan.PackageDescriptions, words...)
	case arrSubpkgDeps:
		p.plan.SubpackageDeps[p.arraySub] = append(p.plan.SubpackageDeps[p.arraySub], words...)
	case arrDependencies:
		p.plan.Dependencies = append(p.plan.Dependencies, words...)
	case arrBuildDeps:
		p.plan.BuildDependencies = append(p.plan.BuildDependencies, words...)
	case arrClashes:
		p.plan.Clashes = append(p.plan.Clashes, words...)
	case arrGives:
		p.plan.Gives = append(p.plan.Gives, words...)
	case arrOptionalDeps:
		p.plan.OptionalDeps = append(p.plan.OptionalDeps, words...)
	case arrSources:
		p.plan.Sources = append(p.plan.Sources, words...)
	}
	p.array.Reset()
}

// finish commits whatever is still accumulating and returns the plan. The
// three global phase bodies always commit, even unclosed; an unclosed list
// commits what it has; an unclosed helper or assemble block is dropped.
func (p *recipeParser) finish() *BuildPlan {
	if p.state == accArray {
		p.commitArray()
	}
	p.plan.Prepare = p.prepare.String()
	p.plan.Compile = p.compile.String()
	p.plan.Verify = p.verify.String()
	return p.plan
}

// extractQuoted returns every double-quoted token in s. Escaped quotes are
// not supported.
func extractQuoted(s string) []string {
	ms := reQuoted.FindAllStringSubmatch(s, -1)
	words := make([]string, 0, len(ms))
	for _, m := range ms {
		words = append(words, m[1])
	}
	return words
}
