package subaru

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// BuildOptions are the per-invocation controls of the build pipeline.
type BuildOptions struct {
	Clean      bool
	NoStrip    bool
	NoFakeroot bool
}

// CreatePackage runs the full pipeline for the recipe at recipePath: parse,
// resolve sources, run the global phases (with resume support), then per
// output package assemble, post-process, and archive.
func CreatePackage(ctx context.Context, cfg *Config, recipePath string, opts BuildOptions) error {
	absPath, err := filepath.Abs(recipePath)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", recipePath, err)
	}
	recipeDir := filepath.Dir(absPath)

	plan, err := ParseRecipe(absPath)
	if err != nil {
		return err
	}
	if len(plan.PackageNames) == 0 {
		return fmt.Errorf("no package_name defined in %s", filepath.Base(absPath))
	}

	resolver := newSourceResolver(ctx, cfg, recipeDir)
	if err := resolver.resolveAll(plan.Sources); err != nil {
		return fmt.Errorf("resolving sources: %w", err)
	}

	st := loadResumeState(recipeDir)
	skipping := st != nil
	if skipping {
		cPrintln(colInfo, "Resuming previous build from phase", st.Phase)
	}

	runner := &Executor{
		Context:     ctx,
		UseFakeroot: cfg.DefaultFakeroot && !opts.NoFakeroot,
	}
	globalEnv := phaseEnv{
		PkgDir:         recipeDir,
		SrcDir:         recipeDir,
		PackageName:    plan.PackageNames[0],
		PackageVersion: plan.Version,
	}

	globalPhases := []struct {
		name string
		body string
	}{
		{"prepare", plan.Prepare},
		{"compile", plan.Compile},
		{"verify", plan.Verify},
	}
	for _, phase := range globalPhases {
		if skipping && st.Phase != phase.name {
			cPrintln(colInfo, "Skipping "+phase.name+"() (already done).")
			continue
		}
		skipping = false
		if err := saveResumeState(recipeDir, ResumeState{Phase: phase.name}); err != nil {
			cPrintln(colWarn, err)
		}

		cPrintf(colArrow, "-> ")
		cPrintf(colSuccess, "Running %s()...\n", phase.name)
		if err := runner.RunPhase(globalEnv, composeScript(plan.Helpers, phase.body)); err != nil {
			return fmt.Errorf("%s() failed: %w", phase.name, err)
		}
	}
	// All three global phases are done; a rerun starts clean.
	clearResumeState(recipeDir)

	noStrip := opts.NoStrip || !cfg.DefaultStrip
	singlePackage := len(plan.PackageNames) == 1

	for i, pkgName := range plan.PackageNames {
		stagedRoot := filepath.Join(recipeDir, stagingDirName, pkgName, filesRootName)
		if err := os.MkdirAll(stagedRoot, 0o755); err != nil {
			return fmt.Errorf("creating staging dir %s: %w", stagedRoot, err)
		}

		if err := installHooks(recipeDir, stagedRoot, pkgName, singlePackage); err != nil {
			return err
		}

		cPrintf(colArrow, "-> ")
		cPrintf(colSuccess, "Assembling package: %s\n", pkgName)

		// A package-specific assemble block wins over the generic one;
		// neither means there is nothing to run for this package.
		script := ""
		if body, ok := plan.AssembleFor[pkgName]; ok {
			script = composeScript(plan.Helpers, body)
		} else if plan.GenericAssemble != "" {
			script = composeScript(plan.Helpers, plan.GenericAssemble)
		}
		env := phaseEnv{
			PkgDir:         stagedRoot,
			SrcDir:         recipeDir,
			PackageName:    pkgName,
			PackageVersion: plan.Version,
		}
		if err := runner.RunPhase(env, script); err != nil {
			return fmt.Errorf("assemble phase failed for package %s: %w", pkgName, err)
		}

		postProcessFiles(stagedRoot, noStrip)

		meta := packageMetadata{
			Name:                 pkgName,
			Version:              plan.Version,
			Description:          plan.DescriptionFor(i),
			Dependencies:         plan.DependenciesFor(pkgName),
			Clashes:              plan.Clashes,
			Gives:                plan.Gives,
			OptionalDependencies: plan.OptionalDeps,
		}
		outputFile := filepath.Join(recipeDir, pkgName+"-"+plan.Version+archiveSuffix)
		digest, err := packageArchive(stagedRoot, meta, plan.Symlinks, outputFile)
		if err != nil {
			return fmt.Errorf("packaging failed for package %s: %w", pkgName, err)
		}
		cPrintln(colNote, "b3sum("+filepath.Base(outputFile)+") =", digest)
	}

	cPrintf(colSuccess, "All steps complete. Final archive(s) have been created.\n")

	if opts.Clean {
		cPrintln(colInfo, "Cleaning up intermediate files...")
		cleanupBuildArtifacts(recipeDir, resolver.intermediates)
	}
	return nil
}
