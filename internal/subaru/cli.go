package subaru

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gookit/color"
	"golang.org/x/term"
)

// printHelp prints the commands table
func printHelp() {
	colSuccess.Println("Usage: subaru <command> [arguments]")
	colSuccess.Println("A bare recipe path is treated as 'subaru build <path>'")
	fmt.Println()
	color.Info.Println("Available Commands:")

	type cmdInfo struct {
		Cmd  string
		Args string
		Desc string
	}
	cmds := []cmdInfo{
		{"build, b", "[--clean] [--nostrip] [--no-fakeroot] [path]", "Build archives from a " + recipeFileName + " recipe file or directory"},
		{"publish", "[--cleanup] [dir]", "Upload archives to the mirror and refresh its index"},
		{"version, --version", "", "Version information"},
		{"help", "", "Show this help"},
	}

	// Find the longest usage string so the descriptions line up.
	maxLen := 0
	for _, c := range cmds {
		length := len(c.Cmd) + len(c.Args)
		if c.Args != "" {
			length++
		}
		if length > maxLen {
			maxLen = length
		}
	}
	columnWidth := maxLen + 4

	for _, c := range cmds {
		var usageString string
		if c.Args != "" {
			usageString = fmt.Sprintf("  %s %s", c.Cmd, c.Args)
		} else {
			usageString = fmt.Sprintf("  %s", c.Cmd)
		}

		fmt.Print("  ")
		color.Bold.Print(c.Cmd)
		if c.Args != "" {
			fmt.Print(" ")
			color.Cyan.Print(c.Args)
		}

		pad := columnWidth - len(usageString)
		if pad < 1 {
			pad = 1
		}
		fmt.Print(strings.Repeat(" ", pad))

		color.Info.Println(c.Desc)
	}

	fmt.Println()
}

// Main is the CLI entrypoint behind the root command.
func Main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	// First signal cancels the context so the running phase gets torn
	// down; a second one forces an immediate exit.
	go func() {
		sig := <-sigs
		colArrow.Print("\n-> ")
		color.Danger.Printf("Received %v. Cancelling the running step\n", sig)
		cancel()

		<-sigs
		colArrow.Print("\n-> ")
		color.Danger.Printf("Second interrupt received. Forcing immediate exit.\n")
		os.Exit(130)
	}()

	cfg, err := loadConfig(ConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not read config: %v\n", err)
	}
	initConfig(cfg)

	if len(os.Args) < 2 {
		printHelp()
		os.Exit(1)
	}

	var exitCode int

	switch os.Args[1] {
	case "build", "b":
		if err := runBuild(ctx, cfg, os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Build failed: %v\n", err)
			os.Exit(1)
		}

	case "publish":
		if err := handlePublishCommand(ctx, cfg, os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Publish failed: %v\n", err)
			os.Exit(1)
		}

	case "version", "--version":
		colNote.Printf("subaru %s built %s\n", version, buildDate)

	case "help", "-h", "--help":
		printHelp()

	default:
		// A bare recipe path works as 'build <path>', matching the
		// original single-command invocation style.
		if strings.HasPrefix(os.Args[1], "-") {
			printHelp()
			exitCode = 1
		} else if err := runBuild(ctx, cfg, os.Args[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "Build failed: %v\n", err)
			os.Exit(1)
		}
	}
	os.Exit(exitCode)
}

// runBuild parses build flags by hand so unknown double-dash flags are
// tolerated, then confirms root execution before starting the pipeline.
func runBuild(ctx context.Context, cfg *Config, args []string) error {
	var opts BuildOptions
	recipePath := ""
	for _, arg := range args {
		switch {
		case arg == "--clean":
			opts.Clean = true
		case arg == "--nostrip":
			cPrintln(colInfo, "No-strip flag enabled: binaries will not be stripped.")
			opts.NoStrip = true
		case arg == "--no-fakeroot":
			cPrintln(colInfo, "No-fakeroot flag enabled: fakeroot will be disabled.")
			opts.NoFakeroot = true
		case strings.HasPrefix(arg, "--"):
			cPrintln(colWarn, "Ignoring unknown flag:", arg)
		default:
			recipePath = arg
		}
	}
	if recipePath == "" {
		recipePath = recipeFileName
	}
	if st, err := os.Stat(recipePath); err == nil && st.IsDir() {
		recipePath = filepath.Join(recipePath, recipeFileName)
	}

	if os.Geteuid() == 0 && !opts.NoFakeroot {
		cPrintln(colWarn, "Running as root: phase scripts will run with real root privileges.")
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return errors.New("refusing to build as root non-interactively (pass --no-fakeroot to acknowledge)")
		}
		if !askForConfirmation(colWarn, "Continue as root? [y/N]: ") {
			return errors.New("aborted")
		}
	}

	return CreatePackage(ctx, cfg, recipePath, opts)
}
