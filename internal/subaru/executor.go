package subaru

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// phaseEnv carries the values exported to every phase script. PkgDir is
// exported twice, as pkgdir and packagedir.
type phaseEnv struct {
	PkgDir         string
	SrcDir         string
	PackageName    string
	PackageVersion string
}

// Executor hands phase scripts to bash, optionally wrapped in fakeroot, and
// ties the child's process group to a context so an interrupt kills the
// whole script, not just bash.
type Executor struct {
	Context     context.Context
	UseFakeroot bool
	Stdout      io.Writer
	Stderr      io.Writer
}

// composeScript splices the recipe's helper blocks ahead of a phase body.
// Each helper already carries its trailing newline.
func composeScript(helpers []string, body string) string {
	if len(helpers) == 0 {
		return body
	}
	var b strings.Builder
	for _, h := range helpers {
		b.WriteString(h)
	}
	b.WriteString(body)
	return b.String()
}

// escapeSingleQuotes rewrites each literal single quote as the four-byte
// close-escape-reopen sequence so the script survives embedding in a
// single-quoted bash argument.
func escapeSingleQuotes(s string) string {
	return strings.ReplaceAll(s, "'", `'\''`)
}

// phaseCommand builds the full shell command for one phase invocation:
// the environment contract, then the script, single-quoted under bash -c.
func phaseCommand(env phaseEnv, script string, useFakeroot bool) string {
	var b strings.Builder
	b.WriteString(`export pkgdir="` + env.PkgDir + `" && `)
	b.WriteString(`export packagedir="` + env.PkgDir + `" && `)
	b.WriteString(`export srcdir="` + env.SrcDir + `" && `)
	b.WriteString(`export package_name="` + env.PackageName + `" && `)
	b.WriteString(`export package_version="` + env.PackageVersion + `" && `)
	b.WriteString(script)

	cmd := "/bin/bash -c '" + escapeSingleQuotes(b.String()) + "'"
	if useFakeroot {
		cmd = "fakeroot " + cmd
	}
	return cmd
}

// RunPhase executes one phase script under the environment contract. An
// empty script is a successful no-op, not an invocation.
func (e *Executor) RunPhase(env phaseEnv, script string) error {
	if script == "" {
		return nil
	}
	cmd := exec.Command("/bin/bash", "-c", phaseCommand(env, script, e.UseFakeroot))
	return e.run(cmd)
}

func (e *Executor) run(cmd *exec.Cmd) error {
	if cmd.Stdout == nil {
		if e.Stdout != nil {
			cmd.Stdout = e.Stdout
		} else {
			cmd.Stdout = os.Stdout
		}
	}
	if cmd.Stderr == nil {
		if e.Stderr != nil {
			cmd.Stderr = e.Stderr
		} else {
			cmd.Stderr = os.Stderr
		}
	}
	cmd.Stdin = os.Stdin
	cmd.Env = os.Environ()

	// Own process group, so cancellation reaches everything the script
	// spawned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start command: %w", err)
	}

	done := make(chan struct{})
	defer close(done)
	if e.Context != nil {
		go func() {
			select {
			case <-e.Context.Done():
				if cmd.Process != nil {
					syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
				}
			case <-done:
			}
		}()
	}

	err := cmd.Wait()
	if e.Context != nil && e.Context.Err() != nil {
		// Give the group kill a moment to flush output before reporting.
		time.Sleep(100 * time.Millisecond)
		return fmt.Errorf("command aborted")
	}
	return err
}
