// Package triggers executes the compiled, path-bound command list a
// transaction runs after blitting a new tree (spec.md §4.H). The pattern
// matcher that produces this list from YAML trigger definitions is
// explicitly out of scope (spec.md §9 "the pattern matcher is external");
// this package only ever receives already-compiled Commands and decides
// how — sandboxed or not — to run them, grounded on
// original_source/moss/src/client/postblit.rs.
package triggers

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"

	"github.com/cuemby/moss/pkg/log"
)

// Scope distinguishes the two trigger-execution passes a transaction runs:
// transaction scope (against the staging tree, always sandboxed) and system
// scope (against the live root, sandboxed unless the installation root is
// literal "/").
type Scope int

const (
	ScopeTransaction Scope = iota
	ScopeSystem
)

func (s Scope) String() string {
	if s == ScopeSystem {
		return "system"
	}
	return "transaction"
}

// CommandKind discriminates the two compiled trigger actions.
type CommandKind int

const (
	CommandRun CommandKind = iota
	CommandDelete
)

// Command is one compiled trigger action: either Run{Program,Args} or
// Delete{Paths} — a closed tagged union, not an interface hierarchy, per
// spec.md §9.
type Command struct {
	Kind CommandKind

	// Run
	Program string
	Args    []string

	// Delete
	Paths []string
}

// Bind is one sandbox bind-mount: Source (host) onto Target (guest).
type Bind struct {
	Source   string
	Target   string
	ReadOnly bool
}

// Profile is the sandbox configuration a Command runs under.
type Profile struct {
	Sandboxed  bool
	IsolateDir string
	Binds      []Bind
	Networking bool
}

// ProfileFor computes the sandbox profile for scope, per spec.md §4.H:
// transaction scope always sandboxes with /etc read-only and /usr
// read-write from the staging tree; system scope runs unsandboxed only when
// installRoot is the literal filesystem root "/", otherwise the same
// profile with /etc read-write.
func ProfileFor(scope Scope, isolateDir, etcHostPath, usrGuestPath string, isSystemRoot bool) Profile {
	if scope == ScopeSystem && isSystemRoot {
		return Profile{Sandboxed: false}
	}

	etcReadOnly := scope == ScopeTransaction

	return Profile{
		Sandboxed:  true,
		IsolateDir: isolateDir,
		Networking: false,
		Binds: []Bind{
			{Source: etcHostPath, Target: "/etc", ReadOnly: etcReadOnly},
			{Source: usrGuestPath, Target: "/usr", ReadOnly: false},
		},
	}
}

// Runner executes compiled Commands under a Profile, using bubblewrap
// ("bwrap") for the sandboxed case — the standard Linux userspace sandbox
// for exactly this unprivileged bind-mount-namespace shape, and the tool
// the broader Serpent OS/ostree family of systems already assumes is
// present.
type Runner struct {
	// BwrapPath overrides the "bwrap" lookup, for testing.
	BwrapPath string
}

// NewRunner returns a Runner using "bwrap" from $PATH.
func NewRunner() *Runner { return &Runner{BwrapPath: "bwrap"} }

// Execute runs cmd under profile. A Run command's non-zero exit is logged
// with its stdout/stderr but never returns an error — triggers are
// expected to be idempotent and must not roll back the blit (spec.md §4.H).
// A Delete command's failures are likewise logged, not propagated.
func (r *Runner) Execute(cmd Command, profile Profile) error {
	switch cmd.Kind {
	case CommandRun:
		r.runCommand(cmd, profile)
		return nil
	case CommandDelete:
		r.runDelete(cmd)
		return nil
	default:
		return fmt.Errorf("triggers: unknown command kind %d", cmd.Kind)
	}
}

func (r *Runner) runCommand(cmd Command, profile Profile) {
	logger := log.WithComponent("triggers")

	var exe *exec.Cmd
	if profile.Sandboxed {
		exe = exec.Command(r.BwrapPath, r.bwrapArgs(profile, cmd)...)
	} else {
		exe = exec.Command(cmd.Program, cmd.Args...)
	}
	exe.Dir = "/"

	var stdout, stderr bytes.Buffer
	exe.Stdout = &stdout
	exe.Stderr = &stderr

	err := exe.Run()
	if err == nil {
		return
	}

	logger.Warn().Str("program", cmd.Program).Err(err).Msg("trigger exited non-zero")
	if stdout.Len() > 0 {
		logger.Warn().Str("stdout", stdout.String()).Msg("trigger stdout")
	}
	if stderr.Len() > 0 {
		logger.Warn().Str("stderr", stderr.String()).Msg("trigger stderr")
	}
}

// bwrapArgs builds the bubblewrap argv for profile, executing cmd inside it.
func (r *Runner) bwrapArgs(profile Profile, cmd Command) []string {
	args := []string{"--die-with-parent", "--chdir", "/"}
	if !profile.Networking {
		args = append(args, "--unshare-net")
	}
	if profile.IsolateDir != "" {
		args = append(args, "--bind", profile.IsolateDir, "/")
	}
	for _, b := range profile.Binds {
		if b.ReadOnly {
			args = append(args, "--ro-bind", b.Source, b.Target)
		} else {
			args = append(args, "--bind", b.Source, b.Target)
		}
	}
	args = append(args, "--", cmd.Program)
	args = append(args, cmd.Args...)
	return args
}

func (r *Runner) runDelete(cmd Command) {
	logger := log.WithComponent("triggers")
	for _, p := range cmd.Paths {
		if err := os.RemoveAll(p); err != nil {
			logger.Warn().Str("path", p).Err(err).Msg("trigger delete failed")
		}
	}
}

// ExecuteAll runs every command in order under profile, matching spec.md
// §4.H's "executes it in declaration order" — later commands still run
// even if an earlier one logged a failure.
func (r *Runner) ExecuteAll(commands []Command, profile Profile) {
	for _, cmd := range commands {
		_ = r.Execute(cmd, profile)
	}
}
