package engine

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/moss/pkg/triggers"
)

// sigintGuard masks SIGINT for the lifetime of a transaction's critical
// section (spec.md §4.G step 1, §5 "Cancellation & signals"): once armed,
// an interrupt during the blit is dropped rather than killing the process
// mid-swap. Release restores default handling.
type sigintGuard struct {
	ch chan os.Signal
}

func armSigintGuard() *sigintGuard {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	return &sigintGuard{ch: ch}
}

func (g *sigintGuard) release() {
	signal.Stop(g.ch)
	close(g.ch)
}

// Inhibitor holds an external power-management inhibitor (e.g. a
// systemd-logind "shutdown, sleep, idle, handle-lid-switch" lock) for the
// duration of a critical section. The core only exposes the hook point;
// acquiring and releasing a real inhibitor is an external collaborator's
// responsibility (spec.md §1 Non-goals: "systemd inhibitor plumbing").
type Inhibitor interface {
	Acquire() (release func(), err error)
}

// NoInhibitor is the default Inhibitor: it holds nothing.
type NoInhibitor struct{}

func (NoInhibitor) Acquire() (func(), error) { return func() {}, nil }

// BootSynchroniser is handed the newly promoted state after a successful
// transaction. The core exposes this hook point only; driving an actual
// boot loader is out of scope (spec.md §1 Non-goals).
type BootSynchroniser interface {
	Sync(stateID uint64) error
}

// NoBootSynchroniser is the default BootSynchroniser: it does nothing.
type NoBootSynchroniser struct{}

func (NoBootSynchroniser) Sync(uint64) error { return nil }

// TriggerSource compiles the path-bound trigger commands for one scope
// against the set of paths a blit just touched. This is the pattern
// matcher's hook point: the core only ever executes an already-compiled
// command list, never matches YAML patterns itself (spec.md §4.H, §9).
type TriggerSource interface {
	Compile(scope triggers.Scope, paths []string) ([]triggers.Command, error)
}

// NoTriggerSource is the default TriggerSource: it compiles nothing.
type NoTriggerSource struct{}

func (NoTriggerSource) Compile(triggers.Scope, []string) ([]triggers.Command, error) {
	return nil, nil
}
