// Package engine implements the transaction engine: it turns a selection
// set into a new on-disk state by blitting a staging tree and atomically
// swapping it into the live installation root (spec.md §4.G "Transaction
// engine"), grounded on original_source/moss/src/client/mod.rs and
// moss/src/client/postblit.rs.
package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/cuemby/moss/pkg/cache"
	"github.com/cuemby/moss/pkg/db/layout"
	"github.com/cuemby/moss/pkg/db/state"
	"github.com/cuemby/moss/pkg/installation"
	"github.com/cuemby/moss/pkg/log"
	"github.com/cuemby/moss/pkg/metrics"
	"github.com/cuemby/moss/pkg/triggers"
	"github.com/cuemby/moss/pkg/types"
	"github.com/cuemby/moss/pkg/vfs"
)

// ErrEphemeralProhibited is returned by operations that only make sense
// against a persistent installation (promoting staging, archiving states).
var ErrEphemeralProhibited = fmt.Errorf("engine: operation prohibited against an ephemeral root")

// ErrNoActiveState is returned by ActivateState when the installation has
// never completed a transaction.
var ErrNoActiveState = fmt.Errorf("engine: installation has no active state")

// ErrStateAlreadyActive is returned by ActivateState when asked to
// activate the state that is already live.
type ErrStateAlreadyActive struct{ ID types.StateID }

func (e ErrStateAlreadyActive) Error() string {
	return fmt.Sprintf("engine: state %d is already active", e.ID)
}

// ErrStateNotArchived is returned by ActivateState when the requested
// state has no archived "/usr" tree to restore.
type ErrStateNotArchived struct{ ID types.StateID }

func (e ErrStateNotArchived) Error() string {
	return fmt.Sprintf("engine: state %d has no archived tree", e.ID)
}

// Engine drives the blit/promote/archive lifecycle for one installation.
type Engine struct {
	root          *installation.Root
	layoutDB      *layout.DB
	stateDB       *state.DB
	cache         *cache.Cache
	triggers      *triggers.Runner
	triggerSource TriggerSource

	inhibitor Inhibitor
	bootSync  BootSynchroniser

	// ephemeralRoot, when non-empty, redirects every blit into this
	// caller-provided directory instead of the persistent staging
	// directory, and disables promote/archive (spec.md §3 "ephemeral").
	ephemeralRoot string
}

// Option configures optional Engine collaborators.
type Option func(*Engine)

// WithInhibitor overrides the default no-op power-management inhibitor.
func WithInhibitor(i Inhibitor) Option { return func(e *Engine) { e.inhibitor = i } }

// WithBootSynchroniser overrides the default no-op boot-loader hook.
func WithBootSynchroniser(b BootSynchroniser) Option { return func(e *Engine) { e.bootSync = b } }

// WithTriggerSource overrides the default no-op trigger compiler.
func WithTriggerSource(s TriggerSource) Option { return func(e *Engine) { e.triggerSource = s } }

// Ephemeral redirects every blit into blitRoot instead of the installation's
// own staging directory and disables the promote/archive steps.
func Ephemeral(blitRoot string) Option { return func(e *Engine) { e.ephemeralRoot = blitRoot } }

// New returns an Engine for root, reading layouts from layoutDB and
// recording states in stateDB.
func New(root *installation.Root, layoutDB *layout.DB, stateDB *state.DB, c *cache.Cache, opts ...Option) *Engine {
	e := &Engine{
		root:          root,
		layoutDB:      layoutDB,
		stateDB:       stateDB,
		cache:         c,
		triggers:      triggers.NewRunner(),
		triggerSource: NoTriggerSource{},
		inhibitor:     NoInhibitor{},
		bootSync:      NoBootSynchroniser{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) isEphemeral() bool { return e.ephemeralRoot != "" }

// Apply builds a new state from selections, blits it, and — unless this
// Engine is ephemeral — atomically promotes it to the live root. It returns
// the recorded State, or the zero State for an ephemeral apply (spec.md
// §4.G "Ephemeral mode skips steps 4-11").
func (e *Engine) Apply(selections []types.Selection, summary, description string) (types.State, error) {
	guard := armSigintGuard()
	defer guard.release()

	release, err := e.inhibitor.Acquire()
	if err != nil {
		return types.State{}, fmt.Errorf("engine: acquire inhibitor: %w", err)
	}
	defer release()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.BlitDuration)

	ids := make([]types.PackageID, 0, len(selections))
	for _, s := range selections {
		ids = append(ids, s.PackageID)
	}

	tree, err := e.buildTree(ids)
	if err != nil {
		metrics.TransactionsTotal.WithLabelValues("error").Inc()
		return types.State{}, err
	}

	if e.isEphemeral() {
		if err := e.applyEphemeral(tree); err != nil {
			metrics.TransactionsTotal.WithLabelValues("error").Inc()
			return types.State{}, err
		}
		metrics.TransactionsTotal.WithLabelValues("success").Inc()
		return types.State{}, nil
	}

	oldID, hasOld := e.currentStateID()

	st, err := e.stateDB.Add(types.StateKindTransaction, selections, summary, description)
	if err != nil {
		metrics.TransactionsTotal.WithLabelValues("error").Inc()
		return types.State{}, fmt.Errorf("engine: record state: %w", err)
	}

	if err := e.applyStateful(tree, st.ID, oldID, hasOld); err != nil {
		metrics.TransactionsTotal.WithLabelValues("error").Inc()
		return types.State{}, err
	}

	metrics.TransactionsTotal.WithLabelValues("success").Inc()
	return st, nil
}

// buildTree loads every layout entry for ids and assembles them into a VFS
// tree, logging (not failing on) any duplicate-path reports.
func (e *Engine) buildTree(ids []types.PackageID) (*vfs.Tree, error) {
	entries, err := e.layoutDB.Query(ids)
	if err != nil {
		return nil, fmt.Errorf("engine: query layouts: %w", err)
	}

	grouped := make(map[types.PackageID][]types.Layout)
	for _, l := range entries {
		grouped[l.PackageID] = append(grouped[l.PackageID], l)
	}

	tree, dups, err := vfs.Build(grouped)
	if err != nil {
		return nil, fmt.Errorf("engine: build vfs tree: %w", err)
	}
	for _, d := range dups {
		log.WithComponent("engine").Warn().
			Str("path", d.Path).
			Str("first_owner", string(d.FirstOwner)).
			Str("second_owner", string(d.SecondOwner)).
			Msg("duplicate path across packages, first writer wins")
	}
	return tree, nil
}

func (e *Engine) currentStateID() (types.StateID, bool) {
	id, err := e.root.CurrentStateID()
	if err != nil {
		return 0, false
	}
	return id, true
}

// applyStateful implements spec.md §4.G steps 3-10: blit to staging, write
// the state id and os-release, run transaction triggers, promote, refresh
// root links, archive the previous state, and run system triggers.
func (e *Engine) applyStateful(tree *vfs.Tree, newID types.StateID, oldID types.StateID, hasOld bool) error {
	stagingDir := e.root.StagingDir()

	if err := blitTree(tree, stagingDir, e.cache); err != nil {
		return err
	}
	if err := recordStateID(stagingDir, newID); err != nil {
		return err
	}
	if err := recordOSRelease(stagingDir); err != nil {
		return err
	}

	if err := createRootLinks(e.root.IsolationDir()); err != nil {
		return fmt.Errorf("engine: write isolation root links: %w", err)
	}

	txProfile := triggers.ProfileFor(triggers.ScopeTransaction, e.root.IsolationDir(),
		filepath.Join(e.root.Path, "etc"), filepath.Join(stagingDir, "usr"), e.root.IsSystemRoot())
	if err := e.runTriggers(tree, triggers.ScopeTransaction, txProfile); err != nil {
		return err
	}

	if err := e.promoteStaging(); err != nil {
		return err
	}

	if err := createRootLinks(e.root.Path); err != nil {
		return fmt.Errorf("engine: write live root links: %w", err)
	}

	if hasOld {
		if err := e.archiveState(oldID); err != nil {
			return err
		}
	}

	sysProfile := triggers.ProfileFor(triggers.ScopeSystem, e.root.IsolationDir(),
		filepath.Join(e.root.Path, "etc"), filepath.Join(e.root.Path, "usr"), e.root.IsSystemRoot())
	if err := e.runTriggers(tree, triggers.ScopeSystem, sysProfile); err != nil {
		return err
	}

	if err := e.bootSync.Sync(uint64(newID)); err != nil {
		return fmt.Errorf("engine: boot synchronise: %w", err)
	}
	return nil
}

// applyEphemeral implements spec.md §4.G's ephemeral path: everything is
// written into the caller-provided blit root and both trigger scopes run
// against it directly, with no promote or archive step.
func (e *Engine) applyEphemeral(tree *vfs.Tree) error {
	blitRoot := e.ephemeralRoot

	if err := blitTree(tree, blitRoot, e.cache); err != nil {
		return err
	}
	if err := recordOSRelease(blitRoot); err != nil {
		return err
	}
	if err := createRootLinks(blitRoot); err != nil {
		return fmt.Errorf("engine: write ephemeral root links: %w", err)
	}
	if err := createRootLinks(e.root.IsolationDir()); err != nil {
		return fmt.Errorf("engine: write isolation root links: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(blitRoot, "etc"), 0755); err != nil {
		return fmt.Errorf("engine: create ephemeral etc: %w", err)
	}

	usrGuest := filepath.Join(blitRoot, "usr")
	etcHost := filepath.Join(blitRoot, "etc")

	txProfile := triggers.ProfileFor(triggers.ScopeTransaction, e.root.IsolationDir(), etcHost, usrGuest, e.root.IsSystemRoot())
	if err := e.runTriggers(tree, triggers.ScopeTransaction, txProfile); err != nil {
		return err
	}

	sysProfile := triggers.ProfileFor(triggers.ScopeSystem, e.root.IsolationDir(), etcHost, usrGuest, e.root.IsSystemRoot())
	return e.runTriggers(tree, triggers.ScopeSystem, sysProfile)
}

// runTriggers asks the configured TriggerSource to compile scope's
// triggers against every path tree touched, then executes the result under
// profile. The pattern matcher that turns YAML trigger definitions into
// path-bound commands is out of scope (spec.md §4.H, §9) — this engine
// only ever runs an already-compiled command list.
func (e *Engine) runTriggers(tree *vfs.Tree, scope triggers.Scope, profile triggers.Profile) error {
	var paths []string
	_ = tree.Walk(func(path string, kind types.EntryKind, entry types.Entry, mode uint32, owner types.PackageID, parentPath string) error {
		paths = append(paths, path)
		return nil
	})

	commands, err := e.triggerSource.Compile(scope, paths)
	if err != nil {
		return fmt.Errorf("engine: compile %s-scope triggers: %w", scope, err)
	}
	e.triggers.ExecuteAll(commands, profile)
	return nil
}

// promoteStaging swaps "<staging>/usr" with "<root>/usr" via
// renameat2(RENAME_EXCHANGE), so the live tree updates atomically
// (spec.md §4.G step 7).
func (e *Engine) promoteStaging() error {
	if e.isEphemeral() {
		return ErrEphemeralProhibited
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PromoteDuration)

	usrTarget := e.root.UsrDir()
	usrSource := filepath.Join(e.root.StagingDir(), "usr")

	if _, err := os.Stat(usrTarget); os.IsNotExist(err) {
		if err := os.MkdirAll(usrTarget, 0755); err != nil {
			return fmt.Errorf("engine: create %s: %w", usrTarget, err)
		}
	}

	if err := atomicSwap(usrSource, usrTarget); err != nil {
		return fmt.Errorf("engine: promote staging: %w", err)
	}
	return nil
}

// atomicSwap exchanges oldPath and newPath with RENAME_EXCHANGE. Go issues
// the renameat2 syscall directly rather than through a libc wrapper, so it
// sidesteps the gap some libcs (e.g. musl) have in exposing the call —
// the same reason the original client makes the syscall by hand.
func atomicSwap(oldPath, newPath string) error {
	return unix.Renameat2(unix.AT_FDCWD, oldPath, unix.AT_FDCWD, newPath, unix.RENAME_EXCHANGE)
}

// archiveState moves the now-displaced "/usr" tree (sitting in
// "<staging>/usr" after promoteStaging's swap) under the archived state's
// own directory, so ActivateState can later restore it (spec.md §4.G
// step 9).
func (e *Engine) archiveState(id types.StateID) error {
	if e.isEphemeral() {
		return ErrEphemeralProhibited
	}

	target := e.root.ArchivedUsr(id)
	source := filepath.Join(e.root.StagingDir(), "usr")

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("engine: create %s: %w", filepath.Dir(target), err)
	}
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("engine: clear %s: %w", target, err)
	}
	if err := os.Rename(source, target); err != nil {
		return fmt.Errorf("engine: archive state %d: %w", id, err)
	}
	return nil
}

// ActivateState is the inverse of a normal transaction: it restores a
// previously archived state's "/usr" to the live root, archiving the
// displaced tree under the state that was active before the call
// (spec.md §4.G "Activating an older archived state").
func (e *Engine) ActivateState(id types.StateID, skipTriggers bool) (types.StateID, error) {
	if e.isEphemeral() {
		return 0, ErrEphemeralProhibited
	}

	newSt, err := e.stateDB.Get(id)
	if err != nil {
		return 0, fmt.Errorf("engine: lookup state %d: %w", id, err)
	}

	oldID, hasOld := e.currentStateID()
	if !hasOld {
		return 0, ErrNoActiveState
	}
	if newSt.ID == oldID {
		return 0, ErrStateAlreadyActive{ID: id}
	}

	archivedDir := e.root.ArchivedStateDir(id)
	if _, err := os.Stat(filepath.Join(archivedDir, "usr")); err != nil {
		return 0, ErrStateNotArchived{ID: id}
	}

	stagingDir := e.root.StagingDir()
	if err := os.RemoveAll(stagingDir); err != nil {
		return 0, fmt.Errorf("engine: clear staging: %w", err)
	}
	if err := os.Rename(archivedDir, stagingDir); err != nil {
		return 0, fmt.Errorf("engine: stage archived state %d: %w", id, err)
	}

	if err := e.promoteStaging(); err != nil {
		return 0, err
	}
	if err := createRootLinks(e.root.Path); err != nil {
		return 0, fmt.Errorf("engine: write live root links: %w", err)
	}
	if err := e.archiveState(oldID); err != nil {
		return 0, err
	}

	if !skipTriggers {
		ids := make([]types.PackageID, 0, len(newSt.Selections))
		for _, s := range newSt.Selections {
			ids = append(ids, s.PackageID)
		}
		tree, err := e.buildTree(ids)
		if err != nil {
			return 0, err
		}
		sysProfile := triggers.ProfileFor(triggers.ScopeSystem, e.root.IsolationDir(),
			filepath.Join(e.root.Path, "etc"), filepath.Join(e.root.Path, "usr"), e.root.IsSystemRoot())
		if err := e.runTriggers(tree, triggers.ScopeSystem, sysProfile); err != nil {
			return 0, err
		}
	}

	return oldID, nil
}

// Reblit rebuilds state's tree from its own selections and re-materialises
// it, bypassing the normal new-state/trigger pipeline entirely — this is
// verify's repair path, not a transaction (spec.md §4.I "reblit every
// affected state"). An active state is blitted to staging and promoted over
// the live root in place, discarding whatever corrupt tree it replaces with
// no archive step (there is nothing new to archive). A non-active state is
// blitted straight into staging and archived over its own prior archive
// directory.
func (e *Engine) Reblit(st types.State, isActive bool) error {
	if e.isEphemeral() {
		return ErrEphemeralProhibited
	}

	ids := make([]types.PackageID, 0, len(st.Selections))
	for _, sel := range st.Selections {
		ids = append(ids, sel.PackageID)
	}
	tree, err := e.buildTree(ids)
	if err != nil {
		return err
	}

	stagingDir := e.root.StagingDir()
	if err := blitTree(tree, stagingDir, e.cache); err != nil {
		return err
	}
	if err := recordStateID(stagingDir, st.ID); err != nil {
		return err
	}
	if err := recordOSRelease(stagingDir); err != nil {
		return err
	}

	if isActive {
		if err := e.promoteStaging(); err != nil {
			return err
		}
		return createRootLinks(e.root.Path)
	}

	return e.archiveState(st.ID)
}

// recordStateID writes "<blitRoot>/usr/.stateID", creating the usr
// directory if the selection set was empty (spec.md §9 edge case).
func recordStateID(blitRoot string, id types.StateID) error {
	usr := filepath.Join(blitRoot, "usr")
	if err := os.MkdirAll(usr, 0755); err != nil {
		return fmt.Errorf("engine: create %s: %w", usr, err)
	}
	return os.WriteFile(filepath.Join(usr, ".stateID"), []byte(strconv.FormatUint(uint64(id), 10)), 0644)
}

// recordOSRelease writes "<blitRoot>/usr/lib/os-release", templated with
// this build's release identity (spec.md §4.G step 4).
func recordOSRelease(blitRoot string) error {
	dir := filepath.Join(blitRoot, "usr", "lib")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("engine: create %s: %w", dir, err)
	}
	const body = `NAME="moss"
ID=moss
VERSION_ID="1"
PRETTY_NAME="moss-managed root"
HOME_URL="https://github.com/cuemby/moss"
`
	return os.WriteFile(filepath.Join(dir, "os-release"), []byte(body), 0644)
}

// createRootLinks (re)writes the top-level convenience symlinks that make
// a "/usr"-merged tree behave like a traditional FHS root: bin, sbin, lib,
// lib64 all point into "usr", lib32 into "usr/lib32" (spec.md §4.G step 5
// / step 8). Each link is built in a ".next" scratch name and renamed over
// the target, so a concurrent reader never observes a missing symlink.
func createRootLinks(root string) error {
	links := []struct{ source, target string }{
		{"usr/sbin", "sbin"},
		{"usr/bin", "bin"},
		{"usr/lib", "lib"},
		{"usr/lib", "lib64"},
		{"usr/lib32", "lib32"},
	}

	for _, l := range links {
		finalTarget := filepath.Join(root, l.target)
		scratch := filepath.Join(root, l.target+".next")

		os.Remove(scratch)

		if existing, err := os.Readlink(finalTarget); err == nil && existing == l.source {
			continue
		}

		if err := os.Symlink(l.source, scratch); err != nil {
			return fmt.Errorf("engine: symlink %s: %w", scratch, err)
		}
		if err := os.Rename(scratch, finalTarget); err != nil {
			return fmt.Errorf("engine: rename %s: %w", scratch, err)
		}
	}
	return nil
}
