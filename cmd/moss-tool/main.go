// Command moss-tool is a standalone maintenance binary for offline
// verify/prune passes against an installation's bbolt databases, grounded
// on cmd/warren-migrate/main.go's flag-based, backup-before-mutating shape
// (teacher) rather than moss's interactive cobra tree.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/cuemby/moss/pkg/db/layout"
	"github.com/cuemby/moss/pkg/db/meta"
	"github.com/cuemby/moss/pkg/db/state"
	"github.com/cuemby/moss/pkg/installation"
	"github.com/cuemby/moss/pkg/prune"
	"github.com/cuemby/moss/pkg/verify"
)

var (
	root    = flag.String("root", "/", "Installation root to operate against")
	dryRun  = flag.Bool("dry-run", true, "Show what would change without writing anything")
	keep    = flag.Uint64("keep", 2, "States to retain when pruning")
	doPrune = flag.Bool("prune", false, "Also run a keep-recent prune pass after verifying")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("moss maintenance tool")
	log.Println("======================")

	r := installation.New(*root)
	log.Printf("Root: %s", r.Path)
	log.Printf("Dry run: %v", *dryRun)

	metaDB, err := meta.Open(r.MetaDBPath(), *dryRun)
	if err != nil {
		log.Fatalf("open meta db: %v", err)
	}
	defer metaDB.Close()

	stateDB, err := state.Open(r.StateDBPath(), *dryRun)
	if err != nil {
		log.Fatalf("open state db: %v", err)
	}
	defer stateDB.Close()

	layoutDB, err := layout.Open(r.LayoutDBPath(), *dryRun)
	if err != nil {
		log.Fatalf("open layout db: %v", err)
	}
	defer layoutDB.Close()

	if err := runVerify(r, layoutDB, stateDB); err != nil {
		log.Fatalf("verify: %v", err)
	}

	if *doPrune {
		if err := runPrune(r, stateDB, metaDB, layoutDB); err != nil {
			log.Fatalf("prune: %v", err)
		}
	}

	log.Println("\n✓ Maintenance pass complete")
}

func runVerify(r *installation.Root, layoutDB *layout.DB, stateDB *state.DB) error {
	entries, err := layoutDB.All()
	if err != nil {
		return fmt.Errorf("list layouts: %w", err)
	}
	log.Printf("Inspecting %d layout record(s)...", len(entries))

	stateIssues, err := verify.VerifyStates(stateDB, layoutDB, r)
	if err != nil {
		return fmt.Errorf("verify states: %w", err)
	}
	if len(stateIssues) == 0 {
		log.Println("✓ Every recorded state's VFS matches disk")
		return nil
	}

	log.Printf("⚠ %d state path issue(s) found:", len(stateIssues))
	for _, issue := range stateIssues {
		log.Printf("  - %s", issue.String())
	}
	return nil
}

func runPrune(r *installation.Root, stateDB *state.DB, metaDB *meta.DB, layoutDB *layout.DB) error {
	currentID, err := r.CurrentStateID()
	if err != nil {
		log.Println("✓ No active state recorded, nothing to prune against")
		return nil
	}

	strategy := prune.Strategy{Kind: prune.KeepRecent, Keep: *keep}
	plan, err := prune.Compute(strategy, stateDB, currentID)
	if err != nil {
		return err
	}
	if len(plan.States) == 0 {
		log.Println("✓ Nothing to prune")
		return nil
	}

	log.Printf("Pruning %d state(s), %d package(s) would become unreferenced", len(plan.States), len(plan.Packages))
	for _, s := range plan.States {
		log.Printf("  - state #%d (%s)", s.ID, s.Summary)
	}

	if *dryRun {
		log.Println("[DRY RUN] no changes made; re-run with -dry-run=false -prune to apply")
		return nil
	}

	backupDir := filepath.Join(r.MossDir(), "db.backup")
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	log.Printf("Backing up databases to %s before mutating", backupDir)
	for _, name := range []string{"meta", "state", "layout"} {
		src := filepath.Join(r.DBDir(), name)
		dst := filepath.Join(backupDir, name)
		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("backup %s: %w", name, err)
		}
	}

	result, err := prune.Execute(plan, stateDB, metaDB, layoutDB, r)
	if err != nil {
		return err
	}
	log.Printf("✓ Removed %d state(s), %d package(s), %d download(s), %d asset(s)",
		result.StatesRemoved, result.PackagesRemoved, result.DownloadsRemoved, result.AssetsRemoved)
	return nil
}

func copyFile(src, dst string) error {
	input, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, input, 0600)
}
