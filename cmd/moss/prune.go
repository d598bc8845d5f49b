package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/moss/pkg/installation"
	"github.com/cuemby/moss/pkg/prune"
	"github.com/cuemby/moss/pkg/types"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove old states and reclaim orphaned downloads/assets",
	RunE: func(cmd *cobra.Command, args []string) error {
		keep, _ := cmd.Flags().GetUint64("keep")
		includeNewer, _ := cmd.Flags().GetBool("include-newer")
		stateID, _ := cmd.Flags().GetUint64("state")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		root := installation.New(rootPath(cmd))

		lockFile, err := acquireLock(root)
		if err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		defer lockFile.Close()

		db, err := openRoot(root, false)
		if err != nil {
			return err
		}
		defer db.Close()

		currentID, hasCurrent, err := currentStateID(root)
		if err != nil {
			return err
		}
		if !hasCurrent {
			return prune.ErrNoActiveState
		}

		var strategy prune.Strategy
		if cmd.Flags().Changed("state") {
			strategy = prune.Strategy{Kind: prune.RemoveOne, StateID: types.StateID(stateID)}
		} else {
			strategy = prune.Strategy{Kind: prune.KeepRecent, Keep: keep, IncludeNewer: includeNewer}
		}

		plan, err := prune.Compute(strategy, db.state, currentID)
		if err != nil {
			return err
		}
		if len(plan.States) == 0 {
			fmt.Println("nothing to prune")
			return nil
		}

		fmt.Printf("Pruning %d state(s), %d package(s) will become unreferenced:\n", len(plan.States), len(plan.Packages))
		for _, s := range plan.States {
			fmt.Printf("  - state #%d (%s)\n", s.ID, s.Summary)
		}

		if dryRun {
			fmt.Println("(dry run, nothing removed)")
			return nil
		}

		result, err := prune.Execute(plan, db.state, db.meta, db.layout, root)
		if err != nil {
			return err
		}

		fmt.Printf("✓ Removed %d state(s), %d package(s), %d download(s), %d asset(s)\n",
			result.StatesRemoved, result.PackagesRemoved, result.DownloadsRemoved, result.AssetsRemoved)
		return nil
	},
}

func currentStateID(root *installation.Root) (types.StateID, bool, error) {
	id, err := root.CurrentStateID()
	if err != nil {
		return 0, false, nil
	}
	return id, true, nil
}

func init() {
	pruneCmd.Flags().Uint64("keep", 2, "Number of recent states to retain")
	pruneCmd.Flags().Bool("include-newer", false, "Also consider states newer than the active one")
	pruneCmd.Flags().Uint64("state", 0, "Remove exactly this state id instead of applying --keep")
	pruneCmd.Flags().Bool("dry-run", false, "Show what would be removed without removing it")
}
