package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/moss/pkg/cache"
	"github.com/cuemby/moss/pkg/engine"
	"github.com/cuemby/moss/pkg/installation"
	"github.com/cuemby/moss/pkg/verify"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check installed assets and state trees for corruption, optionally repairing them",
	RunE: func(cmd *cobra.Command, args []string) error {
		fix, _ := cmd.Flags().GetBool("fix")

		root := installation.New(rootPath(cmd))

		var lockFile interface{ Close() error }
		if fix {
			l, err := acquireLock(root)
			if err != nil {
				return fmt.Errorf("acquire lock: %w", err)
			}
			lockFile = l
			defer lockFile.Close()
		}

		db, err := openRoot(root, !fix)
		if err != nil {
			return err
		}
		defer db.Close()

		c := cache.New(root)

		assetIssues, err := verify.VerifyAssets(db.layout, c)
		if err != nil {
			return fmt.Errorf("verify assets: %w", err)
		}
		stateIssues, err := verify.VerifyStates(db.state, db.layout, root)
		if err != nil {
			return fmt.Errorf("verify states: %w", err)
		}

		issues := append(assetIssues, stateIssues...)
		if len(issues) == 0 {
			fmt.Println("✓ No issues found")
			return nil
		}

		for _, issue := range issues {
			fmt.Println(issue.String())
		}

		if !fix {
			fmt.Printf("%d issue(s) found; re-run with --fix to repair\n", len(issues))
			return nil
		}

		if err := verify.RemoveCorruptAssets(assetIssues, c); err != nil {
			return fmt.Errorf("remove corrupt assets: %w", err)
		}

		affectedPackages := verify.AffectedPackages(assetIssues)
		states, err := db.state.All()
		if err != nil {
			return fmt.Errorf("list states: %w", err)
		}
		affectedStates := verify.AffectedStates(issues, states, affectedPackages)

		activeID, hasActive := func() (uint64, bool) {
			id, err := root.CurrentStateID()
			if err != nil {
				return 0, false
			}
			return uint64(id), true
		}()

		e := engine.New(root, db.layout, db.state, c)
		byID := make(map[uint64]int, len(states))
		for i, s := range states {
			byID[uint64(s.ID)] = i
		}

		for _, id := range affectedStates {
			idx, ok := byID[uint64(id)]
			if !ok {
				continue
			}
			isActive := hasActive && uint64(id) == activeID
			if err := verify.ReblitState(e, states[idx], isActive); err != nil {
				return fmt.Errorf("reblit state #%d: %w", id, err)
			}
			fmt.Printf("✓ Repaired state #%d\n", id)
		}

		return nil
	},
}

func init() {
	verifyCmd.Flags().Bool("fix", false, "Remove corrupt assets and reblit every affected state")
}
