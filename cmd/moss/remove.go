package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/moss/pkg/cache"
	"github.com/cuemby/moss/pkg/config"
	"github.com/cuemby/moss/pkg/engine"
	"github.com/cuemby/moss/pkg/installation"
	"github.com/cuemby/moss/pkg/resolver"
	"github.com/cuemby/moss/pkg/types"
)

var removeCmd = &cobra.Command{
	Use:   "remove <package>...",
	Short: "Remove one or more packages and anything that depends on them",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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

		active, hasActive, err := currentState(root, db.state)
		if err != nil {
			return fmt.Errorf("load current state: %w", err)
		}
		if !hasActive {
			return fmt.Errorf("installation has nothing installed")
		}

		cfg := config.NewManager(config.System(root.Path), "moss")
		reg, closeRepos, err := buildRegistry(root, db.meta, active, cfg)
		if err != nil {
			return err
		}
		defer closeRepos()

		targets := make([]types.PackageID, 0, len(args))
		for _, arg := range args {
			pkg, err := resolvePackage(reg, arg)
			if err != nil {
				return err
			}
			targets = append(targets, pkg.ID)
		}

		tx, err := resolver.NewWithInstalled(reg, installedIDs(active))
		if err != nil {
			return fmt.Errorf("seed transaction from current state: %w", err)
		}
		tx.Remove(targets)

		order, err := tx.Finalize()
		if err != nil {
			return err
		}

		explicit := make(map[types.PackageID]bool, len(active.Selections))
		reasons := make(map[types.PackageID]string, len(active.Selections))
		for _, sel := range active.Selections {
			explicit[sel.PackageID] = sel.Explicit
			reasons[sel.PackageID] = sel.Reason
		}

		selections := make([]types.Selection, 0, len(order))
		for _, id := range order {
			selections = append(selections, types.Selection{PackageID: id, Explicit: explicit[id], Reason: reasons[id]})
		}

		c := cache.New(root)
		e := engine.New(root, db.layout, db.state, c)
		summary := fmt.Sprintf("remove %v", args)
		st, err := e.Apply(selections, summary, "")
		if err != nil {
			return fmt.Errorf("apply transaction: %w", err)
		}

		fmt.Printf("✓ Removed %d package(s), now at state #%d\n", len(active.Selections)-len(order), st.ID)
		return nil
	},
}
