package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/cuemby/moss/pkg/cache"
	"github.com/cuemby/moss/pkg/config"
	"github.com/cuemby/moss/pkg/engine"
	"github.com/cuemby/moss/pkg/installation"
	"github.com/cuemby/moss/pkg/registry"
	"github.com/cuemby/moss/pkg/resolver"
	"github.com/cuemby/moss/pkg/types"
	"github.com/cuemby/moss/pkg/workerpool"
)

// maxNetworkConcurrency bounds simultaneous package downloads, mirroring the
// original's environment::MAX_NETWORK_CONCURRENCY used to throttle
// buffer_unordered fetch streams.
const maxNetworkConcurrency = 4

var installCmd = &cobra.Command{
	Use:   "install <package>...",
	Short: "Install one or more packages",
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

		active, _, err := currentState(root, db.state)
		if err != nil {
			return fmt.Errorf("load current state: %w", err)
		}

		cfg := config.NewManager(config.System(root.Path), "moss")
		reg, closeRepos, err := buildRegistry(root, db.meta, active, cfg)
		if err != nil {
			return err
		}
		defer closeRepos()

		c := cache.New(root)
		cobble := registry.NewCobble()
		reg.AddPlugin(registry.NewCobblePlugin(cobble))

		incoming := make([]types.PackageID, 0, len(args))
		for _, arg := range args {
			if isLooseStonePath(arg) {
				id, err := ingestLooseStone(arg, c, db.meta, db.layout, cobble)
				if err != nil {
					return err
				}
				incoming = append(incoming, id)
				continue
			}
			pkg, err := resolvePackage(reg, arg)
			if err != nil {
				return err
			}
			incoming = append(incoming, pkg.ID)
		}

		installed := installedIDs(active)
		tx, err := resolver.NewWithInstalled(reg, installed)
		if err != nil {
			return fmt.Errorf("seed transaction from current state: %w", err)
		}
		if err := tx.Add(incoming); err != nil {
			return fmt.Errorf("resolve dependencies: %w", err)
		}

		order, err := tx.Finalize()
		if err != nil {
			return err
		}

		explicit := make(map[types.PackageID]bool, len(incoming))
		for _, id := range incoming {
			explicit[id] = true
		}
		for _, sel := range active.Selections {
			if sel.Explicit {
				explicit[sel.PackageID] = true
			}
		}

		var printMu sync.Mutex
		var jobs []workerpool.Job
		for _, id := range order {
			pkg, ok := reg.ByID(id)
			if !ok {
				return fmt.Errorf("internal: resolved package %s vanished from registry", id)
			}
			if pkg.Flags.Contains(registry.FlagInstalled) || pkg.Flags.Contains(registry.FlagSource) {
				continue
			}
			meta := pkg.Meta
			jobs = append(jobs, func(ctx context.Context) error {
				if err := cachePackage(meta, c, db.meta, db.layout); err != nil {
					return fmt.Errorf("fetch %s: %w", meta.ID, err)
				}
				printMu.Lock()
				fmt.Printf("Fetched %s\n", meta.ID)
				printMu.Unlock()
				return nil
			})
		}
		if err := workerpool.Run(cmd.Context(), maxNetworkConcurrency, jobs); err != nil {
			return err
		}

		selections := make([]types.Selection, 0, len(order))
		for _, id := range order {
			reason := ""
			if !explicit[id] {
				reason = "dependency"
			}
			selections = append(selections, types.Selection{PackageID: id, Explicit: explicit[id], Reason: reason})
		}

		e := engine.New(root, db.layout, db.state, c)
		summary := fmt.Sprintf("install %v", args)
		st, err := e.Apply(selections, summary, "")
		if err != nil {
			return fmt.Errorf("apply transaction: %w", err)
		}

		fmt.Printf("✓ Installed %d package(s), now at state #%d\n", len(order), st.ID)
		return nil
	},
}

func installedIDs(st types.State) []types.PackageID {
	ids := make([]types.PackageID, 0, len(st.Selections))
	for _, sel := range st.Selections {
		ids = append(ids, sel.PackageID)
	}
	return ids
}
