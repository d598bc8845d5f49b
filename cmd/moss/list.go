package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/cuemby/moss/pkg/config"
	"github.com/cuemby/moss/pkg/installation"
	"github.com/cuemby/moss/pkg/registry"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed or available packages",
	RunE: func(cmd *cobra.Command, args []string) error {
		availableOnly, _ := cmd.Flags().GetBool("available")

		root := installation.New(rootPath(cmd))

		db, err := openRoot(root, true)
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

		var pkgs []registry.Package
		if availableOnly {
			pkgs = reg.ListAvailable(registry.Flags(0))
		} else {
			pkgs = reg.ListInstalled(registry.Flags(0))
		}
		sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Meta.Name < pkgs[j].Meta.Name })

		fmt.Printf("%-30s %-15s %-10s %s\n", "NAME", "VERSION", "RELEASE", "SUMMARY")
		for _, pkg := range pkgs {
			m := pkg.Meta
			fmt.Printf("%-30s %-15s %-10d %s\n", m.Name, m.VersionID, m.SourceRelease, m.Summary)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().Bool("available", false, "List packages available from configured repositories instead of installed ones")
}
