package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cuemby/moss/pkg/config"
	"github.com/cuemby/moss/pkg/installation"
	"github.com/cuemby/moss/pkg/registry"
)

var infoCmd = &cobra.Command{
	Use:   "info <package>",
	Short: "Show detailed metadata for a package",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
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

		pkg, err := resolvePackage(reg, args[0])
		if err != nil {
			return err
		}

		m := pkg.Meta
		fmt.Printf("Name           : %s\n", m.Name)
		fmt.Printf("Version        : %s\n", m.VersionID)
		fmt.Printf("Release        : %d (build %d)\n", m.SourceRelease, m.BuildRelease)
		fmt.Printf("Architecture   : %s\n", m.Architecture)
		fmt.Printf("Summary        : %s\n", m.Summary)
		fmt.Printf("Description    : %s\n", m.Description)
		fmt.Printf("Homepage       : %s\n", m.Homepage)
		fmt.Printf("Licenses       : %s\n", strings.Join(m.Licenses, ", "))
		fmt.Printf("Installed      : %t\n", pkg.Flags.Contains(registry.FlagInstalled))
		fmt.Printf("Available      : %t\n", pkg.Flags.Contains(registry.FlagAvailable))

		if len(m.Dependencies) > 0 {
			fmt.Println("Dependencies   :")
			for _, d := range m.Dependencies {
				fmt.Printf("  - %s\n", d.String())
			}
		}
		if len(m.Providers) > 0 {
			fmt.Println("Provides       :")
			for _, p := range m.Providers {
				fmt.Printf("  - %s\n", p.String())
			}
		}
		if len(m.Conflicts) > 0 {
			fmt.Println("Conflicts      :")
			for _, c := range m.Conflicts {
				fmt.Printf("  - %s\n", c.String())
			}
		}
		return nil
	},
}
