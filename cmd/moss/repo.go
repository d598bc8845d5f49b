package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/moss/pkg/config"
	"github.com/cuemby/moss/pkg/installation"
)

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage configured package repositories",
}

var repoAddCmd = &cobra.Command{
	Use:   "add <id> <uri>",
	Short: "Add a repository to this installation's configuration",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, uri := args[0], args[1]
		priority, _ := cmd.Flags().GetUint64("priority")
		description, _ := cmd.Flags().GetString("description")

		root := installation.New(rootPath(cmd))
		cfg := config.NewManager(config.System(root.Path), "moss")

		entry := config.RepoEntry{URI: uri, Description: description, Priority: priority}
		if err := cfg.SaveRepoMap(id, config.RepoMap{id: entry}); err != nil {
			return fmt.Errorf("save repo config: %w", err)
		}

		fmt.Printf("✓ Added repository %q (priority %d)\n", id, priority)
		fmt.Println("Run `moss sync` to fetch its index.")
		return nil
	},
}

var repoListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured repositories",
	RunE: func(cmd *cobra.Command, args []string) error {
		root := installation.New(rootPath(cmd))
		cfg := config.NewManager(config.System(root.Path), "moss")

		repos, err := cfg.LoadRepoMap()
		if err != nil {
			return fmt.Errorf("load repo config: %w", err)
		}
		if len(repos) == 0 {
			fmt.Println("no repositories configured")
			return nil
		}

		fmt.Printf("%-20s %-10s %-40s %s\n", "ID", "PRIORITY", "URI", "DESCRIPTION")
		for _, entry := range repos.Sorted() {
			fmt.Printf("%-20s %-10d %-40s %s\n", entry.ID, entry.Priority, entry.URI, entry.Description)
		}
		return nil
	},
}

func init() {
	repoAddCmd.Flags().Uint64("priority", 0, "Resolution priority (higher wins on provider conflicts)")
	repoAddCmd.Flags().String("description", "", "Human-readable description")

	repoCmd.AddCommand(repoAddCmd)
	repoCmd.AddCommand(repoListCmd)
}
