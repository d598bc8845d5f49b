package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cuemby/moss/pkg/cache"
	"github.com/cuemby/moss/pkg/engine"
	"github.com/cuemby/moss/pkg/installation"
	"github.com/cuemby/moss/pkg/types"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and roll back installation states",
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every recorded state",
	RunE: func(cmd *cobra.Command, args []string) error {
		root := installation.New(rootPath(cmd))

		db, err := openRoot(root, true)
		if err != nil {
			return err
		}
		defer db.Close()

		states, err := db.state.All()
		if err != nil {
			return fmt.Errorf("list states: %w", err)
		}

		activeID, hasActive := func() (types.StateID, bool) {
			id, err := root.CurrentStateID()
			if err != nil {
				return 0, false
			}
			return id, true
		}()

		fmt.Printf("%-6s %-6s %-25s %s\n", "ID", "", "CREATED", "SUMMARY")
		for _, s := range states {
			marker := " "
			if hasActive && s.ID == activeID {
				marker = "*"
			}
			fmt.Printf("%-6d %-6s %-25s %s\n", s.ID, marker, s.Created.Format("2006-01-02 15:04:05"), s.Summary)
		}
		return nil
	},
}

var stateActivateCmd = &cobra.Command{
	Use:   "activate <id>",
	Short: "Activate a previously recorded state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		skipTriggers, _ := cmd.Flags().GetBool("skip-triggers")

		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid state id %q: %w", args[0], err)
		}

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

		c := cache.New(root)
		e := engine.New(root, db.layout, db.state, c)

		oldID, err := e.ActivateState(types.StateID(id), skipTriggers)
		if err != nil {
			return fmt.Errorf("activate state #%d: %w", id, err)
		}

		fmt.Printf("✓ Activated state #%d (was #%d)\n", id, oldID)
		return nil
	},
}

func init() {
	stateActivateCmd.Flags().Bool("skip-triggers", false, "Skip running system triggers after activation")

	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateActivateCmd)
}
