package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cuemby/moss/pkg/config"
	"github.com/cuemby/moss/pkg/db/meta"
	"github.com/cuemby/moss/pkg/ingest"
	"github.com/cuemby/moss/pkg/installation"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Refresh every configured repository's package index",
	RunE: func(cmd *cobra.Command, args []string) error {
		root := installation.New(rootPath(cmd))
		if err := root.Scaffold(); err != nil {
			return err
		}

		lockFile, err := acquireLock(root)
		if err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		defer lockFile.Close()

		cfg := config.NewManager(config.System(root.Path), "moss")
		repos, err := cfg.LoadRepoMap()
		if err != nil {
			return fmt.Errorf("load repo config: %w", err)
		}
		if len(repos) == 0 {
			fmt.Println("no repositories configured")
			return nil
		}

		for _, entry := range repos.Sorted() {
			if err := syncOne(root, entry.ID, entry.URI); err != nil {
				return fmt.Errorf("sync %s: %w", entry.ID, err)
			}
			fmt.Printf("✓ Synced %s\n", entry.ID)
		}
		return nil
	},
}

// syncOne downloads id's index stone from uri and rebuilds its local meta
// database from scratch, so a sync never leaves stale entries behind.
func syncOne(root *installation.Root, id, uri string) error {
	dir := filepath.Join(root.RepoDir(), id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp := filepath.Join(dir, "index.stone.tmp")
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := httpFetch(uri, out); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("download index: %w", err)
	}
	out.Close()

	f, err := os.Open(tmp)
	if err != nil {
		return err
	}
	metas, err := ingest.ReadIndex(f)
	f.Close()
	os.Remove(tmp)
	if err != nil {
		return fmt.Errorf("decode index: %w", err)
	}

	dbPath := repoIndexPath(root, id)
	os.Remove(dbPath)

	db, err := meta.Open(dbPath, false)
	if err != nil {
		return fmt.Errorf("open local index db: %w", err)
	}
	defer db.Close()

	if err := db.PutBatch(metas); err != nil {
		return fmt.Errorf("store index: %w", err)
	}
	return nil
}
