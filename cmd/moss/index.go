package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cuemby/moss/pkg/digest"
	"github.com/cuemby/moss/pkg/ingest"
	"github.com/cuemby/moss/pkg/registry"
	"github.com/cuemby/moss/pkg/types"
)

var indexCmd = &cobra.Command{
	Use:   "index <directory>",
	Short: "Build a repository index from a directory of .stone packages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]

		entries, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("read %s: %w", dir, err)
		}

		builder := registry.NewIndexBuilder()
		count := 0

		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".stone") {
				continue
			}

			path := filepath.Join(dir, e.Name())
			m, err := indexOnePackage(path, e.Name())
			if err != nil {
				return fmt.Errorf("index %s: %w", path, err)
			}

			builder.Add(m)
			count++
		}

		outPath := filepath.Join(dir, "index.stone")
		out, err := os.Create(outPath)
		if err != nil {
			return err
		}
		defer out.Close()

		if err := builder.Write(out, dir); err != nil {
			return fmt.Errorf("write index: %w", err)
		}

		fmt.Printf("✓ Indexed %d package(s) into %s\n", count, outPath)
		return nil
	},
}

// indexOnePackage reads path's metadata and stamps it with the download
// location an installer will use: the file's name as its URI (resolved
// relative to the repository root) and its whole-file hash and size.
func indexOnePackage(path, name string) (types.Meta, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.Meta{}, err
	}
	defer f.Close()

	pkg, err := ingest.ReadPackage(f)
	if err != nil {
		return types.Meta{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return types.Meta{}, err
	}

	hash, err := hashFile(path)
	if err != nil {
		return types.Meta{}, err
	}

	m := pkg.Meta
	m.URI = name
	m.Hash = hash
	m.DownloadSize = uint64(info.Size())
	m.HasURI, m.HasHash, m.HasDownload = true, true, true
	return m, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	sink := digest.NewCountingSink()
	if _, err := io.Copy(sink, f); err != nil {
		return "", err
	}
	return digest.FormatHash128(sink.Sum128()), nil
}
