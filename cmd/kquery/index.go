package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kquery/kquery/internal/filegate"
	"github.com/kquery/kquery/internal/kbuild"
	"github.com/kquery/kquery/internal/kqerr"
	"github.com/kquery/kquery/internal/log"
	"github.com/kquery/kquery/internal/metadata"
)

var (
	sourceFlag   string
	codingFlag   string
	compressFlag string
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build or refresh the index",
	RunE: func(cmd *cobra.Command, args []string) error {
		coding, err := metadata.ParseCoding(resolveFlag(cmd, "coding", codingFlag, "KQUERY_CODING"))
		if err != nil {
			return err
		}
		compress, err := metadata.ParseCompress(resolveFlag(cmd, "compress", compressFlag, "KQUERY_COMPRESS"))
		if err != nil {
			return err
		}

		gate, err := filegate.New(sourceFlag)
		if err != nil {
			return err
		}

		fmt.Printf("Creating index for %s...\n", gate.BaseDir())

		store, err := kbuild.Crawl(globalCtx, gate, log.Default())
		if err != nil {
			return err
		}

		dataDir := dataFlag
		if !cmd.Flags().Changed("data") {
			dataDir = gate.BaseDir()
		}
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return kqerr.Wrap(kqerr.IO, dataDir, "create data directory", err)
		}

		opts := metadata.Options{Coding: coding, Compress: compress}
		path, err := metadata.WriteFile(store, dataDir, opts)
		if err != nil {
			return err
		}

		fmt.Printf("Done! Wrote %s\n", path)
		return nil
	},
}

func init() {
	indexCmd.Flags().StringVarP(&sourceFlag, "source", "s", ".", "Source root directory")
	indexCmd.Flags().StringVarP(&codingFlag, "coding", "f", metadata.JSON.String(), "Data coding (json|json-pretty|cbor)")
	indexCmd.Flags().StringVarP(&compressFlag, "compress", "z", metadata.NoCompress.String(), "Data compression (no|lz4)")
}

// resolveFlag prefers an explicitly-passed flag value over the given
// environment variable, falling back to the flag's default.
func resolveFlag(cmd *cobra.Command, flagName, flagValue, envVar string) string {
	if cmd.Flags().Changed(flagName) {
		return flagValue
	}
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return flagValue
}
