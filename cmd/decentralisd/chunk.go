package main

import (
	"log"
	"os"
	"path/filepath"

	"github.com/ryanuber/go-glob"
	"github.com/spf13/cobra"
)

var (
	chunkGlob       string
	chunkDistribute bool
)

var chunkCmd = &cobra.Command{
	Use:   "chunk <path>",
	Short: "erasure-code and store a file (or, with --glob, every matching file in its directory)",
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) != 1 {
			cmd.Usage()
			os.Exit(exitUserErr)
		}

		cfg, err := loadConfig()
		if err != nil {
			die(exitUserErr, err)
		}
		st, err := openState(cfg)
		if err != nil {
			die(exitInternal, err)
		}
		defer st.Close()

		paths, err := chunkTargets(args[0], chunkGlob)
		if err != nil {
			die(exitUserErr, err)
		}

		var failures int
		for _, path := range paths {
			fileUUID, err := st.mgr.ChunkFile(path, st.selfID)
			if err != nil {
				log.Printf("failed to chunk %s: %v", path, err)
				failures++
				continue
			}
			log.Printf("chunked %s as %s", path, fileUUID)

			if chunkDistribute {
				report, err := st.mgr.DistributeChunks(fileUUID, st.selfID)
				if err != nil {
					log.Printf("failed to distribute %s: %v", fileUUID, err)
					failures++
					continue
				}
				log.Printf("%s: distributed %d/%d chunks, %d left local", fileUUID, report.Distributed, report.TotalChunks, report.LeftLocal)
			}
		}
		if failures > 0 {
			os.Exit(exitInternal)
		}
	},
}

func init() {
	chunkCmd.Flags().StringVar(&chunkGlob, "glob", "", "chunk every file in path's directory matching this shell glob instead of a single file")
	chunkCmd.Flags().BoolVar(&chunkDistribute, "distribute", false, "run distribute_chunks on each file immediately after chunking it")
}

// chunkTargets resolves a single path (pattern == "") or every sibling
// of path whose name matches pattern, using the same glob matcher
// go-glob provides (ryanuber/go-glob, already a direct teacher-pack
// dependency) rather than filepath.Match's more limited syntax.
func chunkTargets(path, pattern string) ([]string, error) {
	if pattern == "" {
		return []string{path}, nil
	}

	dir := path
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		dir = filepath.Dir(path)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var matches []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if glob.Glob(pattern, e.Name()) {
			matches = append(matches, filepath.Join(dir, e.Name()))
		}
	}
	return matches, nil
}
