package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.decentralis.dev/core/internal/chunking"
	"go.decentralis.dev/core/internal/derrors"
)

// config holds every DECENTRALIS_* environment variable read at
// startup, per spec.md §6.
type config struct {
	dataDir       string
	statusAddr    string
	rpcAddr       string
	trackerAddr   string
	rsK           int
	rsM           int
	chunkSizeMB   int
	retentionDays int
	debug         bool
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// loadConfig reads the DECENTRALIS_* environment, per spec.md §6.
// DECENTRALIS_TRACKER_ADDR is required: its absence is a fatal
// configuration error, not a default.
func loadConfig() (config, error) {
	exe, err := os.Executable()
	defaultDataDir := "data"
	if err == nil {
		defaultDataDir = filepath.Join(filepath.Dir(exe), "data")
	}

	tracker := os.Getenv("DECENTRALIS_TRACKER_ADDR")
	if tracker == "" {
		return config{}, fmt.Errorf("%w: DECENTRALIS_TRACKER_ADDR must be set", derrors.ErrConfiguration)
	}

	def := chunking.DefaultConfig()
	return config{
		dataDir:       envOr("DECENTRALIS_DATA_DIR", defaultDataDir),
		statusAddr:    envOr("DECENTRALIS_STATUS_ADDR", "127.0.0.1:9980"),
		rpcAddr:       envOr("DECENTRALIS_RPC_ADDR", ":9981"),
		trackerAddr:   tracker,
		rsK:           envIntOr("DECENTRALIS_RS_K", def.K),
		rsM:           envIntOr("DECENTRALIS_RS_M", def.M),
		chunkSizeMB:   envIntOr("DECENTRALIS_CHUNK_SIZE_MB", def.ChunkSizeMB),
		retentionDays: envIntOr("DECENTRALIS_RETENTION_DAYS", def.RetentionDays),
		debug:         os.Getenv("DECENTRALIS_DEBUG") != "",
	}, nil
}

func (c config) chunkingConfig() chunking.Config {
	return chunking.Config{
		K:             c.rsK,
		M:             c.rsM,
		ChunkSizeMB:   c.chunkSizeMB,
		LRCGroupSize:  chunking.DefaultConfig().LRCGroupSize,
		RetentionDays: c.retentionDays,
	}
}

func (c config) keyPath() string {
	return filepath.Join(c.dataDir, "key.json")
}

func (c config) dbPath() string {
	return filepath.Join(c.dataDir, "chunk_metadata.db")
}

func (c config) containerPath() string {
	return filepath.Join(c.dataDir, "storage", "container.dat")
}
