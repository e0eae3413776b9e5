package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"go.decentralis.dev/core/internal/derrors"
)

// loadOrCreateSelfUUID returns this node's persistent owner/peer
// identity. A freshly initialized data directory mints one with
// uuid.New() and saves it so it survives restarts — the tracker's
// Announce call is preloaded with it (trackerclient.Client.SetUUID) so
// this node keeps the same peer_uuid, and therefore the same
// owner_uuid for the files it has already chunked, across restarts.
func loadOrCreateSelfUUID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, "node_uuid")
	if b, err := os.ReadFile(path); err == nil {
		return strings.TrimSpace(string(b)), nil
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return "", fmt.Errorf("%w: %v", derrors.ErrConfiguration, err)
	}
	id := uuid.New().String()
	if err := os.WriteFile(path, []byte(id), 0600); err != nil {
		return "", fmt.Errorf("%w: %v", derrors.ErrConfiguration, err)
	}
	return id, nil
}
