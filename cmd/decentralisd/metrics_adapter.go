package main

import (
	"go.decentralis.dev/core/internal/chunking"
	"go.decentralis.dev/core/internal/metrics"
)

// chunkStatusAdapter satisfies metrics.StatusProvider by forwarding to
// a chunking.Manager and converting its Status into metrics.FileStatus
// field-for-field, so internal/metrics never has to import
// internal/chunking directly.
type chunkStatusAdapter struct {
	mgr  *chunking.Manager
	self string
}

func (a chunkStatusAdapter) GetFileStatus(fileUUID, ownerUUID string) (metrics.FileStatus, error) {
	s, err := a.mgr.GetFileStatus(fileUUID, ownerUUID)
	if err != nil {
		return metrics.FileStatus{}, err
	}
	return metrics.FileStatus{
		FileUUID:        s.FileUUID,
		Required:        s.Required,
		AvailableLocal:  s.AvailableLocal,
		AvailableRemote: s.AvailableRemote,
		Reachable:       s.Reachable,
		Reconstructable: s.Reconstructable,
		Degraded:        s.Degraded,
	}, nil
}
