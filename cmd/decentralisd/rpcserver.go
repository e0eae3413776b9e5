package main

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"go.decentralis.dev/core/internal/chunkdb"
	"go.decentralis.dev/core/internal/chunkstore"
	"go.decentralis.dev/core/internal/rpcpeer"
)

type chunkReq struct {
	Owner    string `json:"owner"`
	FileUUID string `json:"file_uuid"`
	Idx      int    `json:"idx"`
	Role     string `json:"role"`
	SHA256   string `json:"sha256"`
	DataB64  string `json:"data_b64"`
}

func decodeChunkReq(req rpcpeer.Request) (chunkReq, error) {
	var p chunkReq
	err := json.Unmarshal(req.Params, &p)
	return p, err
}

// newPeerRPCServer builds the server side of spec.md §4.7's peer RPC
// protocol: get_chunk/store_chunk/delete_chunk, serving chunks this
// node holds on behalf of itself or any other peer. Every confirmed
// store is recorded in db so GetLocalStats can tell local chunks
// (owner == selfUUID) apart from chunks held for others.
func newPeerRPCServer(addr string, db *chunkdb.DB, store *chunkstore.Store, log *logrus.Entry) *rpcpeer.Server {
	srv := rpcpeer.NewServer(addr, log)

	srv.Register("get_chunk", func(ctx context.Context, req rpcpeer.Request) (interface{}, *rpcpeer.RPCError) {
		p, err := decodeChunkReq(req)
		if err != nil {
			return nil, &rpcpeer.RPCError{Code: rpcpeer.CodeMalformed, Message: err.Error()}
		}
		data, err := store.ReadChunk(p.Owner, p.FileUUID, p.Idx)
		if err != nil {
			return nil, &rpcpeer.RPCError{Code: rpcpeer.CodeChunkNotFound, Message: err.Error()}
		}
		sum := sha256.Sum256(data)
		return map[string]string{
			"data_b64": base64.StdEncoding.EncodeToString(data),
			"sha256":   hex.EncodeToString(sum[:]),
		}, nil
	})

	srv.Register("store_chunk", func(ctx context.Context, req rpcpeer.Request) (interface{}, *rpcpeer.RPCError) {
		p, err := decodeChunkReq(req)
		if err != nil {
			return nil, &rpcpeer.RPCError{Code: rpcpeer.CodeMalformed, Message: err.Error()}
		}
		data, err := base64.StdEncoding.DecodeString(p.DataB64)
		if err != nil {
			return nil, &rpcpeer.RPCError{Code: rpcpeer.CodeMalformed, Message: err.Error()}
		}
		sum := sha256.Sum256(data)
		if p.SHA256 != "" && hex.EncodeToString(sum[:]) != p.SHA256 {
			return nil, &rpcpeer.RPCError{Code: rpcpeer.CodeSHAMismatch, Message: "sha256 mismatch"}
		}
		if err := store.WriteChunk(p.Owner, p.FileUUID, p.Idx, data); err != nil {
			return nil, &rpcpeer.RPCError{Code: rpcpeer.CodeStorageFull, Message: err.Error()}
		}
		if err := db.PutChunk(chunkdb.Chunk{
			OwnerUUID: p.Owner,
			FileUUID:  p.FileUUID,
			Index:     p.Idx,
			Role:      p.Role,
			SizeBytes: len(data),
			SHA256:    hex.EncodeToString(sum[:]),
			StoredAt:  time.Now(),
		}); err != nil {
			return nil, &rpcpeer.RPCError{Code: rpcpeer.CodeStorageFull, Message: err.Error()}
		}
		return map[string]bool{"ok": true}, nil
	})

	srv.Register("delete_chunk", func(ctx context.Context, req rpcpeer.Request) (interface{}, *rpcpeer.RPCError) {
		p, err := decodeChunkReq(req)
		if err != nil {
			return nil, &rpcpeer.RPCError{Code: rpcpeer.CodeMalformed, Message: err.Error()}
		}
		if err := store.DeleteChunk(p.Owner, p.FileUUID, p.Idx); err != nil {
			return nil, &rpcpeer.RPCError{Code: rpcpeer.CodeChunkNotFound, Message: err.Error()}
		}
		if err := db.DeleteChunk(p.Owner, p.FileUUID, p.Idx); err != nil {
			return nil, &rpcpeer.RPCError{Code: rpcpeer.CodeChunkNotFound, Message: err.Error()}
		}
		return map[string]bool{"ok": true}, nil
	})

	return srv
}
