// Package store declares the boundary interface to the out-of-scope disk
// block store and state snapshotting collaborator. The core
// only needs "append block" and "load at height"; the durable
// implementation, compaction, and snapshot machinery live elsewhere.
package store

import (
	"context"
	"fmt"

	"github.com/irohad/sumeragi/internal/core"
)

// ErrNotFound is returned by Load when no block exists at the requested
// height.
var ErrNotFound = fmt.Errorf("store: block not found")

// BlockStore durably appends committed blocks and loads them back by
// height.
type BlockStore interface {
	// Append durably appends a committed block. From the core's
	// perspective this is infallible: errors are logged by the caller,
	// never propagated into the consensus state machine.
	Append(ctx context.Context, block core.Block) error
	// Load returns the block at the given height, or ErrNotFound.
	Load(ctx context.Context, height uint64) (core.Block, error)
}
