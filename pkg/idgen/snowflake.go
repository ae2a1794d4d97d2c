package idgen

import (
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ============================================================================
// Snowflake ID generator
// ============================================================================
//
// Primary keys and human facing numbers share one snowflake node per process:
//
//   - roughly time ordered, which keeps b-tree inserts append-mostly
//   - unique across instances as long as every instance gets its own node ID
//   - does not leak business volume the way an auto-increment would
//
// ============================================================================

var (
	defaultNode *snowflake.Node
	once        sync.Once
	initErr     error
)

// Init sets up the default node. Only the first call has any effect.
func Init(nodeID int64) error {
	once.Do(func() {
		defaultNode, initErr = snowflake.NewNode(nodeID)
	})
	return initErr
}

// NextID returns a new snowflake ID, lazily initialising node 1.
func NextID() int64 {
	if err := Init(1); err != nil {
		panic(fmt.Sprintf("idgen: %v", err))
	}
	return defaultNode.Generate().Int64()
}

// GenerateTransactionNo returns a ledger transaction number.
// Format: GCT + yyyyMMdd + snowflake ID
func GenerateTransactionNo() string {
	return number("GCT")
}

func number(prefix string) string {
	return fmt.Sprintf("%s%s%d", prefix, time.Now().Format("20060102"), NextID())
}
