// ABOUTME: Server-assigned message identifiers
// ABOUTME: Snowflake ids are time-ordered and unique per node

package chat

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// IDGenerator mints unique message ids at append time.
type IDGenerator interface {
	NewID() string
}

// SnowflakeIDs generates ids from a snowflake node.
type SnowflakeIDs struct {
	node *snowflake.Node
}

// NewSnowflakeIDs creates a generator for the given node id (0-1023).
func NewSnowflakeIDs(nodeID int64) (*SnowflakeIDs, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("creating snowflake node %d: %w", nodeID, err)
	}
	return &SnowflakeIDs{node: node}, nil
}

// NewID returns the next id as a decimal string. Strings keep the full
// 64 bits intact for JavaScript clients.
func (s *SnowflakeIDs) NewID() string {
	return s.node.Generate().String()
}
