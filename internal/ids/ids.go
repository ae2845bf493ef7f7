package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns a lexicographically sortable identifier suitable for refresh token records and families.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Node generates int64 row ids for clients and social accounts.
type Node struct {
	node *snowflake.Node
}

// NewNode creates a generator for the given snowflake node number.
func NewNode(n int64) (*Node, error) {
	node, err := snowflake.NewNode(n)
	if err != nil {
		return nil, err
	}
	return &Node{node: node}, nil
}

// Next returns a new unique id.
func (n *Node) Next() int64 {
	return n.node.Generate().Int64()
}
