// Package snowflake issues roughly time-ordered 63-bit ids. The bridge uses
// them for realtime connection ids and chunked upload sessions.
package snowflake

import (
	"errors"
	"strconv"
	"sync"
	"time"
)

const (
	nodeBits        = 10
	stepBits        = 12
	nodeMax         = -1 ^ (-1 << nodeBits)
	stepMask        = -1 ^ (-1 << stepBits)
	timeShift       = nodeBits + stepBits
	nodeShift       = stepBits
	epoch     int64 = 1704067200000 // 2024-01-01 00:00:00 UTC
)

type ID int64

func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Base36 is the compact form used in file names and URLs.
func (id ID) Base36() string {
	return strconv.FormatInt(int64(id), 36)
}

// Time returns the millisecond the id was generated in.
func (id ID) Time() time.Time {
	return time.UnixMilli(int64(id)>>timeShift + epoch)
}

// ParseBase36 reverses Base36.
func ParseBase36(s string) (ID, error) {
	n, err := strconv.ParseInt(s, 36, 64)
	if err != nil || n <= 0 {
		return 0, errors.New("snowflake: invalid id")
	}
	return ID(n), nil
}

type Node struct {
	mu    sync.Mutex
	time  int64
	node  int64
	step  int64
	nowFn func() int64
}

func NewNode(node int64) (*Node, error) {
	if node < 0 || node > nodeMax {
		return nil, errors.New("snowflake: node number must be between 0 and 1023")
	}
	return &Node{
		node:  node,
		nowFn: func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// Generate returns the next id. It never goes backwards: when the wall clock
// does, the last seen millisecond is reused.
func (n *Node) Generate() ID {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.nowFn()
	if now < n.time {
		now = n.time
	}

	if n.time == now {
		n.step = (n.step + 1) & stepMask
		if n.step == 0 {
			for now <= n.time {
				now = n.nowFn()
			}
		}
	} else {
		n.step = 0
	}
	n.time = now

	return ID(((now - epoch) << timeShift) | (n.node << nodeShift) | n.step)
}
