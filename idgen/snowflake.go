package idgen

import (
	"errors"
	"sync"
	"time"
)

const (
	// 起始时间戳 (2024-01-01 00:00:00 UTC)
	snowflakeEpoch int64 = 1704067200000

	nodeBits     = 10
	sequenceBits = 12

	maxNode     = -1 ^ (-1 << nodeBits)     // 1023
	maxSequence = -1 ^ (-1 << sequenceBits) // 4095

	nodeShift      = sequenceBits
	timestampShift = sequenceBits + nodeBits
)

var errClockBackwards = errors.New("idgen: clock moved backwards, refusing to generate id")

// Snowflake 生成 int64 主键（雪花算法），用于整型主键模型
type Snowflake struct {
	mux           sync.Mutex
	node          int64
	sequence      int64
	lastTimestamp int64
	now           func() time.Time
}

// NewSnowflake 创建生成器，node 取值 [0, 1023]
func NewSnowflake(node int64) (*Snowflake, error) {
	if node < 0 || node > maxNode {
		return nil, errors.New("idgen: snowflake node out of range")
	}
	return &Snowflake{node: node, lastTimestamp: -1, now: time.Now}, nil
}

// Next 实现 Generator
func (s *Snowflake) Next() (any, error) {
	id, err := s.NextID()
	if err != nil {
		return nil, err
	}
	return id, nil
}

// NextID 生成下一个ID
func (s *Snowflake) NextID() (int64, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	now := s.now().UnixMilli()
	if now < s.lastTimestamp {
		return 0, errClockBackwards
	}

	if now == s.lastTimestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			// 序列号用完，等待下一毫秒
			for now <= s.lastTimestamp {
				now = s.now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}
	s.lastTimestamp = now

	return ((now - snowflakeEpoch) << timestampShift) | (s.node << nodeShift) | s.sequence, nil
}

// ParseSnowflake 拆解ID为时间戳、节点与序列号
func ParseSnowflake(id int64) (timestamp time.Time, node int64, sequence int64) {
	ms := (id >> timestampShift) + snowflakeEpoch
	return time.UnixMilli(ms).UTC(), (id >> nodeShift) & maxNode, id & maxSequence
}
