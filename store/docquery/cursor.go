package docquery

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"docbind/document"
)

// SliceCursor 基于内存切片的游标
type SliceCursor struct {
	docs   []bson.M
	pos    int
	closed bool
}

var _ document.ICursor = (*SliceCursor)(nil)

// NewSliceCursor 创建游标，docs 由游标持有
func NewSliceCursor(docs []bson.M) *SliceCursor {
	return &SliceCursor{docs: docs, pos: -1}
}

func (c *SliceCursor) Next(ctx context.Context) bool {
	if c.closed || ctx.Err() != nil {
		return false
	}
	c.pos++
	return c.pos < len(c.docs)
}

// Decode 支持 *bson.M 直接拷贝，其余类型经 BSON 编解码
func (c *SliceCursor) Decode(v any) error {
	if c.pos < 0 || c.pos >= len(c.docs) {
		return fmt.Errorf("docquery: cursor is not positioned on a document")
	}
	current := c.docs[c.pos]
	switch out := v.(type) {
	case *bson.M:
		*out = document.CopyM(current)
		return nil
	case *map[string]any:
		*out = map[string]any(document.CopyM(current))
		return nil
	}
	raw, err := bson.Marshal(current)
	if err != nil {
		return err
	}
	return bson.Unmarshal(raw, v)
}

func (c *SliceCursor) Err() error { return nil }

func (c *SliceCursor) Close(ctx context.Context) error {
	c.closed = true
	return nil
}

// Remaining 剩余文档数
func (c *SliceCursor) Remaining() int {
	if c.pos < 0 {
		return len(c.docs)
	}
	return max(0, len(c.docs)-c.pos-1)
}
