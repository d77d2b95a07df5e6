package aggregation

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"

	"docbind/association"
	"docbind/document"
	"docbind/errors"
	"docbind/logging"
)

// Cursor 单向、不可重启的结果游标
//
// 模型模式下，若管道记录了 $lookup 关联，连接结果会还原为目标模型文档
// 并与宿主文档双向关联。
type Cursor struct {
	cur      document.ICursor
	pipeline Pipeline

	raw bson.M
	doc *document.Document
	err error
}

// Next 读取下一条结果
func (c *Cursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	c.raw, c.doc = nil, nil
	if !c.cur.Next(ctx) {
		return false
	}
	var raw bson.M
	if err := c.cur.Decode(&raw); err != nil {
		c.err = errors.WrapDatabaseError(ctx, err, "decode", logging.Model(c.pipeline.model.Name()))
		return false
	}
	raw, _ = document.ToM(raw)
	c.raw = raw
	if c.pipeline.opts.raw {
		return true
	}
	doc, err := c.materialize(raw)
	if err != nil {
		c.err = err
		return false
	}
	c.doc = doc
	return true
}

func (c *Cursor) materialize(raw bson.M) (*document.Document, error) {
	p := c.pipeline
	a := p.opts.lookup
	if a == nil {
		return document.Instantiate(p.model, raw), nil
	}
	attrs := document.CopyM(raw)
	joined, _ := document.ToSlice(attrs[p.opts.lookupAs])
	delete(attrs, p.opts.lookupAs)
	host := document.Instantiate(p.model, attrs)

	cls, err := a.RelationClass()
	if err != nil {
		return nil, err
	}
	targets := make([]*document.Document, 0, len(joined))
	for _, item := range joined {
		m, ok := document.ToM(item)
		if !ok {
			continue
		}
		targets = append(targets, document.Instantiate(cls, m))
	}
	if err := association.AttachLoaded(host, a, targets); err != nil {
		return nil, err
	}
	return host, nil
}

// Document 当前模型结果，原始模式下为 nil
func (c *Cursor) Document() *document.Document { return c.doc }

// Raw 当前原始结果
func (c *Cursor) Raw() bson.M { return c.raw }

// Err 迭代错误
func (c *Cursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.cur.Err()
}

// Close 关闭底层游标
func (c *Cursor) Close(ctx context.Context) error {
	return c.cur.Close(ctx)
}
