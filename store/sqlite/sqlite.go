// Package sqlite 基于 modernc.org/sqlite 的文档存储
//
// 所有集合共用一张表，文档以 BSON 编码保存；查询在进程内由 docquery 计算。
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	_ "modernc.org/sqlite"

	"docbind/document"
	"docbind/errors"
	"docbind/logging"
	"docbind/store/docquery"
)

// Config 连接配置
type Config struct {
	// DSN 数据源，例如 "file:docs.db" 或 ":memory:"
	DSN   string
	Table string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

// DefaultConfig 内存数据库配置
func DefaultConfig() Config {
	return Config{DSN: ":memory:", Table: "documents", MaxOpenConns: 1, PingTimeout: 3 * time.Second}
}

// Database sqlite 文档数据库
type Database struct {
	db    *sql.DB
	table string
}

var _ document.IDatabase = (*Database)(nil)

// Open 打开数据库并确保文档表存在
func Open(ctx context.Context, cfg Config) (*Database, error) {
	if cfg.DSN == "" {
		cfg.DSN = ":memory:"
	}
	if cfg.Table == "" {
		cfg.Table = "documents"
	}
	if !isSafeIdentifier(cfg.Table) {
		return nil, errors.NewError(errors.ErrCodeConfiguration,
			fmt.Sprintf("sqlite: unsafe table name %q", cfg.Table))
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeDatabase, "sqlite: open failed")
	}
	// :memory: 每个连接是独立数据库
	if cfg.DSN == ":memory:" {
		cfg.MaxOpenConns = 1
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errors.WrapDatabaseError(ctx, err, "ping")
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	collection TEXT NOT NULL,
	doc_id TEXT NOT NULL,
	body BLOB NOT NULL,
	UNIQUE (collection, doc_id)
)`, cfg.Table)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		_ = db.Close()
		return nil, errors.WrapDatabaseError(ctx, err, "create table")
	}
	logging.GetLogger().Debug(ctx, "sqlite store opened", logging.String("table", cfg.Table))
	return &Database{db: db, table: cfg.Table}, nil
}

// Close 关闭连接
func (d *Database) Close() error { return d.db.Close() }

// Collection 返回集合句柄
func (d *Database) Collection(name string) document.ICollection {
	return &Collection{db: d, name: name}
}

// Collection sqlite 集合
type Collection struct {
	db   *Database
	name string
}

var _ document.ICollection = (*Collection)(nil)

func (c *Collection) Name() string { return c.name }

// load 按插入顺序读取集合全部文档
func (c *Collection) load(ctx context.Context, name string) ([]bson.M, error) {
	rows, err := c.db.db.QueryContext(ctx,
		fmt.Sprintf("SELECT body FROM %s WHERE collection = ? ORDER BY seq", c.db.table), name)
	if err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "select", logging.String("collection", name))
	}
	defer rows.Close()
	var out []bson.M
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, errors.WrapDatabaseError(ctx, err, "scan", logging.String("collection", name))
		}
		doc, err := decode(body)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapDatabaseError(ctx, err, "rows", logging.String("collection", name))
	}
	return out, nil
}

func (c *Collection) Find(ctx context.Context, filter bson.D, opts document.FindOptions) (document.ICursor, error) {
	docs, err := c.load(ctx, c.name)
	if err != nil {
		return nil, err
	}
	found, err := docquery.Find(docs, filter, opts)
	if err != nil {
		return nil, err
	}
	return docquery.NewSliceCursor(found), nil
}

func (c *Collection) Aggregate(ctx context.Context, pipeline []bson.D, opts document.AggregateOptions) (document.ICursor, error) {
	docs, err := c.load(ctx, c.name)
	if err != nil {
		return nil, err
	}
	out, err := docquery.Run(ctx, docs, pipeline, c.load)
	if err != nil {
		return nil, err
	}
	return docquery.NewSliceCursor(out), nil
}

func (c *Collection) InsertOne(ctx context.Context, doc bson.M) error {
	id, ok := doc["_id"]
	if !ok || id == nil {
		return errors.NewError(errors.ErrCodeInvalidInput, "sqlite: document has no _id")
	}
	body, err := encode(doc)
	if err != nil {
		return err
	}
	_, err = c.db.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (collection, doc_id, body) VALUES (?, ?, ?)", c.db.table),
		c.name, idKey(id), body)
	if err != nil {
		return errors.WrapDatabaseError(ctx, err, "insert", logging.String("collection", c.name))
	}
	return nil
}

func (c *Collection) ReplaceOne(ctx context.Context, id any, doc bson.M) error {
	replacement := document.CopyM(doc)
	replacement["_id"] = id
	body, err := encode(replacement)
	if err != nil {
		return err
	}
	res, err := c.db.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET body = ? WHERE collection = ? AND doc_id = ?", c.db.table),
		body, c.name, idKey(id))
	if err != nil {
		return errors.WrapDatabaseError(ctx, err, "replace", logging.String("collection", c.name))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewError(errors.ErrCodeNotFound,
			fmt.Sprintf("sqlite: %v not found in %s", id, c.name))
	}
	return nil
}

// UpdateOne 在事务中读取、应用更新并写回；文档不存在时无操作
func (c *Collection) UpdateOne(ctx context.Context, id any, update bson.M) error {
	tx, err := c.db.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapDatabaseError(ctx, err, "begin", logging.String("collection", c.name))
	}
	defer func() { _ = tx.Rollback() }()

	var body []byte
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT body FROM %s WHERE collection = ? AND doc_id = ?", c.db.table),
		c.name, idKey(id)).Scan(&body)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return errors.WrapDatabaseError(ctx, err, "select", logging.String("collection", c.name))
	}
	doc, err := decode(body)
	if err != nil {
		return err
	}
	if err := docquery.ApplyUpdate(doc, update); err != nil {
		return err
	}
	if body, err = encode(doc); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET body = ? WHERE collection = ? AND doc_id = ?", c.db.table),
		body, c.name, idKey(id)); err != nil {
		return errors.WrapDatabaseError(ctx, err, "update", logging.String("collection", c.name))
	}
	if err := tx.Commit(); err != nil {
		return errors.WrapDatabaseError(ctx, err, "commit", logging.String("collection", c.name))
	}
	return nil
}

func (c *Collection) DeleteOne(ctx context.Context, id any) error {
	_, err := c.db.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE collection = ? AND doc_id = ?", c.db.table),
		c.name, idKey(id))
	if err != nil {
		return errors.WrapDatabaseError(ctx, err, "delete", logging.String("collection", c.name))
	}
	return nil
}
