package document

import (
	"fmt"
	"sync"
	"time"

	"docbind/errors"
	"docbind/logging"
)

// Config 注册表级配置
type Config struct {
	// BelongsToRequiredByDefault 未显式声明 Optional/Required 时 belongs_to 是否必填
	BelongsToRequiredByDefault bool
	// Logger 关联与持久化日志，nil 时使用全局 Logger
	Logger logging.Logger
	// Now 时钟，用于 touch 时间戳
	Now func() time.Time
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		BelongsToRequiredByDefault: true,
		Now:                        time.Now,
	}
}

func (c Config) withDefaults() Config {
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Registry 模型注册表，持有数据库与配置
type Registry struct {
	db  IDatabase
	cfg Config

	mu     sync.RWMutex
	models map[string]*Model
	order  []*Model
	frozen bool
}

// NewRegistry 创建注册表
func NewRegistry(db IDatabase, cfg Config) *Registry {
	return &Registry{
		db:     db,
		cfg:    cfg.withDefaults(),
		models: make(map[string]*Model),
	}
}

// Register 注册模型
func (r *Registry) Register(m *Model) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return errors.NewError(errors.ErrCodeConfiguration, "document: registry is frozen")
	}
	if _, dup := r.models[m.name]; dup {
		return errors.NewError(errors.ErrCodeConfiguration,
			fmt.Sprintf("document: model %s already registered", m.name))
	}
	m.registry = r
	r.models[m.name] = m
	r.order = append(r.order, m)
	return nil
}

// Model 按名称查找模型
func (r *Registry) Model(name string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	return m, ok
}

// MustModel 查找模型，不存在时 panic（用于测试与初始化代码）
func (r *Registry) MustModel(name string) *Model {
	m, ok := r.Model(name)
	if !ok {
		panic(fmt.Sprintf("document.Registry: model %s not registered", name))
	}
	return m
}

// Models 按注册顺序返回全部模型
func (r *Registry) Models() []*Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Model, len(r.order))
	copy(out, r.order)
	return out
}

// Database 数据库
func (r *Registry) Database() IDatabase { return r.db }

// Config 配置
func (r *Registry) Config() Config { return r.cfg }

// Logger 返回配置的 Logger，未配置时返回全局 Logger
func (r *Registry) Logger() logging.Logger {
	if r.cfg.Logger != nil {
		return r.cfg.Logger
	}
	return logging.GetLogger()
}

// Freeze 冻结注册表与全部模型
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
	for _, m := range r.order {
		m.freeze()
	}
}
