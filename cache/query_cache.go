package cache

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
)

// 查询缓存键
const (
	tracksPrefix  = "tracks:"
	framesPrefix  = "frames:"
	previewPrefix = "preview:"
)

// TracksKey 项目轨道列表键
func TracksKey(projectID string) string { return tracksPrefix + projectID }

// FramesKey 轨道关键帧列表键
func FramesKey(trackID string) string { return framesPrefix + trackID }

// FramesPrefix 匹配所有关键帧列表
func FramesPrefix() string { return framesPrefix }

// PreviewKey 项目预览键
func PreviewKey(projectID string) string { return previewPrefix + projectID }

type entry struct {
	value interface{}
	stale bool
}

// Snapshot 某个键在某一时刻的内容，用于乐观更新失败后的回滚
type Snapshot struct {
	key     string
	value   interface{}
	present bool
}

// QueryCache 进程内读穿缓存。
// 值均为切片，读写时复制，调用方拿到的副本可以随意修改。
// Cancel 会让正在进行的加载结果作废；Invalidate 只标记过期，保留内容直到下一次加载。
type QueryCache struct {
	mu      sync.Mutex
	entries map[string]*entry
	gens    map[string]uint64
}

// NewQueryCache 创建查询缓存
func NewQueryCache() *QueryCache {
	return &QueryCache{
		entries: make(map[string]*entry),
		gens:    make(map[string]uint64),
	}
}

func cloneList[T any](v []T) []T {
	if v == nil {
		return nil
	}
	out := make([]T, len(v))
	copy(out, v)
	return out
}

// GetList 返回缓存副本，不区分是否过期
func GetList[T any](c *QueryCache, key string) ([]T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	list, _ := e.value.([]T)
	return cloneList(list), true
}

// SetList 写入并标记为最新
func SetList[T any](c *QueryCache, key string, list []T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry{value: cloneList(list)}
}

// UpdateList 在锁内修改已存在的列表，键不存在时不做任何事
func UpdateList[T any](c *QueryCache, key string, fn func([]T) []T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false
	}
	list, _ := e.value.([]T)
	e.value = cloneList(fn(cloneList(list)))
	return true
}

// LoadList 读穿加载：缓存新鲜时直接返回，否则调用 fetch。
// 加载期间如果键被 Cancel，结果不会写回缓存。
func LoadList[T any](ctx context.Context, c *QueryCache, key string, fetch func(context.Context) ([]T, error)) ([]T, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && !e.stale {
		list, _ := e.value.([]T)
		c.mu.Unlock()
		return cloneList(list), nil
	}
	gen := c.gens[key]
	c.gens[key] = gen
	c.mu.Unlock()

	list, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []T{}
	}

	c.mu.Lock()
	if c.gens[key] == gen {
		c.entries[key] = &entry{value: cloneList(list)}
	}
	c.mu.Unlock()
	return list, nil
}

// Cancel 作废所有匹配前缀、正在进行的加载
func (c *QueryCache) Cancel(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.gens {
		if strings.HasPrefix(key, prefix) {
			c.gens[key]++
		}
	}
}

// Invalidate 标记匹配前缀的键过期，返回受影响的键数
func (c *QueryCache) Invalidate(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key, e := range c.entries {
		if strings.HasPrefix(key, prefix) {
			e.stale = true
			n++
		}
	}
	return n
}

// Stale 键是否存在且已过期
func (c *QueryCache) Stale(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return ok && e.stale
}

// Remove 删除键
func (c *QueryCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Take 记录键的当前内容
func (c *QueryCache) Take(key string) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Snapshot{key: key}
	}
	return Snapshot{key: key, value: e.value, present: true}
}

// Restore 恢复 Take 时的内容；当时不存在的键会被删除
func (c *QueryCache) Restore(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !s.present {
		delete(c.entries, s.key)
		return
	}
	// 写入路径总是整体替换切片，快照中的值不会被后续修改
	c.entries[s.key] = &entry{value: s.value}
}

// Dump 按键排序序列化全部内容（不含过期标记）
func (c *QueryCache) Dump() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	type kv struct {
		Key   string      `json:"key"`
		Value interface{} `json:"value"`
	}
	out := make([]kv, 0, len(keys))
	for _, k := range keys {
		out = append(out, kv{Key: k, Value: c.entries[k].value})
	}
	return json.Marshal(out)
}
