// Package cache keeps verified translations on disk so unchanged source
// strings are not sent to the model again.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"locale-translator/internal/types"
)

// fileVersion is bumped when the hash input changes.
const fileVersion = "1"

// Entry 缓存条目
type Entry struct {
	Hash         string    `json:"hash"`
	SourceLocale string    `json:"source_locale"`
	TargetLocale string    `json:"target_locale"`
	Source       string    `json:"source"`
	Translation  string    `json:"translation"`
	CreatedAt    time.Time `json:"created_at"`
}

// File is the on-disk layout.
type File struct {
	Version string  `json:"version"`
	Entries []Entry `json:"entries"`
}

// TranslationCache 负责缓存翻译结果
type TranslationCache struct {
	path    string
	entries map[string]Entry // hash -> Entry
	mu      sync.RWMutex
}

// New creates an empty cache backed by path. An empty path keeps it in memory.
func New(path string) *TranslationCache {
	return &TranslationCache{
		path:    path,
		entries: make(map[string]Entry),
	}
}

// ComputeHash identifies a source string for one locale pair. The context note
// takes part because the same text may translate differently per context.
func ComputeHash(sourceLocale, targetLocale string, item types.BatchItem) string {
	d := xxhash.New()
	for _, part := range []string{sourceLocale, targetLocale, item.Text, item.Context} {
		d.WriteString(part)
		d.Write([]byte{0})
	}
	return strconv.FormatUint(d.Sum64(), 16)
}

// Get 获取缓存的翻译
func (c *TranslationCache) Get(sourceLocale, targetLocale string, item types.BatchItem) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[ComputeHash(sourceLocale, targetLocale, item)]
	if !ok {
		return "", false
	}
	return e.Translation, true
}

// Set 设置翻译缓存
func (c *TranslationCache) Set(sourceLocale, targetLocale string, item types.BatchItem, translation string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := ComputeHash(sourceLocale, targetLocale, item)
	c.entries[h] = Entry{
		Hash:         h,
		SourceLocale: sourceLocale,
		TargetLocale: targetLocale,
		Source:       item.Text,
		Translation:  translation,
		CreatedAt:    time.Now(),
	}
}

// Filter splits items into records served from the cache and items that still
// need translating. Both keep the input order.
func (c *TranslationCache) Filter(sourceLocale, targetLocale string, items []types.BatchItem) (cached []types.TranslationRecord, uncached []types.BatchItem) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, it := range items {
		if e, ok := c.entries[ComputeHash(sourceLocale, targetLocale, it)]; ok {
			cached = append(cached, types.TranslationRecord{Key: it.Key, TranslatedText: e.Translation})
			continue
		}
		uncached = append(uncached, it)
	}
	return cached, uncached
}

// Load 从文件加载缓存. A missing file leaves the cache empty; entries written by
// another version are ignored.
func (c *TranslationCache) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.path == "" {
		return nil
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return types.NewAppErrorWithDetails(types.ErrInternal, "failed to read cache file", c.path, err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return types.NewAppErrorWithDetails(types.ErrInternal, "failed to parse cache file", c.path, err)
	}

	c.entries = make(map[string]Entry, len(f.Entries))
	if f.Version != fileVersion {
		return nil
	}
	for _, e := range f.Entries {
		c.entries[e.Hash] = e
	}
	return nil
}

// Save 保存缓存到文件
func (c *TranslationCache) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		return nil
	}

	entries := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Hash < entries[j].Hash })

	data, err := json.MarshalIndent(File{Version: fileVersion, Entries: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	return os.Rename(tmp, c.path)
}

// Size 返回缓存中的条目数量
func (c *TranslationCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear 清空缓存
func (c *TranslationCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry)
}

// Path returns the cache file path.
func (c *TranslationCache) Path() string {
	return c.path
}
