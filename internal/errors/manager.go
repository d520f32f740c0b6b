// Package errors keeps a persisted ledger of batches that could not be translated,
// so an operator can inspect them and a later run can clear them.
package errors

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// ledgerFileName is the ledger file inside the base directory
const ledgerFileName = "failures.json"

// FailureStage 失败阶段枚举
type FailureStage string

const (
	StageStream       FailureStage = "stream"       // 模型流打开失败或中断
	StageVerification FailureStage = "verification" // 多次尝试后校验仍未通过
)

// FailureRecord 批次失败记录
type FailureRecord struct {
	BatchID      string       `json:"batch_id"`
	Source       string       `json:"source"` // 输入文件
	TargetLocale string       `json:"target_locale"`
	Stage        FailureStage `json:"stage"`
	ErrorMsg     string       `json:"error_msg"`
	Keys         []string     `json:"keys"`
	MissingKeys  []string     `json:"missing_keys,omitempty"`
	Attempts     int          `json:"attempts"`
	Timestamp    time.Time    `json:"timestamp"`
	RetryCount   int          `json:"retry_count"` // 之后的运行中再次失败的次数
	LastRetry    time.Time    `json:"last_retry"`
}

// ErrorManager 失败记录管理器
type ErrorManager struct {
	baseDir string
	mu      sync.RWMutex
	records map[string]*FailureRecord // key: BatchID
}

// NewErrorManager opens the ledger in baseDir, creating the directory if needed.
func NewErrorManager(baseDir string) (*ErrorManager, error) {
	if baseDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		baseDir = filepath.Join(homeDir, ".locale-translator", "failures")
	}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	em := &ErrorManager{
		baseDir: baseDir,
		records: make(map[string]*FailureRecord),
	}

	if err := em.load(); err != nil {
		return nil, err
	}

	return em, nil
}

// RecordFailure stores a failed batch. When the batch already failed in an
// earlier run, the retry counter is carried forward and incremented.
func (em *ErrorManager) RecordFailure(rec FailureRecord) error {
	if rec.BatchID == "" {
		return fmt.Errorf("failure record without batch id")
	}

	em.mu.Lock()
	defer em.mu.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if existing, ok := em.records[rec.BatchID]; ok {
		rec.RetryCount = existing.RetryCount + 1
		rec.LastRetry = rec.Timestamp
	}

	em.records[rec.BatchID] = &rec
	return em.save()
}

// Resolve removes a batch after it translated successfully. It reports
// whether a record existed.
func (em *ErrorManager) Resolve(batchID string) (bool, error) {
	em.mu.Lock()
	defer em.mu.Unlock()

	if _, ok := em.records[batchID]; !ok {
		return false, nil
	}
	delete(em.records, batchID)
	return true, em.save()
}

// ListFailures returns copies of all records ordered by batch id.
func (em *ErrorManager) ListFailures() []*FailureRecord {
	em.mu.RLock()
	defer em.mu.RUnlock()
	return em.sortedCopies()
}

// GetFailure 获取特定失败记录
func (em *ErrorManager) GetFailure(batchID string) (*FailureRecord, bool) {
	em.mu.RLock()
	defer em.mu.RUnlock()

	rec, ok := em.records[batchID]
	if !ok {
		return nil, false
	}
	c := *rec
	return &c, true
}

// ClearAll 清除所有失败记录
func (em *ErrorManager) ClearAll() error {
	em.mu.Lock()
	defer em.mu.Unlock()

	em.records = make(map[string]*FailureRecord)
	return em.save()
}

// ExportBatchIDs writes one failed batch id per line.
func (em *ErrorManager) ExportBatchIDs(outputPath string) error {
	em.mu.RLock()
	defer em.mu.RUnlock()

	var sb strings.Builder
	for _, rec := range em.sortedCopies() {
		sb.WriteString(rec.BatchID)
		sb.WriteString("\n")
	}

	if err := os.WriteFile(outputPath, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("failed to write batch ids file: %w", err)
	}
	return nil
}

// Path returns the ledger file path.
func (em *ErrorManager) Path() string {
	return filepath.Join(em.baseDir, ledgerFileName)
}

func (em *ErrorManager) sortedCopies() []*FailureRecord {
	out := make([]*FailureRecord, 0, len(em.records))
	for _, rec := range em.records {
		c := *rec
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BatchID < out[j].BatchID })
	return out
}

func (em *ErrorManager) load() error {
	data, err := os.ReadFile(em.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read ledger: %w", err)
	}

	var records []*FailureRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to unmarshal ledger: %w", err)
	}

	for _, rec := range records {
		if rec != nil && rec.BatchID != "" {
			em.records[rec.BatchID] = rec
		}
	}
	return nil
}

// save writes the ledger through a temp file so a crash never leaves it truncated.
func (em *ErrorManager) save() error {
	data, err := json.MarshalIndent(em.sortedCopies(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}

	tmp := em.Path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	if err := os.Rename(tmp, em.Path()); err != nil {
		return fmt.Errorf("failed to replace ledger: %w", err)
	}
	return nil
}

// GetStageDisplayName 获取阶段的显示名称
func GetStageDisplayName(stage FailureStage) string {
	switch stage {
	case StageStream:
		return "模型流"
	case StageVerification:
		return "结果校验"
	default:
		return string(stage)
	}
}
