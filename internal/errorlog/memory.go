package errorlog

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/oriys/relog/internal/domain"
)

const (
	// DefaultMemorySize 是 MemoryErrorLog 默认保留的条目数
	DefaultMemorySize = 15
	// MaxMemorySize 是 MemoryErrorLog 允许保留的最大条目数
	MaxMemorySize = 500
)

// MemoryErrorLog 在进程内保存最近的若干条错误，超出容量时淘汰最旧的记录。
// 可以并发使用。
type MemoryErrorLog struct {
	mu      sync.RWMutex
	size    int
	entries []*domain.ErrorLogEntry // 按记录顺序，最旧的在前
	index   map[string]*domain.ErrorLogEntry
}

// NewMemory 创建容量为 size 的内存错误日志。
// size <= 0 时使用 DefaultMemorySize，超过 MaxMemorySize 时截断为 MaxMemorySize。
func NewMemory(size int) *MemoryErrorLog {
	if size <= 0 {
		size = DefaultMemorySize
	}
	if size > MaxMemorySize {
		size = MaxMemorySize
	}
	return &MemoryErrorLog{
		size:    size,
		entries: make([]*domain.ErrorLogEntry, 0, size),
		index:   make(map[string]*domain.ErrorLogEntry, size),
	}
}

// Name 返回实现名称。
func (l *MemoryErrorLog) Name() string {
	return "In-Memory Error Log"
}

// Size 返回容量。
func (l *MemoryErrorLog) Size() int {
	return l.size
}

// Log 保存错误的副本并返回新分配的 ID。
func (l *MemoryErrorLog) Log(ctx context.Context, e *domain.Error) (string, error) {
	if e == nil {
		return "", domain.ErrInvalidErrorXML
	}
	entry := domain.NewErrorLogEntry(uuid.New().String(), e.Clone())

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) >= l.size {
		oldest := l.entries[0]
		delete(l.index, oldest.ID)
		l.entries = append(l.entries[:0], l.entries[1:]...)
	}
	l.entries = append(l.entries, entry)
	l.index[entry.ID] = entry
	return entry.ID, nil
}

// GetError 按 ID 读取一条记录，不存在时返回 domain.ErrEntryNotFound。
func (l *MemoryErrorLog) GetError(ctx context.Context, id string) (*domain.ErrorLogEntry, error) {
	if id == "" {
		return nil, domain.ErrInvalidEntryID
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	entry, ok := l.index[id]
	if !ok {
		return nil, domain.ErrEntryNotFound
	}
	return domain.NewErrorLogEntry(entry.ID, entry.Error.Clone()), nil
}

// GetErrors 按从新到旧的顺序读取一页记录，返回当前保存的总条数。
func (l *MemoryErrorLog) GetErrors(ctx context.Context, pageIndex, pageSize int, entries *[]*domain.ErrorLogEntry) (int, error) {
	if err := validatePage(pageIndex, pageSize); err != nil {
		return 0, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	total := len(l.entries)
	if entries == nil {
		return total, nil
	}

	// 第 0 页是最新的 pageSize 条
	start, end, ok := PageBounds(pageIndex, pageSize, total)
	if !ok {
		return total, nil
	}
	for i := start; i < end; i++ {
		entry := l.entries[total-1-i]
		*entries = append(*entries, domain.NewErrorLogEntry(entry.ID, entry.Error.Clone()))
	}
	return total, nil
}
