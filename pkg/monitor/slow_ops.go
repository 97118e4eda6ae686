package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
)

// SlowOperation 慢操作日志项
type SlowOperation struct {
	ID        int64                 `json:"id"`
	Driver    domain.DataSourceType `json:"driver"`
	Operation string                `json:"operation"`
	DataSet   string                `json:"dataset,omitempty"`
	Statement string                `json:"statement,omitempty"`
	Duration  time.Duration         `json:"duration"`
	Timestamp time.Time             `json:"timestamp"`
	RowCount  int64                 `json:"row_count"`
	Error     string                `json:"error,omitempty"`
}

// SlowOperationLog 慢操作分析器，保留最近 maxEntries 条
type SlowOperationLog struct {
	mu         sync.RWMutex
	entries    []*SlowOperation
	byID       map[int64]*SlowOperation
	threshold  time.Duration
	maxEntries int
	nextID     int64
}

// NewSlowOperationLog 创建慢操作分析器
func NewSlowOperationLog(threshold time.Duration, maxEntries int) *SlowOperationLog {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &SlowOperationLog{
		entries:    make([]*SlowOperation, 0, maxEntries),
		byID:       make(map[int64]*SlowOperation),
		threshold:  threshold,
		maxEntries: maxEntries,
		nextID:     1,
	}
}

// IsSlow 检查是否为慢操作
func (s *SlowOperationLog) IsSlow(d time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return d >= s.threshold
}

// Record 记录慢操作，未超过阈值时返回 0
func (s *SlowOperationLog) Record(op SlowOperation) int64 {
	if !s.IsSlow(op.Duration) {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := op
	entry.ID = s.nextID
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	s.byID[entry.ID] = &entry
	s.entries = append(s.entries, &entry)
	s.nextID++

	// 超出最大条目数时移除最旧的记录
	if len(s.entries) > s.maxEntries {
		oldest := s.entries[0]
		delete(s.byID, oldest.ID)
		s.entries = s.entries[1:]
	}
	return entry.ID
}

// Get 获取慢操作记录
func (s *SlowOperationLog) Get(id int64) (*SlowOperation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	return e, ok
}

// All 获取所有慢操作，按记录顺序
func (s *SlowOperationLog) All() []*SlowOperation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*SlowOperation, len(s.entries))
	copy(out, s.entries)
	return out
}

// Recent 获取最近 n 条，最新的在前
func (s *SlowOperationLog) Recent(n int) []*SlowOperation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n > len(s.entries) {
		n = len(s.entries)
	}
	out := make([]*SlowOperation, 0, n)
	for i := len(s.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.entries[i])
	}
	return out
}

// ByDataSet 获取指定数据集的慢操作
func (s *SlowOperationLog) ByDataSet(dataset string) []*SlowOperation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*SlowOperation{}
	for _, e := range s.entries {
		if e.DataSet == dataset {
			out = append(out, e)
		}
	}
	return out
}

// Since 获取 start 之后（含）的慢操作
func (s *SlowOperationLog) Since(start time.Time) []*SlowOperation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*SlowOperation{}
	for _, e := range s.entries {
		if !e.Timestamp.Before(start) {
			out = append(out, e)
		}
	}
	return out
}

// Len 获取慢操作总数
func (s *SlowOperationLog) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear 清空所有记录
func (s *SlowOperationLog) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make([]*SlowOperation, 0, s.maxEntries)
	s.byID = make(map[int64]*SlowOperation)
	s.nextID = 1
}

// SetThreshold 设置阈值
func (s *SlowOperationLog) SetThreshold(threshold time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threshold = threshold
}

// Threshold 获取阈值
func (s *SlowOperationLog) Threshold() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threshold
}

// SlowAnalysis 慢操作分析结果
type SlowAnalysis struct {
	Total        int                      `json:"total"`
	AvgDuration  time.Duration            `json:"avg_duration"`
	MaxDuration  time.Duration            `json:"max_duration"`
	MinDuration  time.Duration            `json:"min_duration"`
	ErrorCount   int                      `json:"error_count"`
	DataSetStats map[string]*DataSetStats `json:"dataset_stats"`
	Operations   map[string]int           `json:"operations"`
}

// DataSetStats 数据集级别慢操作统计
type DataSetStats struct {
	DataSet       string        `json:"dataset"`
	Count         int           `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	MaxDuration   time.Duration `json:"max_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
}

// Analyze 分析慢操作
func (s *SlowOperationLog) Analyze() *SlowAnalysis {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a := &SlowAnalysis{
		DataSetStats: make(map[string]*DataSetStats),
		Operations:   make(map[string]int),
	}
	if len(s.entries) == 0 {
		return a
	}

	a.Total = len(s.entries)
	a.MaxDuration = s.entries[0].Duration
	a.MinDuration = s.entries[0].Duration
	var total time.Duration
	for _, e := range s.entries {
		total += e.Duration
		a.MaxDuration = max(a.MaxDuration, e.Duration)
		a.MinDuration = min(a.MinDuration, e.Duration)
		if e.Error != "" {
			a.ErrorCount++
		}
		a.Operations[e.Operation]++

		stats, ok := a.DataSetStats[e.DataSet]
		if !ok {
			stats = &DataSetStats{DataSet: e.DataSet}
			a.DataSetStats[e.DataSet] = stats
		}
		stats.Count++
		stats.TotalDuration += e.Duration
		stats.MaxDuration = max(stats.MaxDuration, e.Duration)
	}
	a.AvgDuration = total / time.Duration(a.Total)
	for _, stats := range a.DataSetStats {
		stats.AvgDuration = stats.TotalDuration / time.Duration(stats.Count)
	}
	return a
}

// Recommendations 获取优化建议
func (s *SlowOperationLog) Recommendations() []string {
	a := s.Analyze()
	var out []string

	if a.Total > 100 {
		out = append(out, fmt.Sprintf("慢操作数量过多(%d)，建议检查空间索引与过滤条件", a.Total))
	}
	if a.AvgDuration > time.Second {
		out = append(out, fmt.Sprintf("平均操作时长较长(%v)，建议缩小查询范围或使用空间过滤", a.AvgDuration))
	}
	if a.Total > 0 {
		errorRate := float64(a.ErrorCount) / float64(a.Total)
		if errorRate > 0.1 {
			out = append(out, fmt.Sprintf("慢操作错误率过高(%.2f%%)，建议检查后端连接", errorRate*100))
		}
	}
	for name, stats := range a.DataSetStats {
		if name == "" {
			continue
		}
		if stats.Count > 10 {
			out = append(out, fmt.Sprintf("数据集 %s 有 %d 条慢操作，建议为其几何属性建立空间索引", name, stats.Count))
		}
	}
	return out
}
