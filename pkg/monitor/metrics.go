package monitor

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/kasuganosora/geoaccess/pkg/resource/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "geoaccess"

// 操作状态标签
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// MetricsCollector 监控指标收集器
//
// Counters are exported through a private prometheus registry; the same
// numbers are kept in memory for GetSnapshot.
type MetricsCollector struct {
	registry *prometheus.Registry

	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	errorsVec  *prometheus.CounterVec
	slow       *prometheus.CounterVec
	rows       *prometheus.CounterVec
	activeTx   *prometheus.GaugeVec

	mu            sync.RWMutex
	opCount       int64
	opSuccess     int64
	opError       int64
	totalDuration time.Duration
	slowCount     int64
	activeTxCount int64
	errorCount    map[string]int64
	datasetAccess map[string]int64
	startTime     time.Time
}

// NewMetricsCollector 创建监控指标收集器
func NewMetricsCollector() *MetricsCollector {
	m := &MetricsCollector{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Transactor operations by driver, operation and status.",
		}, []string{"driver", "operation", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Transactor operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"driver", "operation"}),
		errorsVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Failed operations by error kind.",
		}, []string{"driver", "kind"}),
		slow: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slow_operations_total",
			Help:      "Operations slower than the configured threshold.",
		}, []string{"driver", "operation"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_affected_total",
			Help:      "Rows affected by Execute and persistence commands.",
		}, []string{"driver"}),
		activeTx: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_transactions",
			Help:      "Transactions begun and not yet committed or rolled back.",
		}, []string{"driver"}),
		errorCount:    make(map[string]int64),
		datasetAccess: make(map[string]int64),
		startTime:     time.Now(),
	}
	m.registry.MustRegister(m.operations, m.duration, m.errorsVec, m.slow, m.rows, m.activeTx)
	return m
}

// Registry 返回指标注册表
func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 /metrics 处理器
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordOperation 记录一次操作
func (m *MetricsCollector) RecordOperation(driver domain.DataSourceType, op, dataset string, d time.Duration, err error) {
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	m.operations.WithLabelValues(string(driver), op, status).Inc()
	m.duration.WithLabelValues(string(driver), op).Observe(d.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()
	m.opCount++
	m.totalDuration += d
	if err == nil {
		m.opSuccess++
	} else {
		m.opError++
		kind := ErrorKind(err)
		m.errorCount[kind]++
		m.errorsVec.WithLabelValues(string(driver), kind).Inc()
	}
	if dataset != "" {
		m.datasetAccess[dataset]++
	}
}

// RecordSlow 记录慢操作
func (m *MetricsCollector) RecordSlow(driver domain.DataSourceType, op string) {
	m.slow.WithLabelValues(string(driver), op).Inc()
	m.mu.Lock()
	m.slowCount++
	m.mu.Unlock()
}

// RecordRows 记录受影响行数
func (m *MetricsCollector) RecordRows(driver domain.DataSourceType, n int64) {
	if n > 0 {
		m.rows.WithLabelValues(string(driver)).Add(float64(n))
	}
}

// BeginTransaction 事务开始
func (m *MetricsCollector) BeginTransaction(driver domain.DataSourceType) {
	m.activeTx.WithLabelValues(string(driver)).Inc()
	m.mu.Lock()
	m.activeTxCount++
	m.mu.Unlock()
}

// EndTransaction 事务结束
func (m *MetricsCollector) EndTransaction(driver domain.DataSourceType) {
	m.activeTx.WithLabelValues(string(driver)).Dec()
	m.mu.Lock()
	if m.activeTxCount > 0 {
		m.activeTxCount--
	}
	m.mu.Unlock()
}

// ErrorKind maps an error onto the error taxonomy label.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case domain.IsConnectionError(err):
		return "connection"
	case domain.IsNotOpenError(err):
		return "not_open"
	case domain.IsDataSetNotFound(err):
		return "dataset_not_found"
	case domain.IsUnsupportedOperation(err):
		return "unsupported"
	case domain.IsNoActiveTransaction(err):
		return "no_transaction"
	case domain.IsTransactionInProgress(err):
		return "transaction_in_progress"
	case domain.IsReadOnly(err):
		return "read_only"
	case domain.IsPropertyNotFound(err):
		return "property_not_found"
	case domain.IsInvalidPosition(err):
		return "invalid_position"
	case domain.IsDataSetTypeExists(err):
		return "dataset_exists"
	case domain.IsBackendError(err):
		return "backend"
	}
	return "other"
}

// GetErrorCount 获取错误统计
func (m *MetricsCollector) GetErrorCount(kind string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errorCount[kind]
}

// GetDataSetAccessCount 获取数据集访问统计
func (m *MetricsCollector) GetDataSetAccessCount(dataset string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.datasetAccess[dataset]
}

// GetActiveTransactions 获取当前活跃事务数
func (m *MetricsCollector) GetActiveTransactions() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeTxCount
}

// Reset 重置内存中的指标，prometheus 计数器同时清零
func (m *MetricsCollector) Reset() {
	m.operations.Reset()
	m.duration.Reset()
	m.errorsVec.Reset()
	m.slow.Reset()
	m.rows.Reset()
	m.activeTx.Reset()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.opCount = 0
	m.opSuccess = 0
	m.opError = 0
	m.totalDuration = 0
	m.slowCount = 0
	m.activeTxCount = 0
	m.errorCount = make(map[string]int64)
	m.datasetAccess = make(map[string]int64)
	m.startTime = time.Now()
}

// Metrics 指标快照
type Metrics struct {
	OperationCount     int64            `json:"operation_count"`
	OperationSuccess   int64            `json:"operation_success"`
	OperationError     int64            `json:"operation_error"`
	SuccessRate        float64          `json:"success_rate"`
	AvgDuration        time.Duration    `json:"avg_duration"`
	SlowCount          int64            `json:"slow_count"`
	ActiveTransactions int64            `json:"active_transactions"`
	ErrorCount         map[string]int64 `json:"error_count"`
	DataSetAccessCount map[string]int64 `json:"dataset_access_count"`
	Uptime             time.Duration    `json:"uptime"`
}

// GetSnapshot 获取指标快照
func (m *MetricsCollector) GetSnapshot() *Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var successRate float64
	var avgDuration time.Duration
	if m.opCount > 0 {
		successRate = float64(m.opSuccess) / float64(m.opCount) * 100
		avgDuration = m.totalDuration / time.Duration(m.opCount)
	}

	errorsCopy := make(map[string]int64, len(m.errorCount))
	for k, v := range m.errorCount {
		errorsCopy[k] = v
	}
	accessCopy := make(map[string]int64, len(m.datasetAccess))
	for k, v := range m.datasetAccess {
		accessCopy[k] = v
	}

	return &Metrics{
		OperationCount:     m.opCount,
		OperationSuccess:   m.opSuccess,
		OperationError:     m.opError,
		SuccessRate:        successRate,
		AvgDuration:        avgDuration,
		SlowCount:          m.slowCount,
		ActiveTransactions: m.activeTxCount,
		ErrorCount:         errorsCopy,
		DataSetAccessCount: accessCopy,
		Uptime:             time.Since(m.startTime),
	}
}
