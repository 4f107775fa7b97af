// Package metrics 提供缓存操作的 Prometheus 指标
//
// nil 的 *Metrics 可以直接使用，所有方法都是空操作 (测试里不需要注册表)
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "dcache"

// 传输方向，用作字节计数的标签
const (
	DirectionUpload   = "upload"
	DirectionDownload = "download"
)

// Metrics 持有一个进程注册的所有采集器
type Metrics struct {
	registry prometheus.Gatherer

	retrievals *prometheus.CounterVec
	stores     *prometheus.CounterVec
	bytes      *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// New 在 reg 上注册缓存相关的采集器
func New(reg *prometheus.Registry) *Metrics {
	return &Metrics{
		registry: reg,
		retrievals: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retrievals_total",
				Help:      "Retrieve calls by outcome",
			},
			[]string{"outcome"},
		),
		stores: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stores_total",
				Help:      "Store calls by status",
			},
			[]string{"status"},
		),
		bytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transferred_bytes_total",
				Help:      "Bytes moved between local disk and the blob store",
			},
			[]string{"direction"},
		),
		failures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transfer_failures_total",
				Help:      "Per-file transfer failures",
			},
			[]string{"direction"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of retrieve and store calls",
				Buckets:   []float64{0.005, 0.05, 0.25, 1, 5, 30, 120},
			},
			[]string{"operation"},
		),
	}
}

// ObserveRetrieve 记录一次 Retrieve
func (m *Metrics) ObserveRetrieve(outcome types.Outcome, d time.Duration) {
	if m == nil {
		return
	}
	m.retrievals.WithLabelValues(outcome.String()).Inc()
	m.duration.WithLabelValues("retrieve").Observe(d.Seconds())
}

func (m *Metrics) ObserveStore(err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.stores.WithLabelValues(status).Inc()
	m.duration.WithLabelValues("store").Observe(d.Seconds())
}

// AddBytes 累加传输的字节数
func (m *Metrics) AddBytes(direction string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.bytes.WithLabelValues(direction).Add(float64(n))
}

// AddFailure 记录一个传输失败的文件
func (m *Metrics) AddFailure(direction string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(direction).Inc()
}

// Push 把所有指标推送一次到 Pushgateway
// CLI 进程很快就退出，没有机会被抓取
func (m *Metrics) Push(url string, timeout time.Duration) error {
	if m == nil || url == "" {
		return nil
	}
	err := push.New(url, namespace).
		Client(&http.Client{Timeout: timeout}).
		Gatherer(m.registry).
		Push()
	if err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
