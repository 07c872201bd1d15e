// Package metrics provides a shared metrics collection and reporting system.
// Services write a JSON metrics document to Redis on a fixed interval for
// centralized operator visibility; there is no user-facing failure surface.
package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// MetricsKeyPrefix is the Redis key prefix for service metrics.
	MetricsKeyPrefix = "metrics:"
	// MetricsTTL is how long metrics stay in Redis if not refreshed.
	MetricsTTL = 2 * time.Minute
	// DefaultReportInterval is the default interval for writing metrics to Redis.
	DefaultReportInterval = 30 * time.Second
)

// ServiceMetrics holds the reported metrics for a single service.
type ServiceMetrics struct {
	ServiceName string    `json:"service_name"`
	StartedAt   time.Time `json:"started_at"`
	LastUpdated time.Time `json:"last_updated"`

	// Counters (monotonically increasing since start)
	CommunicationsReceived  uint64 `json:"communications_received"`
	CommunicationsProcessed uint64 `json:"communications_processed"`
	ProcessingErrors        uint64 `json:"processing_errors"`

	// Latencies (averages in nanoseconds)
	AvgProcessingLatencyNs float64 `json:"avg_processing_latency_ns"`

	// Service-specific counters
	CustomCounters map[string]uint64 `json:"custom_counters,omitempty"`
}

// Collector collects and reports metrics for a service. Its methods satisfy
// the recorder interfaces the worker pool and dispatcher consume.
type Collector struct {
	serviceName    string
	redis          *redis.Client
	startedAt      time.Time
	reportInterval time.Duration

	received  atomic.Uint64
	processed atomic.Uint64
	errors    atomic.Uint64

	totalLatencyNs atomic.Uint64
	latencyCount   atomic.Uint64

	customMu       sync.RWMutex
	customCounters map[string]*atomic.Uint64

	wg sync.WaitGroup
}

// NewCollector creates a new metrics collector for a service.
func NewCollector(serviceName string, redisClient *redis.Client) *Collector {
	return &Collector{
		serviceName:    serviceName,
		redis:          redisClient,
		startedAt:      time.Now().UTC(),
		reportInterval: DefaultReportInterval,
		customCounters: make(map[string]*atomic.Uint64),
	}
}

// SetReportInterval sets the interval for writing metrics to Redis.
func (c *Collector) SetReportInterval(interval time.Duration) {
	c.reportInterval = interval
}

// Start begins the periodic metrics reporting to Redis and stops when ctx is
// cancelled, writing one final snapshot.
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				c.writeMetrics(context.Background())
				return
			case <-ticker.C:
				c.writeMetrics(ctx)
			}
		}
	}()
}

// Wait blocks until the reporting goroutine has exited.
func (c *Collector) Wait() {
	c.wg.Wait()
}

// RecordReceived increments the received counter.
func (c *Collector) RecordReceived() {
	c.received.Add(1)
}

// RecordProcessed increments the processed counter and tracks latency.
func (c *Collector) RecordProcessed(latency time.Duration) {
	c.processed.Add(1)
	c.totalLatencyNs.Add(uint64(latency.Nanoseconds()))
	c.latencyCount.Add(1)
}

// RecordError increments the error counter.
func (c *Collector) RecordError() {
	c.errors.Add(1)
}

// IncrementCustom increments a named service-specific counter.
func (c *Collector) IncrementCustom(name string) {
	c.customMu.RLock()
	counter, ok := c.customCounters[name]
	c.customMu.RUnlock()

	if !ok {
		c.customMu.Lock()
		counter, ok = c.customCounters[name]
		if !ok {
			counter = &atomic.Uint64{}
			c.customCounters[name] = counter
		}
		c.customMu.Unlock()
	}
	counter.Add(1)
}

// Snapshot builds the current metrics document.
func (c *Collector) Snapshot() ServiceMetrics {
	m := ServiceMetrics{
		ServiceName:             c.serviceName,
		StartedAt:               c.startedAt,
		LastUpdated:             time.Now().UTC(),
		CommunicationsReceived:  c.received.Load(),
		CommunicationsProcessed: c.processed.Load(),
		ProcessingErrors:        c.errors.Load(),
	}

	if count := c.latencyCount.Load(); count > 0 {
		m.AvgProcessingLatencyNs = float64(c.totalLatencyNs.Load()) / float64(count)
	}

	c.customMu.RLock()
	if len(c.customCounters) > 0 {
		m.CustomCounters = make(map[string]uint64, len(c.customCounters))
		for name, counter := range c.customCounters {
			m.CustomCounters[name] = counter.Load()
		}
	}
	c.customMu.RUnlock()

	return m
}

// writeMetrics serializes the current snapshot to Redis with a TTL.
func (c *Collector) writeMetrics(ctx context.Context) {
	payload, err := json.Marshal(c.Snapshot())
	if err != nil {
		slog.Error("Failed to marshal metrics", "service", c.serviceName, "error", err)
		return
	}

	key := MetricsKeyPrefix + c.serviceName
	if err := c.redis.Set(ctx, key, payload, MetricsTTL).Err(); err != nil {
		slog.Warn("Failed to write metrics to Redis", "service", c.serviceName, "error", err)
	}
}
