// Package workerpool provides the channel-backed worker pool used to run
// deriver builds, async-put writes and hierarchical backfill fan-out off
// the calling goroutine. It is modeled directly on friggdb/pool.Pool:
// a bounded work channel, a fixed set of long-lived worker goroutines, and
// promauto gauges tracking queue depth.
package workerpool

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"
)

const queueLengthReportInterval = 15 * time.Second

// Config controls pool sizing. Zero values fall back to Tasks(30, 10000)-like
// defaults via DefaultConfig.
type Config struct {
	MaxWorkers int
	QueueDepth int
}

// DefaultConfig mirrors friggdb/pool's default of 30 workers / 10000 deep
// queue.
func DefaultConfig() Config {
	return Config{MaxWorkers: 30, QueueDepth: 10000}
}

// Task is an abandonable unit of work. Run executes normally; Abandon runs
// instead if the pool decides to drop the task (shutdown, cancellation) —
// it must perform only bookkeeping, never the write/build itself.
type Task struct {
	Run     func()
	Abandon func()
}

// Pool runs submitted Tasks on a fixed worker set.
type Pool struct {
	cfg   Config
	queue chan Task
	size  *atomic.Int32
	done  chan struct{}

	metricQueueLength prometheus.Gauge
	metricQueueMax    prometheus.Gauge
}

// New starts cfg.MaxWorkers goroutines draining a cfg.QueueDepth-deep queue.
// namespace/subsystem name the exported queue-depth gauges, matching the
// teacher's practice of namespacing pool metrics per owning component.
func New(namespace, subsystem string, cfg Config) *Pool {
	if cfg.MaxWorkers <= 0 || cfg.QueueDepth <= 0 {
		cfg = DefaultConfig()
	}

	p := &Pool{
		cfg:   cfg,
		queue: make(chan Task, cfg.QueueDepth),
		size:  atomic.NewInt32(0),
		done:  make(chan struct{}),
		metricQueueLength: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queue_length",
			Help:      "Current length of the task queue.",
		}),
		metricQueueMax: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queue_max",
			Help:      "Maximum number of tasks the queue will hold.",
		}),
	}
	p.metricQueueMax.Set(float64(cfg.QueueDepth))

	for i := 0; i < cfg.MaxWorkers; i++ {
		go p.worker()
	}
	go p.reportQueueLength()

	return p
}

// Submit enqueues t. It blocks if the queue is full — callers that need
// fire-and-forget semantics should size the queue generously, as the
// async-put wrapper and top-level cache do.
func (p *Pool) Submit(t Task) {
	p.size.Inc()
	p.queue <- t
}

// TrySubmit enqueues t without blocking, reporting whether there was room.
func (p *Pool) TrySubmit(t Task) bool {
	select {
	case p.queue <- t:
		p.size.Inc()
		return true
	default:
		return false
	}
}

// Len returns the current queue depth: submitted tasks not yet taken by a
// worker. Tasks already running are not counted.
func (p *Pool) Len() int32 {
	return p.size.Load()
}

// Shutdown stops accepting new tasks and drains the queue. Each task that
// Shutdown takes off the queue has its Abandon path run; workers keep
// draining the same queue concurrently, so some queued tasks may be taken
// by a worker and Run instead. Tasks already handed to a worker run to
// completion.
func (p *Pool) Shutdown() {
	close(p.queue)
	for t := range p.queue {
		p.size.Dec()
		if t.Abandon != nil {
			t.Abandon()
		}
	}
	close(p.done)
}

func (p *Pool) worker() {
	for t := range p.queue {
		p.size.Dec()
		if t.Run != nil {
			t.Run()
		}
	}
}

func (p *Pool) reportQueueLength() {
	ticker := time.NewTicker(queueLengthReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.metricQueueLength.Set(float64(p.size.Load()))
		case <-p.done:
			return
		}
	}
}
