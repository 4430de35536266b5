package run

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/awmpietro/policy-flow/internal/flow"
)

// NodeLatencyObserver receives the time spent on every visited node,
// including the remote evaluation of decision nodes.
type NodeLatencyObserver interface {
	ObserveNodeLatency(nodeID string, kind flow.Kind, duration time.Duration)
}

// RunObserver receives every finished walk.
type RunObserver interface {
	ObserveRun(res Result, duration time.Duration)
}

type NodeLatencyLogger struct {
	logger *slog.Logger
}

func NewNodeLatencyLogger(logger *slog.Logger) *NodeLatencyLogger {
	return &NodeLatencyLogger{logger: logger}
}

func (l *NodeLatencyLogger) ObserveNodeLatency(nodeID string, kind flow.Kind, duration time.Duration) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Info("flow_node_latency",
		"node", nodeID,
		"type", kind,
		"duration_ms", float64(duration.Microseconds())/1000.0,
	)
}

// AsyncNodeLatencyObserver forwards observations to next from a single
// goroutine. Observations are dropped, and counted, when the buffer is full
// or after Close.
type AsyncNodeLatencyObserver struct {
	next    NodeLatencyObserver
	events  chan nodeLatencyEvent
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

type nodeLatencyEvent struct {
	nodeID   string
	kind     flow.Kind
	duration time.Duration
}

func NewAsyncNodeLatencyObserver(next NodeLatencyObserver, buffer int) *AsyncNodeLatencyObserver {
	if buffer <= 0 {
		buffer = 1
	}

	o := &AsyncNodeLatencyObserver{
		next:   next,
		events: make(chan nodeLatencyEvent, buffer),
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		for ev := range o.events {
			if o.next == nil {
				continue
			}
			o.next.ObserveNodeLatency(ev.nodeID, ev.kind, ev.duration)
		}
	}()

	return o
}

func (o *AsyncNodeLatencyObserver) ObserveNodeLatency(nodeID string, kind flow.Kind, duration time.Duration) {
	if o == nil {
		return
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		o.dropped.Add(1)
		return
	}
	select {
	case o.events <- nodeLatencyEvent{nodeID: nodeID, kind: kind, duration: duration}:
	default:
		o.dropped.Add(1)
	}
}

func (o *AsyncNodeLatencyObserver) Dropped() uint64 {
	if o == nil {
		return 0
	}
	return o.dropped.Load()
}

// Close drains pending observations and stops the worker.
func (o *AsyncNodeLatencyObserver) Close() {
	if o == nil {
		return
	}
	o.once.Do(func() {
		o.mu.Lock()
		o.closed = true
		close(o.events)
		o.mu.Unlock()
		o.wg.Wait()
	})
}
