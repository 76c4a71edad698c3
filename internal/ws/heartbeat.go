package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/shelter/internal/logger"
	"github.com/shelter/internal/metrics"
)

const (
	// DefaultHeartbeatInterval is how often the supervisor probes clients.
	DefaultHeartbeatInterval = 30 * time.Second
	// DefaultHeartbeatTimeout is how long a connection may go without an
	// ack before it is evicted.
	DefaultHeartbeatTimeout = 90 * time.Second
)

// Supervisor periodically probes every live connection with a HEARTBEAT
// frame and evicts connections whose last ack is older than the timeout.
type Supervisor struct {
	reg      *Registry
	interval time.Duration
	timeout  time.Duration

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewSupervisor builds a supervisor over the registry. Non-positive
// interval or timeout fall back to the defaults.
func NewSupervisor(reg *Registry, interval, timeout time.Duration) *Supervisor {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	return &Supervisor{
		reg:      reg,
		interval: interval,
		timeout:  timeout,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Supervisor) Start() {
	go s.run()
}

// Stop halts the loop and waits for the current sweep to finish.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Supervisor) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep evicts stale connections and probes the rest. A failure on one
// connection never affects the others: enqueue only drops or closes the
// connection it was called on.
func (s *Supervisor) sweep() {
	now := time.Now()
	probe, err := json.Marshal(Event{Op: OpHeartbeat, D: HeartbeatPayload{TS: now.UnixMilli()}})
	if err != nil {
		logger.Errorf("ws: marshal heartbeat: %v", err)
		return
	}

	for _, sn := range s.reg.snapshot() {
		if now.Sub(sn.lastSeen) > s.timeout {
			logger.Infof("ws: heartbeat timeout user=%s, evicting", sn.userID)
			metrics.HeartbeatEvictionsTotal.Inc()
			s.reg.Remove(sn.conn)
			continue
		}
		sn.conn.enqueue(probe)
	}
}
