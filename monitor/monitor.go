// Package monitor aggregates campaign progress from workers and renders it as
// a status line and as Prometheus metrics.
package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ClientStats is what a worker reports about itself.
type ClientStats struct {
	Executions uint64
	Iterations uint64
	Objectives uint64
	Corpus     int
	Edges      int
	Phase      string
}

// Monitor keeps the latest stats of every worker. It is safe for concurrent
// use: RPC handlers update it while the supervisor loop displays it.
type Monitor struct {
	name    string
	log     *logrus.Entry
	metrics *Metrics
	now     func() time.Time

	mu       sync.Mutex
	start    time.Time
	clients  map[int]ClientStats
	restarts uint64
}

func New(name string, log *logrus.Entry, metrics *Metrics) *Monitor {
	return &Monitor{
		name:    name,
		log:     log,
		metrics: metrics,
		now:     time.Now,
		start:   time.Now(),
		clients: make(map[int]ClientStats),
	}
}

// Update records the latest stats of client id.
func (m *Monitor) Update(id int, s ClientStats) {
	m.mu.Lock()
	m.clients[id] = s
	total, restarts := m.totalLocked(), m.restarts
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.Observe(total, restarts)
	}
}

// Handover moves the stats reported under from to to. A replacement worker
// takes over its predecessor's slot until it reports for itself.
func (m *Monitor) Handover(from, to int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.clients[from]; ok {
		delete(m.clients, from)
		m.clients[to] = st
	}
}

// AddRestart counts one worker replacement.
func (m *Monitor) AddRestart() {
	m.mu.Lock()
	m.restarts++
	total, restarts := m.totalLocked(), m.restarts
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.Observe(total, restarts)
	}
}

// Total sums the stats of all clients.
func (m *Monitor) Total() ClientStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalLocked()
}

func (m *Monitor) totalLocked() ClientStats {
	var total ClientStats
	for _, c := range m.clients {
		total.Executions += c.Executions
		total.Iterations += c.Iterations
		total.Objectives += c.Objectives
		total.Corpus += c.Corpus
		total.Edges += c.Edges
		total.Phase = c.Phase
	}
	return total
}

// Line renders the current status line.
func (m *Monitor) Line() string {
	m.mu.Lock()
	elapsed := m.now().Sub(m.start)
	clients := len(m.clients)
	total := m.totalLocked()
	restarts := m.restarts
	m.mu.Unlock()
	return FormatLine(m.name, elapsed, clients, total, restarts)
}

// Display logs the status line.
func (m *Monitor) Display() {
	m.log.Info(m.Line())
}

// FormatLine renders a human-readable progress line.
func FormatLine(name string, elapsed time.Duration, clients int, s ClientStats, restarts uint64) string {
	return fmt.Sprintf("[%s] run time: %v, clients: %d, corpus: %d, objectives: %d, iterations: %d, executions: %d, exec/sec: %s, restarts: %d",
		name, elapsed.Truncate(time.Second), clients, s.Corpus, s.Objectives, s.Iterations, s.Executions,
		ExecsPerSec(s.Executions, elapsed), restarts)
}

// ExecsPerSec formats an execution rate the way the status line shows it.
func ExecsPerSec(execs uint64, elapsed time.Duration) string {
	secs := elapsed.Seconds()
	if secs <= 0 {
		return "0"
	}
	rate := float64(execs) / secs
	if rate >= 1000 {
		return fmt.Sprintf("%.1fk", rate/1000)
	}
	return fmt.Sprintf("%.0f", rate)
}
