// Package session implements the two-phase streaming session setup: RTP port
// allocation, SSRC and crypto bookkeeping, and the return-audio demultiplexer
// for two-way audio.
package session

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrNoPorts is returned when the allocator pool is exhausted.
var ErrNoPorts = errors.New("session: port pool exhausted")

// PortAllocator hands out UDP ports from a process-wide pool with exclusive
// ownership per session. Exclusivity is enforced here, not by convention.
type PortAllocator struct {
	mu    sync.Mutex
	min   int
	max   int
	next  int
	inUse map[int]bool
	gauge prometheus.Gauge
}

// NewPortAllocator covers the inclusive range [min, max].
func NewPortAllocator(min, max int) *PortAllocator {
	return &PortAllocator{
		min:   min,
		max:   max,
		next:  min,
		inUse: make(map[int]bool),
	}
}

// Reserve returns an unused port, scanning from the last handout so released
// ports are not immediately recycled.
func (a *PortAllocator) Reserve() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	size := a.max - a.min + 1
	for i := 0; i < size; i++ {
		port := a.next
		a.next++
		if a.next > a.max {
			a.next = a.min
		}
		if !a.inUse[port] {
			a.inUse[port] = true
			if a.gauge != nil {
				a.gauge.Set(float64(len(a.inUse)))
			}
			return port, nil
		}
	}
	return 0, ErrNoPorts
}

// Release returns a port to the pool. Releasing a port that is not reserved
// is a no-op, so teardown paths can release uniformly.
func (a *PortAllocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inUse, port)
	if a.gauge != nil {
		a.gauge.Set(float64(len(a.inUse)))
	}
}

// SetGauge mirrors the reservation count into a metric. Call before handing
// the allocator to the negotiator.
func (a *PortAllocator) SetGauge(g prometheus.Gauge) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gauge = g
	g.Set(float64(len(a.inUse)))
}

// InUse reports the number of currently reserved ports.
func (a *PortAllocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inUse)
}
